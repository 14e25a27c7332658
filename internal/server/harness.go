package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lox/holdemtable/poker"
)

// The harness routes drive a table into exact states for automated tests.

func (s *Server) injectDeck(c echo.Context) error {
	var req injectDeckRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid deck request")
	}
	cards, err := poker.ParseCards(req.Cards...)
	if err != nil {
		return badRequest(c, err.Error())
	}
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.InjectDeck(ctx, cards); err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("Deck injected", "table", r.ID(), "cards", len(cards))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) forceStreet(c echo.Context) error {
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.ForceStreetCompletion(ctx); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, r.View(""))
}

func (s *Server) setBlindLevel(c echo.Context) error {
	var req blindLevelRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid blind level request")
	}
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.SetBlindLevel(ctx, req.Level); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, r.Snapshot().Blinds)
}
