package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/game"
)

// runner resolves the :id path parameter and a context bounded by the
// request timeout.
func (s *Server) runner(c echo.Context) (*engine.Runner, context.Context, context.CancelFunc, error) {
	r, err := s.reg.Table(c.Param("id"))
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	return r, ctx, cancel, nil
}

// view replies with the table as the caller sees it after the last commit.
func (s *Server) view(c echo.Context, r *engine.Runner) error {
	return c.JSON(http.StatusOK, r.View(playerID(c)))
}

func (s *Server) listTables(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.List())
}

func (s *Server) getTable(c echo.Context) error {
	r, err := s.reg.Table(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) getBlinds(c echo.Context) error {
	r, err := s.reg.Table(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, r.Snapshot().Blinds)
}

func (s *Server) join(c echo.Context) error {
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	view, err := r.Join(ctx, playerID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) takeSeat(c echo.Context) error {
	var req takeSeatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid seat request")
	}
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.TakeSeat(ctx, playerID(c), req.Seat, req.BuyIn); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) reserveSeat(c echo.Context) error {
	var req seatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid seat request")
	}
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.ReserveSeat(ctx, playerID(c), req.Seat); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) changeSeat(c echo.Context) error {
	var req seatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid seat request")
	}
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.ChangeSeat(ctx, playerID(c), req.Seat); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) leaveSeat(c echo.Context) error {
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	cash, err := r.LeaveSeat(ctx, playerID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, leaveResponse{CashOut: cash})
}

func (s *Server) sitOut(c echo.Context) error {
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.SitOut(ctx, playerID(c)); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) sitIn(c echo.Context) error {
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.SitIn(ctx, playerID(c)); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) startHand(c echo.Context) error {
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.StartHand(ctx); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) act(c echo.Context) error {
	var req ActionData
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid action request")
	}
	kind, err := game.ParseAction(req.Action)
	if err != nil {
		return s.fail(c, err)
	}
	r, ctx, cancel, err := s.runner(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer cancel()
	if err := r.Act(ctx, playerID(c), kind, req.Amount); err != nil {
		return s.fail(c, err)
	}
	return s.view(c, r)
}

func (s *Server) handHistory(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	defer cancel()
	actions, err := s.history.HandHistory(ctx, c.Param("hand"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, actions)
}
