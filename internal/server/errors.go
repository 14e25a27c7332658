package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
	"github.com/lox/holdemtable/internal/store"
)

var (
	errNoPlayer         = errors.New("missing X-Player-ID header")
	errIdentityMismatch = errors.New("identity does not match X-Player-ID header")
)

// classify maps an engine error to an HTTP status and a stable error code.
// More specific errors are checked before the kinds they wrap.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errNoPlayer):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errIdentityMismatch):
		return http.StatusForbidden, "identity_mismatch"
	case errors.Is(err, engine.ErrTableNotFound):
		return http.StatusNotFound, "table_not_found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, game.ErrTableUnavailable), errors.Is(err, engine.ErrTableClosed):
		return http.StatusServiceUnavailable, "table_unavailable"
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusGone, "session_expired"
	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, game.ErrNotYourTurn):
		return http.StatusConflict, "not_your_turn"
	case errors.Is(err, game.ErrWrongPhase):
		return http.StatusConflict, "wrong_phase"
	case errors.Is(err, game.ErrSeatTaken):
		return http.StatusConflict, "seat_taken"
	case errors.Is(err, game.ErrSeatConflict):
		return http.StatusConflict, "seat_conflict"
	case errors.Is(err, game.ErrInsufficientChips):
		return http.StatusUnprocessableEntity, "insufficient_chips"
	case errors.Is(err, game.ErrInvalidBuyIn):
		return http.StatusBadRequest, "invalid_buy_in"
	case errors.Is(err, game.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, game.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action"
	}
	return http.StatusInternalServerError, "internal"
}

func errorData(err error) ErrorData {
	_, code := classify(err)
	return ErrorData{Code: code, Message: err.Error()}
}

func (s *Server) fail(c echo.Context, err error) error {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(status, ErrorData{Code: code, Message: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorData{Code: "bad_request", Message: msg})
}
