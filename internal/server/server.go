// Package server exposes the table engine over HTTP: request/response routes
// for table operations, a WebSocket push channel carrying the full table
// state after every change, and a key-guarded harness for test automation.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/game"
)

const (
	playerHeader  = "X-Player-ID"
	harnessHeader = "X-Harness-Key"
)

// Options configures a Server.
type Options struct {
	Logger *log.Logger
	// HarnessKey enables the /harness routes when non-empty.
	HarnessKey string
	// RequestTimeout bounds how long a request waits for its table.
	RequestTimeout time.Duration
	// History serves archived hand actions when the store keeps them.
	History HistoryReader
}

// HistoryReader looks up the action log of a finished or running hand.
type HistoryReader interface {
	HandHistory(ctx context.Context, handID string) ([]game.ActionRecord, error)
}

// Server is the HTTP front end of a Registry.
type Server struct {
	echo       *echo.Echo
	reg        *engine.Registry
	logger     *log.Logger
	upgrader   websocket.Upgrader
	harnessKey string
	timeout    time.Duration
	history    HistoryReader

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// New builds the server and registers every route.
func New(reg *engine.Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		echo:   echo.New(),
		reg:    reg,
		logger: opts.Logger.WithPrefix("server"),
		upgrader: websocket.Upgrader{
			// Origin checks belong to the fronting proxy.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		harnessKey: opts.HarnessKey,
		timeout:    opts.RequestTimeout,
		history:    opts.History,
		conns:      make(map[*Connection]struct{}),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	v1 := s.echo.Group("/v1")
	v1.GET("/tables", s.listTables)
	v1.GET("/tables/:id", s.getTable)
	v1.GET("/tables/:id/blinds", s.getBlinds)
	v1.GET("/tables/:id/ws", s.handleWebSocket)
	if s.history != nil {
		v1.GET("/hands/:hand/actions", s.handHistory)
	}

	player := v1.Group("/tables/:id", requirePlayer)
	player.POST("/join", s.join)
	player.POST("/seats", s.takeSeat)
	player.POST("/seats/reserve", s.reserveSeat)
	player.POST("/seats/change", s.changeSeat)
	player.DELETE("/seats", s.leaveSeat)
	player.POST("/sit-out", s.sitOut)
	player.POST("/sit-in", s.sitIn)
	player.POST("/hands", s.startHand)
	player.POST("/actions", s.act)

	if s.harnessKey == "" {
		return
	}
	harness := s.echo.Group("/harness/tables/:id", s.requireHarnessKey)
	harness.POST("/deck", s.injectDeck)
	harness.POST("/force-street", s.forceStreet)
	harness.POST("/blind-level", s.setBlindLevel)
}

// requirePlayer takes the caller's identity from the header set by the
// upstream authentication layer.
func requirePlayer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get(playerHeader) == "" {
			status, code := classify(errNoPlayer)
			return c.JSON(status, ErrorData{Code: code, Message: errNoPlayer.Error()})
		}
		return next(c)
	}
}

func playerID(c echo.Context) string {
	return c.Request().Header.Get(playerHeader)
}

func (s *Server) requireHarnessKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get(harnessHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.harnessKey)) != 1 {
			s.logger.Warn("Harness request rejected", "remote", c.RealIP(), "path", c.Path())
			return c.JSON(http.StatusForbidden, ErrorData{Code: "forbidden", Message: "harness key required"})
		}
		return next(c)
	}
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.echo }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
// and closes every WebSocket.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.closeConnections()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) track(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeConnections() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
