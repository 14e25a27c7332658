package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 8192
	sendBuffer     = 64
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection is one WebSocket client attached to a table. It starts as an
// anonymous socket; a hello message binds it to a player session or to the
// spectator feed.
type Connection struct {
	id       string
	conn     *websocket.Conn
	runner   *engine.Runner
	server   *Server
	logger   *log.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	fallback string

	mu       sync.Mutex
	playerID string
	attached bool
	closed   bool
	send     chan *Message
}

func newConnection(s *Server, ws *websocket.Conn, r *engine.Runner, fallback string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Connection{
		id:       id,
		conn:     ws,
		runner:   r,
		server:   s,
		logger:   s.logger.WithPrefix("conn").With("conn", id[:8], "table", r.ID()),
		ctx:      ctx,
		cancel:   cancel,
		fallback: fallback,
		send:     make(chan *Message, sendBuffer),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Connection) setPlayer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = id
}

// Deliver queues a table_state push. A client that cannot keep up is
// disconnected rather than allowed to stall the table.
func (c *Connection) Deliver(view *game.TableView) error {
	msg, err := NewMessage(MessageTypeTableState, view)
	if err != nil {
		return err
	}
	return c.trySend(msg)
}

func (c *Connection) trySend(msg *Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()
	c.logger.Warn("Send buffer full, closing connection", "player", c.PlayerID())
	_ = c.Close()
	return ErrConnectionClosed
}

// Close stops the write pump, which sends a close frame and releases the
// socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	c.cancel()
	return nil
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Connection) readPump() {
	defer c.finish()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("Write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// finish detaches from the table once the socket is gone. A player's session
// enters its grace period; a spectator is simply unsubscribed.
func (c *Connection) finish() {
	_ = c.Close()
	c.server.untrack(c)

	c.mu.Lock()
	attached := c.attached
	c.mu.Unlock()
	if !attached {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.server.timeout)
	defer cancel()
	var err error
	if c.PlayerID() != "" {
		err = c.runner.Disconnect(ctx, c)
	} else {
		err = c.runner.Unsubscribe(ctx, c)
	}
	if err != nil && !errors.Is(err, engine.ErrTableClosed) {
		c.logger.Warn("Detach failed", "player", c.PlayerID(), "error", err)
	}
}

func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "player", c.PlayerID())

	switch msg.Type {
	case MessageTypeHello:
		var data HelloData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError(msg.RequestID, "invalid_message", "failed to parse hello data")
				return
			}
		}
		c.handleHello(msg.RequestID, data)

	case MessageTypeAction:
		var data ActionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse action data")
			return
		}
		c.handleAction(msg.RequestID, data)

	default:
		c.sendError(msg.RequestID, "unknown_message_type", "unknown message type: "+msg.Type.String())
	}
}

func (c *Connection) handleHello(requestID string, data HelloData) {
	c.mu.Lock()
	attached := c.attached
	c.mu.Unlock()
	if attached {
		c.sendError(requestID, "already_connected", "hello already received")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.server.timeout)
	defer cancel()

	var (
		sess    session.Session
		resumed bool
		err     error
	)
	// The upgrade header is set by the auth layer in front of us and always
	// wins over what the client claims.
	switch {
	case c.fallback != "" && data.PlayerID != "" && data.PlayerID != c.fallback:
		err = fmt.Errorf("%w: hello names %q", errIdentityMismatch, data.PlayerID)
	case data.ReconnectToken != "":
		sess, resumed, err = c.resume(ctx, data.ReconnectToken)
	case data.PlayerID != "" || c.fallback != "":
		player := cmp.Or(c.fallback, data.PlayerID)
		c.setPlayer(player)
		sess, err = c.runner.Connect(ctx, player, c)
	default:
		if err := c.runner.Subscribe(ctx, c); err != nil {
			c.sendErr(requestID, err)
			return
		}
		c.markAttached()
		c.logger.Debug("Spectator subscribed")
		return
	}
	if err != nil {
		c.setPlayer("")
		c.sendErr(requestID, err)
		return
	}
	c.markAttached()
	c.logger.Info("Player connected", "player", sess.PlayerID, "resumed", resumed)

	reply, err := NewMessage(MessageTypeSession, SessionData{
		SessionID: sess.ID,
		TableID:   sess.TableID,
		PlayerID:  sess.PlayerID,
		Token:     sess.Token,
		Resumed:   resumed,
	})
	if err != nil {
		c.logger.Error("Failed to encode session", "error", err)
		return
	}
	reply.RequestID = requestID
	_ = c.trySend(reply)
}

// resume reattaches with a reconnect token. A token whose session has
// lapsed still proves the player's identity, so it starts a new session.
func (c *Connection) resume(ctx context.Context, token string) (session.Session, bool, error) {
	key, err := c.server.reg.Sessions().Identify(token)
	if err != nil {
		return session.Session{}, false, err
	}
	if key.TableID != c.runner.ID() {
		return session.Session{}, false, session.ErrInvalidToken
	}
	if c.fallback != "" && key.PlayerID != c.fallback {
		return session.Session{}, false, fmt.Errorf("%w: token issued to %q", errIdentityMismatch, key.PlayerID)
	}
	c.setPlayer(key.PlayerID)
	sess, err := c.runner.Reconnect(ctx, token, c)
	if errors.Is(err, session.ErrSessionExpired) {
		sess, err = c.runner.Connect(ctx, key.PlayerID, c)
		return sess, false, err
	}
	return sess, err == nil, err
}

func (c *Connection) markAttached() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = true
}

func (c *Connection) handleAction(requestID string, data ActionData) {
	player := c.PlayerID()
	if player == "" {
		c.sendError(requestID, "unauthenticated", "send hello with a player id first")
		return
	}
	kind, err := game.ParseAction(data.Action)
	if err != nil {
		c.sendErr(requestID, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.server.timeout)
	defer cancel()
	if err := c.runner.Act(ctx, player, kind, data.Amount); err != nil {
		c.logger.Debug("Action rejected", "player", player, "action", kind, "error", err)
		c.sendErr(requestID, err)
	}
}

func (c *Connection) sendErr(requestID string, err error) {
	data := errorData(err)
	c.sendError(requestID, data.Code, data.Message)
}

func (c *Connection) sendError(requestID, code, message string) {
	msg, err := NewMessage(MessageTypeError, ErrorData{Code: code, Message: message})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	msg.RequestID = requestID
	_ = c.trySend(msg)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	r, err := s.reg.Table(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}
	conn := newConnection(s, ws, r, playerID(c))
	s.track(conn)
	conn.start()
	return nil
}
