package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
)

func TestWebSocketPlayerSession(t *testing.T) {
	s, reg := newTestServer(t, "")
	seatHeadsUp(t, s)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ws := dial(t, ts, nil)
	sendMessage(t, ws, MessageTypeHello, HelloData{PlayerID: "alice"})
	sess := payload[SessionData](t, readUntil(t, ws, MessageTypeSession))
	assert.Equal(t, "t1", sess.TableID)
	assert.Equal(t, "alice", sess.PlayerID)
	assert.NotEmpty(t, sess.Token)
	assert.False(t, sess.Resumed)
	assert.True(t, reg.Sessions().Connected("t1", "alice"))

	rec := call(t, s, http.MethodPost, "/v1/tables/t1/hands", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The push carries alice's own hole cards and nobody else's.
	var view game.TableView
	for view.Hand == nil {
		view = payload[game.TableView](t, readUntil(t, ws, MessageTypeTableState))
	}
	for _, p := range view.Hand.Players {
		if p.PlayerID == "alice" {
			assert.Len(t, p.Hole, 2)
		} else {
			assert.Empty(t, p.Hole)
		}
	}

	if view.Hand.ActorID == "alice" {
		sendMessage(t, ws, MessageTypeAction, ActionData{Action: "call"})
		require.Eventually(t, func() bool { return actorOf(t, s) == "bob" }, testWait, testTick)
		rec = call(t, s, http.MethodPost, "/v1/tables/t1/actions", "bob", ActionData{Action: "check"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	} else {
		sendMessage(t, ws, MessageTypeAction, ActionData{Action: "call"})
		errMsg := payload[ErrorData](t, readUntil(t, ws, MessageTypeError))
		assert.Equal(t, "not_your_turn", errMsg.Code)

		rec = call(t, s, http.MethodPost, "/v1/tables/t1/actions", "bob", ActionData{Action: "call"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		sendMessage(t, ws, MessageTypeAction, ActionData{Action: "check"})
	}
	for view.Hand == nil || view.Hand.Phase != game.PhaseFlop {
		view = payload[game.TableView](t, readUntil(t, ws, MessageTypeTableState))
	}
	assert.Len(t, view.Hand.Board, 3)

	// Dropping the socket leaves the session in its grace period; the token
	// resumes it on a new socket.
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return !reg.Sessions().Connected("t1", "alice")
	}, testWait, testTick)

	ws2 := dial(t, ts, nil)
	sendMessage(t, ws2, MessageTypeHello, HelloData{ReconnectToken: sess.Token})
	resumed := payload[SessionData](t, readUntil(t, ws2, MessageTypeSession))
	assert.True(t, resumed.Resumed)
	assert.Equal(t, sess.SessionID, resumed.SessionID)
	assert.True(t, reg.Sessions().Connected("t1", "alice"))
}

func TestWebSocketSpectator(t *testing.T) {
	s, _ := newTestServer(t, "")
	seatHeadsUp(t, s)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	rec := call(t, s, http.MethodPost, "/v1/tables/t1/hands", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ws := dial(t, ts, nil)
	sendMessage(t, ws, MessageTypeHello, HelloData{})
	view := payload[game.TableView](t, readUntil(t, ws, MessageTypeTableState))
	require.NotNil(t, view.Hand)
	for _, p := range view.Hand.Players {
		assert.Empty(t, p.Hole, "spectators see no hole cards")
	}

	sendMessage(t, ws, MessageTypeAction, ActionData{Action: "fold"})
	assert.Equal(t, "unauthenticated", payload[ErrorData](t, readUntil(t, ws, MessageTypeError)).Code)
}

func TestWebSocketRejectsBadHello(t *testing.T) {
	s, reg := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	t.Run("forged token", func(t *testing.T) {
		ws := dial(t, ts, nil)
		sendMessage(t, ws, MessageTypeHello, HelloData{ReconnectToken: "not-a-token"})
		assert.Equal(t, "invalid_token", payload[ErrorData](t, readUntil(t, ws, MessageTypeError)).Code)
	})

	t.Run("second hello", func(t *testing.T) {
		header := http.Header{}
		header.Set(playerHeader, "carol")
		ws := dial(t, ts, header)
		sendMessage(t, ws, MessageTypeHello, HelloData{})
		sess := payload[SessionData](t, readUntil(t, ws, MessageTypeSession))
		assert.Equal(t, "carol", sess.PlayerID, "identity falls back to the upgrade header")

		sendMessage(t, ws, MessageTypeHello, HelloData{})
		assert.Equal(t, "already_connected", payload[ErrorData](t, readUntil(t, ws, MessageTypeError)).Code)
	})

	t.Run("header identity wins", func(t *testing.T) {
		header := http.Header{}
		header.Set(playerHeader, "mallory")
		ws := dial(t, ts, header)
		sendMessage(t, ws, MessageTypeHello, HelloData{PlayerID: "alice"})
		assert.Equal(t, "identity_mismatch", payload[ErrorData](t, readUntil(t, ws, MessageTypeError)).Code)
		_, ok := reg.Sessions().Get("t1", "alice")
		assert.False(t, ok, "no session for the claimed player")

		owner := dial(t, ts, nil)
		sendMessage(t, owner, MessageTypeHello, HelloData{PlayerID: "dave"})
		token := payload[SessionData](t, readUntil(t, owner, MessageTypeSession)).Token

		sendMessage(t, ws, MessageTypeHello, HelloData{ReconnectToken: token})
		assert.Equal(t, "identity_mismatch", payload[ErrorData](t, readUntil(t, ws, MessageTypeError)).Code)
		dave, ok := reg.Sessions().Get("t1", "dave")
		require.True(t, ok)
		assert.Equal(t, session.Connected, dave.Status)

		sendMessage(t, ws, MessageTypeHello, HelloData{PlayerID: "mallory"})
		assert.Equal(t, "mallory", payload[SessionData](t, readUntil(t, ws, MessageTypeSession)).PlayerID)
	})

	t.Run("unknown table", func(t *testing.T) {
		rec := call(t, s, http.MethodGet, "/v1/tables/nope/ws", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
