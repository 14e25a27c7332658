package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/randutil"
	"github.com/lox/holdemtable/internal/session"
)

const testHarnessKey = "harness-key"

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// newTestServer builds a registry with one six-seat cash table "t1" and a
// server in front of it.
func newTestServer(t *testing.T, harnessKey string) (*Server, *engine.Registry) {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := quietLogger()
	sessions, err := session.NewManager(session.Options{
		Secret: []byte("test-secret"),
		Grace:  20 * time.Second,
		Clock:  clock,
		Logger: logger,
	})
	require.NoError(t, err)
	reg, err := engine.NewRegistry(engine.Options{
		Clock:    clock,
		Logger:   logger,
		Sessions: sessions,
		NewRNG:   func(string) *rand.Rand { return randutil.New(7) },
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	_, err = reg.CreateTable(engine.TableSpec{
		ID:     "t1",
		Config: game.TableConfig{Name: "Table One", Seats: 6, MinBuyIn: 20, MaxBuyIn: 500},
		Mode:   game.CashGame,
		Levels: []game.BlindLevel{{SmallBlind: 1, BigBlind: 2}},
	})
	require.NoError(t, err)

	return New(reg, Options{Logger: logger, HarnessKey: harnessKey}), reg
}

// call performs a request against the handler and returns the recorder.
func call(t *testing.T, s *Server, method, path, player string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, jsonBody(t, body))
	req.Header.Set("Content-Type", "application/json")
	if player != "" {
		req.Header.Set(playerHeader, player)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, body any) io.Reader {
	t.Helper()
	if body == nil {
		return http.NoBody
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seatHeadsUp seats alice in seat 0 and bob in seat 1 with 200 chips each.
func seatHeadsUp(t *testing.T, s *Server) {
	t.Helper()
	for i, p := range []string{"alice", "bob"} {
		rec := call(t, s, http.MethodPost, "/v1/tables/t1/seats", p, takeSeatRequest{Seat: i, BuyIn: 200})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tables/t1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendMessage(t *testing.T, ws *websocket.Conn, typ MessageType, data any) {
	t.Helper()
	msg, err := NewMessage(typ, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(msg))
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ MessageType) *Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deadline, _ := ctx.Deadline()
	require.NoError(t, ws.SetReadDeadline(deadline))
	for {
		var msg Message
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type == typ {
			return &msg
		}
	}
}

func payload[T any](t *testing.T, msg *Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

const (
	testWait = 5 * time.Second
	testTick = 10 * time.Millisecond
)

func actorOf(t *testing.T, s *Server) string {
	t.Helper()
	view := decode[game.TableView](t, call(t, s, http.MethodGet, "/v1/tables/t1", "", nil))
	if view.Hand == nil {
		return ""
	}
	return view.Hand.ActorID
}
