package server

import (
	"encoding/json"
	"time"
)

// MessageType names a WebSocket message.
type MessageType string

const (
	// Client to server.
	MessageTypeHello  MessageType = "hello"
	MessageTypeAction MessageType = "action"

	// Server to client.
	MessageTypeSession    MessageType = "session"
	MessageTypeTableState MessageType = "table_state"
	MessageTypeError      MessageType = "error"
)

func (mt MessageType) String() string { return string(mt) }

// Message is the envelope for every WebSocket message.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// HelloData opens a connection. A reconnect token resumes a session; a
// player id starts a fresh one; neither subscribes as a spectator.
type HelloData struct {
	PlayerID       string `json:"playerId,omitempty"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
}

type ActionData struct {
	Action string `json:"action"`
	Amount int    `json:"amount,omitempty"`
}

type SessionData struct {
	SessionID string `json:"sessionId"`
	TableID   string `json:"tableId"`
	PlayerID  string `json:"playerId"`
	Token     string `json:"token"`
	Resumed   bool   `json:"resumed"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// REST request bodies.

type takeSeatRequest struct {
	Seat  int `json:"seat"`
	BuyIn int `json:"buyIn"`
}

type seatRequest struct {
	Seat int `json:"seat"`
}

type leaveResponse struct {
	CashOut int `json:"cashOut"`
}

type injectDeckRequest struct {
	Cards []string `json:"cards"`
}

type blindLevelRequest struct {
	Level int `json:"level"`
}
