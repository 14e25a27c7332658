// Package store persists table snapshots so a table can be rebuilt after a
// process restart.
//
// Gateway implementations are synchronous. The engine never calls them
// directly; it submits states to a Writer, which saves them in the background
// and retries failures without blocking play.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
)

var (
	ErrNotFound    = errors.New("snapshot not found")
	ErrPersistence = errors.New("persistence failure")
)

// TableState is everything needed to rebuild one table.
type TableState struct {
	TableID  string           `json:"tableId"`
	Table    *game.Snapshot   `json:"table"`
	Sessions []session.Record `json:"sessions,omitempty"`
	SavedAt  time.Time        `json:"savedAt"`
}

// Gateway saves and loads table states.
type Gateway interface {
	SaveSnapshot(ctx context.Context, tableID string, state *TableState) error
	// LoadSnapshot returns ErrNotFound when nothing was saved for tableID.
	LoadSnapshot(ctx context.Context, tableID string) (*TableState, error)
}

func encode(state *TableState) ([]byte, error) {
	if state == nil || state.Table == nil {
		return nil, fmt.Errorf("%w: empty table state", ErrPersistence)
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	return b, nil
}

func decode(b []byte) (*TableState, error) {
	var state TableState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrPersistence, err)
	}
	if state.Table == nil {
		return nil, fmt.Errorf("%w: snapshot has no table", ErrPersistence)
	}
	return &state, nil
}

// MemoryStore keeps encoded states in memory. It is used in tests and when
// no durable storage is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, tableID string, state *TableState) error {
	b, err := encode(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[tableID] = b
	return nil
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, tableID string) (*TableState, error) {
	m.mu.RLock()
	b, ok := m.items[tableID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(b)
}
