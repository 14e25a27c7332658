// Package session maps durable player identities to live connections and
// keeps a player's seat through short disconnects.
//
// A session moves Connected -> GracePeriod on disconnect and back to Connected
// when the player reconnects with their token before the deadline. If the
// deadline passes the session is Expired and the expiry handler runs once.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidToken   = errors.New("invalid reconnect token")
	ErrNoSession      = errors.New("no such session")
)

// Status is the lifecycle state of a session.
type Status uint8

const (
	Connected Status = iota
	GracePeriod
	Expired
)

var statusNames = [...]string{"connected", "grace_period", "expired"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid session status %d", s)
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("invalid session status %q", text)
}

// Conn is a live connection handle. IDs must be unique per connection.
type Conn interface {
	ID() string
}

// Key identifies a player's session at one table.
type Key struct {
	TableID  string `json:"tableId"`
	PlayerID string `json:"playerId"`
}

// Session is a point-in-time copy of a player's session.
type Session struct {
	Key
	ID                string    `json:"sessionId"`
	Status            Status    `json:"status"`
	Token             string    `json:"token,omitempty"`
	ConnID            string    `json:"connId,omitempty"`
	ConnectedSince    time.Time `json:"connectedSince"`
	DisconnectedSince time.Time `json:"disconnectedSince,omitzero"`
	GraceDeadline     time.Time `json:"graceDeadline,omitzero"`
}

// Record is the persisted form of a session.
type Record struct {
	TableID           string    `json:"tableId"`
	PlayerID          string    `json:"playerId"`
	SessionID         string    `json:"sessionId"`
	Status            Status    `json:"status"`
	ConnectedSince    time.Time `json:"connectedSince"`
	DisconnectedSince time.Time `json:"disconnectedSince,omitzero"`
	GraceDeadline     time.Time `json:"graceDeadline,omitzero"`
}

// ExpireFunc is called, outside the manager's lock, when a grace period runs out.
type ExpireFunc func(tableID, playerID string)

type entry struct {
	Session
	conn  Conn
	gen   uint64
	timer *quartz.Timer
}

// Options configures a Manager.
type Options struct {
	Secret   []byte
	Grace    time.Duration
	TokenTTL time.Duration
	Clock    quartz.Clock
	Logger   *log.Logger
	OnExpire ExpireFunc
}

// Manager tracks sessions for every table. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*entry
	onExpire ExpireFunc

	secret   []byte
	grace    time.Duration
	tokenTTL time.Duration
	clock    quartz.Clock
	logger   *log.Logger
}

const (
	DefaultGrace    = 30 * time.Second
	DefaultTokenTTL = 24 * time.Hour
)

// NewManager returns a manager. A secret is required to sign tokens.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("session: token secret is required")
	}
	m := &Manager{
		sessions: make(map[Key]*entry),
		onExpire: opts.OnExpire,
		secret:   opts.Secret,
		grace:    opts.Grace,
		tokenTTL: opts.TokenTTL,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if m.grace <= 0 {
		m.grace = DefaultGrace
	}
	if m.tokenTTL <= 0 {
		m.tokenTTL = DefaultTokenTTL
	}
	if m.clock == nil {
		m.clock = quartz.NewReal()
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	m.logger = m.logger.WithPrefix("session")
	return m, nil
}

// SetExpireHandler replaces the grace-expiry callback.
func (m *Manager) SetExpireHandler(f ExpireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = f
}

// Grace returns the reconnection window.
func (m *Manager) Grace() time.Duration { return m.grace }

// Connect starts a fresh session for playerID at tableID on conn, replacing
// any previous session and invalidating its token.
func (m *Manager) Connect(tableID, playerID string, conn Conn) (Session, error) {
	key := Key{TableID: tableID, PlayerID: playerID}
	id := uuid.NewString()
	token, err := m.signToken(key, id)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.sessions[key]
	if e != nil {
		m.stopTimer(e)
	} else {
		e = &entry{}
		m.sessions[key] = e
	}
	e.Session = Session{
		Key:            key,
		ID:             id,
		Status:         Connected,
		Token:          token,
		ConnID:         conn.ID(),
		ConnectedSince: m.clock.Now(),
	}
	e.conn = conn
	m.logger.Info("Session connected", "table", tableID, "player", playerID, "conn", conn.ID())
	return e.Session, nil
}

// Disconnect starts the grace period for the session bound to conn. It
// returns false when conn is no longer the player's current connection.
func (m *Manager) Disconnect(tableID, playerID string, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.sessions[Key{TableID: tableID, PlayerID: playerID}]
	if e == nil || e.Status != Connected || e.conn == nil || e.conn.ID() != conn.ID() {
		return false
	}
	now := m.clock.Now()
	e.conn = nil
	e.ConnID = ""
	e.Status = GracePeriod
	e.DisconnectedSince = now
	e.GraceDeadline = now.Add(m.grace)
	m.armGrace(e, m.grace)
	m.logger.Info("Session disconnected", "table", tableID, "player", playerID, "deadline", e.GraceDeadline)
	return true
}

func (m *Manager) armGrace(e *entry, d time.Duration) {
	m.stopTimer(e)
	key, gen := e.Key, e.gen
	e.timer = m.clock.AfterFunc(d, func() { m.expire(key, gen) }, "session", "grace")
}

func (m *Manager) stopTimer(e *entry) {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (m *Manager) expire(key Key, gen uint64) {
	m.mu.Lock()
	e := m.sessions[key]
	if e == nil || e.gen != gen || e.Status != GracePeriod {
		m.mu.Unlock()
		return
	}
	e.Status = Expired
	e.timer = nil
	onExpire := m.onExpire
	m.mu.Unlock()

	m.logger.Warn("Session expired", "table", key.TableID, "player", key.PlayerID)
	if onExpire != nil {
		onExpire(key.TableID, key.PlayerID)
	}
}

// Reconnect resumes the session named by token on conn. A session in its
// grace period is restored; an expired one yields ErrSessionExpired and the
// caller should Connect afresh.
func (m *Manager) Reconnect(token string, conn Conn) (Session, error) {
	claims, err := m.parseToken(token)
	if err != nil {
		return Session{}, err
	}
	key := Key{TableID: claims.TableID, PlayerID: claims.PlayerID}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.sessions[key]
	if e == nil || e.ID != claims.SessionID || e.Status == Expired {
		return Session{}, ErrSessionExpired
	}
	if e.Status == GracePeriod {
		m.stopTimer(e)
		e.Status = Connected
		e.ConnectedSince = m.clock.Now()
		e.GraceDeadline = time.Time{}
		m.logger.Info("Session resumed", "table", key.TableID, "player", key.PlayerID,
			"away", m.clock.Since(e.DisconnectedSince))
	}
	e.conn = conn
	e.ConnID = conn.ID()
	e.Token = token
	return e.Session, nil
}

// Get returns a copy of the session for playerID at tableID.
func (m *Manager) Get(tableID, playerID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.sessions[Key{TableID: tableID, PlayerID: playerID}]
	if e == nil {
		return Session{}, false
	}
	return e.Session, true
}

// Connected reports whether the player currently has a live connection.
func (m *Manager) Connected(tableID, playerID string) bool {
	s, ok := m.Get(tableID, playerID)
	return ok && s.Status == Connected
}

// Remove forgets the session, e.g. when the player leaves the table.
func (m *Manager) Remove(tableID, playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key{TableID: tableID, PlayerID: playerID}
	if e := m.sessions[key]; e != nil {
		m.stopTimer(e)
		delete(m.sessions, key)
	}
}

// Records returns the persistable sessions for tableID.
func (m *Manager) Records(tableID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for key, e := range m.sessions {
		if key.TableID != tableID {
			continue
		}
		out = append(out, Record{
			TableID:           key.TableID,
			PlayerID:          key.PlayerID,
			SessionID:         e.ID,
			Status:            e.Status,
			ConnectedSince:    e.ConnectedSince,
			DisconnectedSince: e.DisconnectedSince,
			GraceDeadline:     e.GraceDeadline,
		})
	}
	return out
}

// Restore reloads persisted sessions after a restart. No connection survives
// a restart, so every live session enters a fresh grace period.
func (m *Manager) Restore(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, r := range records {
		if r.TableID == "" || r.PlayerID == "" || r.SessionID == "" {
			return fmt.Errorf("%w: incomplete session record", ErrNoSession)
		}
		key := Key{TableID: r.TableID, PlayerID: r.PlayerID}
		if old := m.sessions[key]; old != nil {
			m.stopTimer(old)
		}
		e := &entry{Session: Session{
			Key:               key,
			ID:                r.SessionID,
			Status:            r.Status,
			ConnectedSince:    r.ConnectedSince,
			DisconnectedSince: r.DisconnectedSince,
		}}
		m.sessions[key] = e
		if r.Status == Expired {
			continue
		}
		e.Status = GracePeriod
		if e.DisconnectedSince.IsZero() {
			e.DisconnectedSince = now
		}
		e.GraceDeadline = now.Add(m.grace)
		m.armGrace(e, m.grace)
	}
	return nil
}

// Close stops every pending grace timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sessions {
		m.stopTimer(e)
	}
}
