package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lox/holdemtable/internal/game"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS holdem_tables (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		config_json JSON NOT NULL,
		button INT NOT NULL,
		hand_count INT NOT NULL,
		bought_in BIGINT NOT NULL,
		cashed_out BIGINT NOT NULL,
		unavailable VARCHAR(255) NOT NULL DEFAULT '',
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS holdem_seats (
		table_id VARCHAR(64) NOT NULL,
		seat_index INT NOT NULL,
		state VARCHAR(16) NOT NULL,
		player_id VARCHAR(128) NOT NULL DEFAULT '',
		stack BIGINT NOT NULL,
		sitting_out BOOL NOT NULL,
		posted_dead_blind BOOL NOT NULL,
		PRIMARY KEY (table_id, seat_index)
	)`,
	`CREATE TABLE IF NOT EXISTS holdem_hands (
		id CHAR(36) PRIMARY KEY,
		table_id VARCHAR(64) NOT NULL,
		number INT NOT NULL,
		phase VARCHAR(16) NOT NULL,
		board VARCHAR(32) NOT NULL,
		state_json JSON NOT NULL,
		started_at DATETIME(6) NOT NULL,
		KEY holdem_hands_table (table_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS holdem_actions (
		hand_id CHAR(36) NOT NULL,
		seq INT NOT NULL,
		seat INT NOT NULL,
		player_id VARCHAR(128) NOT NULL,
		street VARCHAR(16) NOT NULL,
		kind VARCHAR(24) NOT NULL,
		amount BIGINT NOT NULL,
		pot_after BIGINT NOT NULL,
		at DATETIME(6) NOT NULL,
		PRIMARY KEY (hand_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS holdem_sessions (
		table_id VARCHAR(64) NOT NULL,
		player_id VARCHAR(128) NOT NULL,
		session_id CHAR(36) NOT NULL,
		status VARCHAR(16) NOT NULL,
		connected_since DATETIME(6) NULL,
		disconnected_since DATETIME(6) NULL,
		grace_deadline DATETIME(6) NULL,
		PRIMARY KEY (table_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS holdem_snapshots (
		table_id VARCHAR(64) PRIMARY KEY,
		body LONGBLOB NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
}

// MySQLStore persists table state in MySQL. Relational rows for tables,
// seats, hands, actions and sessions are written alongside the full JSON
// snapshot in a single transaction; restores read the snapshot.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL connects using dsn, forcing parseTime and UTC, and verifies the
// connection.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping mysql: %w", ErrPersistence, err)
	}
	return NewMySQLStore(db), nil
}

// NewMySQLStore wraps an open database.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", ErrPersistence, err)
		}
	}
	return nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) SaveSnapshot(ctx context.Context, tableID string, state *TableState) error {
	body, err := encode(state)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer tx.Rollback()

	if err := saveRows(ctx, tx, tableID, state); err != nil {
		return fmt.Errorf("%w: table %s: %w", ErrPersistence, tableID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holdem_snapshots (table_id, body, updated_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = VALUES(updated_at)`,
		tableID, body, state.SavedAt.UTC(),
	); err != nil {
		return fmt.Errorf("%w: snapshot %s: %w", ErrPersistence, tableID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

func saveRows(ctx context.Context, tx *sql.Tx, tableID string, state *TableState) error {
	snap := state.Table
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holdem_tables (id, name, config_json, button, hand_count, bought_in, cashed_out, unavailable, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE name = VALUES(name), config_json = VALUES(config_json), button = VALUES(button),
		   hand_count = VALUES(hand_count), bought_in = VALUES(bought_in), cashed_out = VALUES(cashed_out),
		   unavailable = VALUES(unavailable), updated_at = VALUES(updated_at)`,
		tableID, snap.Config.Name, cfg, snap.Button, snap.HandCount, snap.BoughtIn, snap.CashedOut,
		snap.Unavailable, state.SavedAt.UTC(),
	); err != nil {
		return fmt.Errorf("tables: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM holdem_seats WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("seats: %w", err)
	}
	for _, seat := range snap.Seats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holdem_seats (table_id, seat_index, state, player_id, stack, sitting_out, posted_dead_blind)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tableID, seat.Index, seat.State.String(), seat.PlayerID, seat.Stack, seat.SittingOut, seat.PostedDeadBlind,
		); err != nil {
			return fmt.Errorf("seat %d: %w", seat.Index, err)
		}
	}

	if h := snap.Hand; h != nil {
		if err := saveHand(ctx, tx, tableID, h); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM holdem_sessions WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	for _, r := range state.Sessions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holdem_sessions (table_id, player_id, session_id, status, connected_since, disconnected_since, grace_deadline)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tableID, r.PlayerID, r.SessionID, r.Status.String(),
			nullTime(r.ConnectedSince), nullTime(r.DisconnectedSince), nullTime(r.GraceDeadline),
		); err != nil {
			return fmt.Errorf("session %s: %w", r.PlayerID, err)
		}
	}
	return nil
}

func saveHand(ctx context.Context, tx *sql.Tx, tableID string, h *game.Hand) error {
	state, err := json.Marshal(h)
	if err != nil {
		return err
	}
	board := make([]string, len(h.Board))
	for i, c := range h.Board {
		board[i] = c.String()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holdem_hands (id, table_id, number, phase, board, state_json, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE phase = VALUES(phase), board = VALUES(board), state_json = VALUES(state_json)`,
		h.ID, tableID, h.Number, h.Phase.String(), strings.Join(board, " "), state, h.StartedAt.UTC(),
	); err != nil {
		return fmt.Errorf("hand %d: %w", h.Number, err)
	}
	for _, a := range h.History {
		if _, err := tx.ExecContext(ctx,
			`INSERT IGNORE INTO holdem_actions (hand_id, seq, seat, player_id, street, kind, amount, pot_after, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, a.Seq, a.Seat, a.PlayerID, a.Street.String(), a.Kind.String(), a.Amount, a.PotAfter, a.At.UTC(),
		); err != nil {
			return fmt.Errorf("action %d: %w", a.Seq, err)
		}
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func (s *MySQLStore) LoadSnapshot(ctx context.Context, tableID string) (*TableState, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM holdem_snapshots WHERE table_id = ?`, tableID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrPersistence, tableID, err)
	}
	return decode(body)
}

// HandHistory returns the recorded actions of one hand in order, or
// ErrNotFound for a hand that was never saved.
func (s *MySQLStore) HandHistory(ctx context.Context, handID string) ([]game.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, seat, player_id, street, kind, amount, pot_after, at
		 FROM holdem_actions WHERE hand_id = ? ORDER BY seq`, handID)
	if err != nil {
		return nil, fmt.Errorf("%w: history %s: %w", ErrPersistence, handID, err)
	}
	defer rows.Close()

	var out []game.ActionRecord
	for rows.Next() {
		var (
			a            game.ActionRecord
			street, kind string
		)
		if err := rows.Scan(&a.Seq, &a.Seat, &a.PlayerID, &street, &kind, &a.Amount, &a.PotAfter, &a.At); err != nil {
			return nil, fmt.Errorf("%w: scan action: %w", ErrPersistence, err)
		}
		if err := a.Street.UnmarshalText([]byte(street)); err != nil {
			return nil, err
		}
		if err := a.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: history %s: %w", ErrPersistence, handID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: hand %s", ErrNotFound, handID)
	}
	return out, nil
}
