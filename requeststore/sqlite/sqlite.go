// Package sqlite provides a durable requeststore.Store on SQLite via the
// pure-Go modernc.org/sqlite driver. Change events are emitted in-process
// after the owning transaction commits, preserving per-row order because all
// mutations are serialized through a single writer lock.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tutorlink/tutorlink/requests"
	"github.com/tutorlink/tutorlink/requeststore"
)

const schemaVersion = 1

const feedBuffer = 256

// Store implements requeststore.Store.
type Store struct {
	db *sql.DB

	// writeMu serializes mutations so the order of committed writes matches
	// the order of emitted change events.
	writeMu sync.Mutex

	closeMu sync.Mutex
	feed    chan requests.Change
	closed  bool
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY between the connections of a pool.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	s := &Store{db: db, feed: make(chan requests.Change, feedBuffer)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("request store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS session_requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		requester_name TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		provider_name TEXT NOT NULL,
		topic TEXT NOT NULL,
		status TEXT NOT NULL,
		meeting_room_id TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_requester ON session_requests(requester_id, created_at_ms);
	CREATE INDEX IF NOT EXISTS idx_requests_provider ON session_requests(provider_id, created_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

const rowColumns = "id, requester_id, requester_name, provider_id, provider_name, topic, status, meeting_room_id, created_at_ms"

func scanRow(sc interface{ Scan(...any) error }) (*requests.SessionRequest, error) {
	var row requests.SessionRequest
	var createdMs int64
	var status string
	if err := sc.Scan(&row.ID, &row.RequesterID, &row.RequesterName, &row.ProviderID, &row.ProviderName, &row.Topic, &status, &row.MeetingRoomID, &createdMs); err != nil {
		return nil, err
	}
	row.Status = requests.Status(status)
	row.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &row, nil
}

func (s *Store) Create(ctx context.Context, row *requests.SessionRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO session_requests ("+rowColumns+") VALUES (?,?,?,?,?,?,?,?,?)",
		row.ID, row.RequesterID, row.RequesterName, row.ProviderID, row.ProviderName,
		row.Topic, string(row.Status), row.MeetingRoomID, row.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	s.emit(requests.Change{Op: requests.OpInsert, New: row.Clone()})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*requests.SessionRequest, error) {
	row, err := scanRow(s.db.QueryRowContext(ctx,
		"SELECT "+rowColumns+" FROM session_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, requests.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	return row, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, id string, expected requests.Status, patch requeststore.Patch) (*requests.SessionRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanRow(tx.QueryRowContext(ctx,
		"SELECT "+rowColumns+" FROM session_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, requests.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE session_requests SET status = ?, meeting_room_id = ? WHERE id = ? AND status = ?",
		string(patch.Status), patch.MeetingRoomID, id, string(expected))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	if n == 0 {
		return nil, requests.ErrInvalidState
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}

	updated := old.Clone()
	updated.Status = patch.Status
	updated.MeetingRoomID = patch.MeetingRoomID
	s.emit(requests.Change{Op: requests.OpUpdate, Old: old, New: updated.Clone()})
	return updated, nil
}

func (s *Store) ConditionalDelete(ctx context.Context, id string, expected requests.Status) (*requests.SessionRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanRow(tx.QueryRowContext(ctx,
		"SELECT "+rowColumns+" FROM session_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, requests.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM session_requests WHERE id = ? AND status = ?", id, string(expected))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	if n == 0 {
		return nil, requests.ErrInvalidState
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}

	s.emit(requests.Change{Op: requests.OpDelete, Old: old.Clone()})
	return old, nil
}

func (s *Store) ListByActor(ctx context.Context, actorID string, role requests.Role) ([]*requests.SessionRequest, error) {
	col := "requester_id"
	if role == requests.RoleProvider {
		col = "provider_id"
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+rowColumns+" FROM session_requests WHERE "+col+" = ? ORDER BY created_at_ms DESC, id DESC", actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*requests.SessionRequest
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	return out, nil
}

func (s *Store) Changes() <-chan requests.Change {
	return s.feed
}

func (s *Store) Close() error {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.feed)
	}
	s.closeMu.Unlock()
	return s.db.Close()
}

// emit forwards a committed change to the feed. A full buffer means the
// consumer is gone or stalled; the change is dropped rather than blocking
// the mutation (and Close) behind the send. Reconnecting clients heal the
// gap with a full reload.
func (s *Store) emit(c requests.Change) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.feed <- c:
	default:
		slog.Warn("store.feed.drop", slog.String("op", string(c.Op)))
	}
}

var _ requeststore.Store = (*Store)(nil)
