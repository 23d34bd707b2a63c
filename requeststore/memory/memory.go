// Package memory provides an in-memory requeststore.Store backed by a map
// and a buffered change channel. It is suitable for single-node deployments
// and tests.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/tutorlink/tutorlink/requests"
	"github.com/tutorlink/tutorlink/requeststore"
)

const feedBuffer = 256

// Store implements requeststore.Store. Rows are deep-copied on the way in
// and out so callers never share memory with the store.
type Store struct {
	mu     sync.Mutex
	rows   map[string]*requests.SessionRequest
	feed   chan requests.Change
	closed bool
}

func New() *Store {
	return &Store{
		rows: make(map[string]*requests.SessionRequest),
		feed: make(chan requests.Change, feedBuffer),
	}
}

func (s *Store) Create(ctx context.Context, row *requests.SessionRequest) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return requests.ErrUnavailable
	}
	s.rows[row.ID] = row.Clone()
	s.emitLocked(requests.Change{Op: requests.OpInsert, New: row.Clone()})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*requests.SessionRequest, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, requests.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, id string, expected requests.Status, patch requeststore.Patch) (*requests.SessionRequest, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, requests.ErrUnavailable
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, requests.ErrNotFound
	}
	if row.Status != expected {
		return nil, requests.ErrInvalidState
	}
	old := row.Clone()
	row.Status = patch.Status
	row.MeetingRoomID = patch.MeetingRoomID
	s.emitLocked(requests.Change{Op: requests.OpUpdate, Old: old, New: row.Clone()})
	return row.Clone(), nil
}

func (s *Store) ConditionalDelete(ctx context.Context, id string, expected requests.Status) (*requests.SessionRequest, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, requests.ErrUnavailable
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, requests.ErrNotFound
	}
	if row.Status != expected {
		return nil, requests.ErrInvalidState
	}
	delete(s.rows, id)
	s.emitLocked(requests.Change{Op: requests.OpDelete, Old: row.Clone()})
	return row.Clone(), nil
}

func (s *Store) ListByActor(ctx context.Context, actorID string, role requests.Role) ([]*requests.SessionRequest, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*requests.SessionRequest
	for _, row := range s.rows {
		switch role {
		case requests.RoleRequester:
			if row.RequesterID == actorID {
				out = append(out, row.Clone())
			}
		case requests.RoleProvider:
			if row.ProviderID == actorID {
				out = append(out, row.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) Changes() <-chan requests.Change {
	return s.feed
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.feed)
	return nil
}

// emitLocked pushes a change onto the feed while holding the store mutex so
// feed order matches mutation order. A full buffer means the consumer is
// gone or stalled; the change is dropped rather than wedging every mutation
// behind the send. Reconnecting clients heal the gap with a full reload.
func (s *Store) emitLocked(c requests.Change) {
	select {
	case s.feed <- c:
	default:
		slog.Warn("store.feed.drop", slog.String("op", string(c.Op)))
	}
}

var _ requeststore.Store = (*Store)(nil)
