// Package requeststore defines the durable row store contract for session
// requests. The store is the source of truth for request state and the
// origin of the per-row ordered change feed consumed by the feed router.
package requeststore

import (
	"context"

	"github.com/tutorlink/tutorlink/requests"
)

// Patch is the only legal mutation shape: a status flip, optionally carrying
// the meeting room id assigned at acceptance.
type Patch struct {
	Status        requests.Status
	MeetingRoomID string
}

// Store is a durable row store with per-row change notifications.
//
// Conditional mutations are single atomic compare-on-status operations: they
// either apply fully and emit exactly one change event, or leave the row
// untouched and return requests.ErrInvalidState (row present in another
// state) or requests.ErrNotFound (row gone). Concurrent transitions on the
// same row are resolved by this atomicity; the loser never observes a
// corrupted row.
type Store interface {
	// Create persists a fully-populated row and emits an insert event.
	// The caller assigns ID and CreatedAt.
	Create(ctx context.Context, row *requests.SessionRequest) error

	// Get returns a copy of the row or requests.ErrNotFound.
	Get(ctx context.Context, id string) (*requests.SessionRequest, error)

	// ConditionalUpdate applies patch iff the row's current status equals
	// expected, returning the post-image and emitting an update event.
	ConditionalUpdate(ctx context.Context, id string, expected requests.Status, patch Patch) (*requests.SessionRequest, error)

	// ConditionalDelete removes the row iff its current status equals
	// expected, returning the pre-image and emitting a delete event.
	ConditionalDelete(ctx context.Context, id string, expected requests.Status) (*requests.SessionRequest, error)

	// ListByActor returns the rows on which actorID holds the given role,
	// newest first.
	ListByActor(ctx context.Context, actorID string, role requests.Role) ([]*requests.SessionRequest, error)

	// Changes exposes the store's change feed. Ordering is guaranteed per
	// row only. The channel is closed by Close.
	Changes() <-chan requests.Change

	// Close releases the store and closes the change feed.
	Close() error
}
