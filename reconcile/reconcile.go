// Package reconcile keeps a connected actor's local list of requests
// consistent despite the feed's weak guarantees: at-least-once delivery,
// missed events across a subscribe race, and duplicates on redelivery. The
// View is the only owner of the local state; ApplyEvent and Reload are its
// only mutators.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/tutorlink/tutorlink/requests"
)

// Loader fetches the authoritative snapshot for the view's actor. Typically
// backed by the GET /api/requests endpoint or the store directly.
type Loader func(ctx context.Context) ([]*requests.SessionRequest, error)

// MeetingFunc is the one-shot side effect fired when a request becomes
// joinable: its row reached accepted with a meeting room assigned.
type MeetingFunc func(requestID, roomID string)

// View is one actor's reconciled set of requests.
type View struct {
	load      Loader
	onMeeting MeetingFunc

	mu   sync.Mutex
	rows map[string]*requests.SessionRequest
	// joined records the (requestID -> roomID) pairs whose meeting trigger
	// already fired, so duplicate updates cannot re-fire it.
	joined map[string]string
}

// Option configures a View.
type Option func(*View)

// WithMeetingFunc registers the join-meeting side effect.
func WithMeetingFunc(fn MeetingFunc) Option {
	return func(v *View) { v.onMeeting = fn }
}

// NewView constructs an empty view. Call Reload once after connecting to
// seed it with baseline truth.
func NewView(load Loader, opts ...Option) *View {
	v := &View{
		load:   load,
		rows:   make(map[string]*requests.SessionRequest),
		joined: make(map[string]string),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Reload replaces local state with the authoritative snapshot. Anything the
// feed missed, duplicated, or reordered is healed here. Meeting triggers
// fire for accepted rows discovered by the reload, subject to the same
// once-per-(request, room) rule as event application.
func (v *View) Reload(ctx context.Context) error {
	rows, err := v.load(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.rows = make(map[string]*requests.SessionRequest, len(rows))
	for _, row := range rows {
		v.rows[row.ID] = row.Clone()
	}
	// Trigger records for rows the snapshot no longer contains are stale;
	// drop them so the joined set tracks the live row set.
	for id := range v.joined {
		if _, ok := v.rows[id]; !ok {
			delete(v.joined, id)
		}
	}
	fire := v.collectTriggersLocked()
	v.mu.Unlock()

	v.fire(fire)
	return nil
}

// ApplyEvent folds one feed event into the view. Application is idempotent
// by row id: duplicate inserts are ignored, updates upsert (an update whose
// insert was missed still lands), deletes of unknown ids are no-ops.
func (v *View) ApplyEvent(change requests.Change) {
	v.mu.Lock()
	switch change.Op {
	case requests.OpInsert:
		if change.New != nil {
			if _, exists := v.rows[change.New.ID]; !exists {
				v.rows[change.New.ID] = change.New.Clone()
			}
		}
	case requests.OpUpdate:
		if change.New != nil {
			v.rows[change.New.ID] = change.New.Clone()
		}
	case requests.OpDelete:
		if change.Old != nil {
			delete(v.rows, change.Old.ID)
			delete(v.joined, change.Old.ID)
		}
	}
	fire := v.collectTriggersLocked()
	v.mu.Unlock()

	v.fire(fire)
}

type trigger struct {
	requestID string
	roomID    string
}

// collectTriggersLocked marks accepted rows with a fresh room id as joined
// and returns the triggers to fire outside the lock.
func (v *View) collectTriggersLocked() []trigger {
	if v.onMeeting == nil {
		return nil
	}
	var out []trigger
	for id, row := range v.rows {
		if row.Status != requests.StatusAccepted || row.MeetingRoomID == "" {
			continue
		}
		if v.joined[id] == row.MeetingRoomID {
			continue
		}
		v.joined[id] = row.MeetingRoomID
		out = append(out, trigger{requestID: id, roomID: row.MeetingRoomID})
	}
	return out
}

func (v *View) fire(ts []trigger) {
	for _, t := range ts {
		v.onMeeting(t.requestID, t.roomID)
	}
}

// Requests returns a snapshot of the view, newest first.
func (v *View) Requests() []*requests.SessionRequest {
	v.mu.Lock()
	out := make([]*requests.SessionRequest, 0, len(v.rows))
	for _, row := range v.rows {
		out = append(out, row.Clone())
	}
	v.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns the view's copy of one request, if known.
func (v *View) Get(id string) (*requests.SessionRequest, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	row, ok := v.rows[id]
	return row.Clone(), ok
}

// Len reports the number of rows in the view.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rows)
}
