package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlink/tutorlink/requests"
)

func row(id string, status requests.Status, roomID string, at time.Time) *requests.SessionRequest {
	return &requests.SessionRequest{
		ID:            id,
		RequesterID:   "alice",
		ProviderID:    "prof-x",
		Topic:         "Physics",
		Status:        status,
		MeetingRoomID: roomID,
		CreatedAt:     at,
	}
}

func staticLoader(rows ...*requests.SessionRequest) Loader {
	return func(context.Context) ([]*requests.SessionRequest, error) {
		return rows, nil
	}
}

func TestReloadSeedsBaseline(t *testing.T) {
	now := time.Now().UTC()
	v := NewView(staticLoader(
		row("r1", requests.StatusPending, "", now.Add(-time.Minute)),
		row("r2", requests.StatusPending, "", now),
	))
	require.NoError(t, v.Reload(context.Background()))

	rows := v.Requests()
	require.Len(t, rows, 2)
	assert.Equal(t, "r2", rows[0].ID)
	assert.Equal(t, "r1", rows[1].ID)
}

func TestInsertIdempotent(t *testing.T) {
	v := NewView(staticLoader())
	now := time.Now().UTC()

	ev := requests.Change{Op: requests.OpInsert, New: row("r1", requests.StatusPending, "", now)}
	v.ApplyEvent(ev)
	v.ApplyEvent(ev)

	assert.Equal(t, 1, v.Len())
}

// A stale duplicate insert must not resurrect data over a newer update.
func TestStaleInsertDoesNotOverwrite(t *testing.T) {
	v := NewView(staticLoader())
	now := time.Now().UTC()

	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: row("r1", requests.StatusPending, "", now)})
	v.ApplyEvent(requests.Change{Op: requests.OpUpdate,
		Old: row("r1", requests.StatusPending, "", now),
		New: row("r1", requests.StatusAccepted, "room-1", now)})
	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: row("r1", requests.StatusPending, "", now)})

	got, ok := v.Get("r1")
	require.True(t, ok)
	assert.Equal(t, requests.StatusAccepted, got.Status)
	assert.Equal(t, "room-1", got.MeetingRoomID)
}

func TestUpdateActsAsUpsertWhenInsertMissed(t *testing.T) {
	v := NewView(staticLoader())
	now := time.Now().UTC()

	v.ApplyEvent(requests.Change{Op: requests.OpUpdate,
		Old: row("r1", requests.StatusPending, "", now),
		New: row("r1", requests.StatusAccepted, "room-1", now)})

	got, ok := v.Get("r1")
	require.True(t, ok)
	assert.Equal(t, requests.StatusAccepted, got.Status)
}

func TestUpdateAppliedTwiceIsStable(t *testing.T) {
	v := NewView(staticLoader())
	now := time.Now().UTC()

	ev := requests.Change{Op: requests.OpUpdate,
		Old: row("r1", requests.StatusPending, "", now),
		New: row("r1", requests.StatusAccepted, "room-1", now)}
	v.ApplyEvent(ev)
	once := v.Requests()
	v.ApplyEvent(ev)
	twice := v.Requests()

	assert.Equal(t, once, twice)
}

func TestDeleteIdempotent(t *testing.T) {
	v := NewView(staticLoader())
	now := time.Now().UTC()

	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: row("r1", requests.StatusPending, "", now)})
	del := requests.Change{Op: requests.OpDelete, Old: row("r1", requests.StatusPending, "", now)}
	v.ApplyEvent(del)
	v.ApplyEvent(del)

	assert.Equal(t, 0, v.Len())

	// Deleting an id that was never known is a no-op too.
	v.ApplyEvent(requests.Change{Op: requests.OpDelete, Old: row("ghost", requests.StatusPending, "", now)})
	assert.Equal(t, 0, v.Len())
}

func TestMeetingTriggerFiresOncePerRoom(t *testing.T) {
	var fired []string
	v := NewView(staticLoader(), WithMeetingFunc(func(requestID, roomID string) {
		fired = append(fired, requestID+"/"+roomID)
	}))
	now := time.Now().UTC()

	accepted := requests.Change{Op: requests.OpUpdate,
		Old: row("r1", requests.StatusPending, "", now),
		New: row("r1", requests.StatusAccepted, "room-1", now)}

	v.ApplyEvent(accepted)
	v.ApplyEvent(accepted)
	v.ApplyEvent(accepted)

	assert.Equal(t, []string{"r1/room-1"}, fired)
}

func TestMeetingTriggerNotFiredForPending(t *testing.T) {
	var fired []string
	v := NewView(staticLoader(), WithMeetingFunc(func(requestID, roomID string) {
		fired = append(fired, requestID)
	}))
	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: row("r1", requests.StatusPending, "", time.Now().UTC())})
	assert.Empty(t, fired)
}

func TestReloadFiresTriggerForDiscoveredAcceptance(t *testing.T) {
	var fired []string
	now := time.Now().UTC()
	v := NewView(staticLoader(row("r1", requests.StatusAccepted, "room-1", now)),
		WithMeetingFunc(func(requestID, roomID string) {
			fired = append(fired, requestID+"/"+roomID)
		}))

	require.NoError(t, v.Reload(context.Background()))
	assert.Equal(t, []string{"r1/room-1"}, fired)

	// The event describing the same acceptance arrives later; no re-fire.
	v.ApplyEvent(requests.Change{Op: requests.OpUpdate,
		Old: row("r1", requests.StatusPending, "", now),
		New: row("r1", requests.StatusAccepted, "room-1", now)})
	assert.Len(t, fired, 1)
}

func TestReloadSupersedesLocalState(t *testing.T) {
	now := time.Now().UTC()
	rows := []*requests.SessionRequest{row("r2", requests.StatusPending, "", now)}
	v := NewView(func(context.Context) ([]*requests.SessionRequest, error) {
		return rows, nil
	})

	// Local state diverged: r1 was deleted server-side but the delete event
	// was missed.
	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: row("r1", requests.StatusPending, "", now)})
	require.NoError(t, v.Reload(context.Background()))

	_, ok := v.Get("r1")
	assert.False(t, ok)
	_, ok = v.Get("r2")
	assert.True(t, ok)
}

func TestLoaderErrorPropagates(t *testing.T) {
	v := NewView(func(context.Context) ([]*requests.SessionRequest, error) {
		return nil, context.DeadlineExceeded
	})
	require.Error(t, v.Reload(context.Background()))
}

// Deleting a row must clear its trigger record: if the same id is later
// accepted again, the meeting fires again rather than being swallowed by a
// stale joined entry.
func TestDeletePrunesTriggerRecord(t *testing.T) {
	var fired []string
	v := NewView(staticLoader(), WithMeetingFunc(func(requestID, roomID string) {
		fired = append(fired, requestID+"/"+roomID)
	}))
	now := time.Now().UTC()

	accepted := row("r1", requests.StatusAccepted, "room-1", now)
	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: accepted})
	require.Equal(t, []string{"r1/room-1"}, fired)

	v.ApplyEvent(requests.Change{Op: requests.OpDelete, Old: accepted})
	assert.Equal(t, 0, v.Len())

	v.ApplyEvent(requests.Change{Op: requests.OpInsert, New: accepted})
	assert.Equal(t, []string{"r1/room-1", "r1/room-1"}, fired)
}

// Reload drops trigger records for rows the snapshot no longer contains,
// so the joined set cannot grow past the live row set on a long-lived view.
func TestReloadPrunesStaleTriggerRecords(t *testing.T) {
	now := time.Now().UTC()
	snapshot := []*requests.SessionRequest{row("r1", requests.StatusAccepted, "room-1", now)}
	load := func(context.Context) ([]*requests.SessionRequest, error) { return snapshot, nil }

	var fired []string
	v := NewView(load, WithMeetingFunc(func(requestID, roomID string) {
		fired = append(fired, requestID+"/"+roomID)
	}))

	require.NoError(t, v.Reload(context.Background()))
	require.Equal(t, []string{"r1/room-1"}, fired)

	// The row is gone server-side; the next reload prunes its record.
	snapshot = nil
	require.NoError(t, v.Reload(context.Background()))
	assert.Equal(t, 0, v.Len())

	// A fresh acceptance of the same id and room fires again.
	snapshot = []*requests.SessionRequest{row("r1", requests.StatusAccepted, "room-1", now)}
	require.NoError(t, v.Reload(context.Background()))
	assert.Equal(t, []string{"r1/room-1", "r1/room-1"}, fired)
}
