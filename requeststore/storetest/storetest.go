// Package storetest provides a reusable conformance suite for
// requeststore.Store implementations. Every backend must pass it.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlink/tutorlink/requests"
	"github.com/tutorlink/tutorlink/requeststore"
)

// Factory builds a fresh, empty store for one subtest. Cleanup is handled
// via t.Cleanup by the factory.
type Factory func(t *testing.T) requeststore.Store

// Run exercises the full Store contract against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, factory(t)) })
	t.Run("ConditionalDelete", func(t *testing.T) { testConditionalDelete(t, factory(t)) })
	t.Run("RoomIDOnlyWhenAccepted", func(t *testing.T) { testRoomInvariant(t, factory(t)) })
	t.Run("ListByActorOrdering", func(t *testing.T) { testListOrdering(t, factory(t)) })
	t.Run("ChangeFeedImages", func(t *testing.T) { testChangeFeedImages(t, factory(t)) })
	t.Run("ConcurrentTransitionRace", func(t *testing.T) { testTransitionRace(t, factory(t)) })
	t.Run("FeedOverflowDoesNotBlock", func(t *testing.T) { testFeedOverflow(t, factory(t)) })
}

func newRow(id, requester, provider, topic string, at time.Time) *requests.SessionRequest {
	return &requests.SessionRequest{
		ID:            id,
		RequesterID:   requester,
		RequesterName: "Requester " + requester,
		ProviderID:    provider,
		ProviderName:  "Provider " + provider,
		Topic:         topic,
		Status:        requests.StatusPending,
		CreatedAt:     at,
	}
}

func drainOne(t *testing.T, ch <-chan requests.Change) requests.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return requests.Change{}
	}
}

func testCreateAndGet(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)
	row := newRow("r1", "alice", "prof-x", "Physics", at)

	require.NoError(t, s.Create(ctx, row))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	// The store must hand out copies, not its own row.
	got.Topic = "mutated"
	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Physics", again.Topic)
}

func testGetMissing(t *testing.T, s requeststore.Store) {
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, requests.ErrNotFound)
}

func testConditionalUpdate(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRow("r1", "alice", "prof-x", "Physics", time.Now().UTC())))

	updated, err := s.ConditionalUpdate(ctx, "r1", requests.StatusPending, requeststore.Patch{
		Status:        requests.StatusAccepted,
		MeetingRoomID: "room-1",
	})
	require.NoError(t, err)
	assert.Equal(t, requests.StatusAccepted, updated.Status)
	assert.Equal(t, "room-1", updated.MeetingRoomID)

	// Re-running the same transition must fail without mutating the row.
	_, err = s.ConditionalUpdate(ctx, "r1", requests.StatusPending, requeststore.Patch{
		Status:        requests.StatusAccepted,
		MeetingRoomID: "room-2",
	})
	require.ErrorIs(t, err, requests.ErrInvalidState)

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.MeetingRoomID)

	_, err = s.ConditionalUpdate(ctx, "missing", requests.StatusPending, requeststore.Patch{Status: requests.StatusAccepted})
	require.ErrorIs(t, err, requests.ErrNotFound)
}

func testConditionalDelete(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRow("r1", "alice", "prof-x", "Physics", time.Now().UTC())))

	old, err := s.ConditionalDelete(ctx, "r1", requests.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, "r1", old.ID)
	assert.Equal(t, requests.StatusPending, old.Status)

	_, err = s.Get(ctx, "r1")
	require.ErrorIs(t, err, requests.ErrNotFound)

	_, err = s.ConditionalDelete(ctx, "r1", requests.StatusPending)
	require.ErrorIs(t, err, requests.ErrNotFound)

	// Accepted rows are durable; a pending-conditioned delete must not touch them.
	require.NoError(t, s.Create(ctx, newRow("r2", "alice", "prof-x", "Math", time.Now().UTC())))
	_, err = s.ConditionalUpdate(ctx, "r2", requests.StatusPending, requeststore.Patch{Status: requests.StatusAccepted, MeetingRoomID: "room-2"})
	require.NoError(t, err)
	_, err = s.ConditionalDelete(ctx, "r2", requests.StatusPending)
	require.ErrorIs(t, err, requests.ErrInvalidState)
	_, err = s.Get(ctx, "r2")
	require.NoError(t, err)
}

func testRoomInvariant(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRow("r1", "alice", "prof-x", "Physics", time.Now().UTC())))

	check := func() {
		t.Helper()
		row, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		if row.Status == requests.StatusAccepted {
			assert.NotEmpty(t, row.MeetingRoomID)
		} else {
			assert.Empty(t, row.MeetingRoomID)
		}
	}

	check()
	_, err := s.ConditionalUpdate(ctx, "r1", requests.StatusPending, requeststore.Patch{Status: requests.StatusAccepted, MeetingRoomID: "room-1"})
	require.NoError(t, err)
	check()
}

func testListOrdering(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		row := newRow(fmt.Sprintf("r%d", i), "alice", "prof-x", "Physics", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Create(ctx, row))
	}
	require.NoError(t, s.Create(ctx, newRow("other", "bob", "prof-y", "Math", base)))

	rows, err := s.ListByActor(ctx, "alice", requests.RoleRequester)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "r2", rows[0].ID)
	assert.Equal(t, "r1", rows[1].ID)
	assert.Equal(t, "r0", rows[2].ID)

	rows, err = s.ListByActor(ctx, "prof-y", requests.RoleProvider)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "other", rows[0].ID)

	rows, err = s.ListByActor(ctx, "nobody", requests.RoleRequester)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testChangeFeedImages(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	feed := s.Changes()

	require.NoError(t, s.Create(ctx, newRow("r1", "alice", "prof-x", "Physics", time.Now().UTC())))
	ev := drainOne(t, feed)
	assert.Equal(t, requests.OpInsert, ev.Op)
	require.NotNil(t, ev.New)
	assert.Nil(t, ev.Old)
	assert.Equal(t, requests.StatusPending, ev.New.Status)

	_, err := s.ConditionalUpdate(ctx, "r1", requests.StatusPending, requeststore.Patch{Status: requests.StatusAccepted, MeetingRoomID: "room-1"})
	require.NoError(t, err)
	ev = drainOne(t, feed)
	assert.Equal(t, requests.OpUpdate, ev.Op)
	require.NotNil(t, ev.Old)
	require.NotNil(t, ev.New)
	assert.Equal(t, requests.StatusPending, ev.Old.Status)
	assert.Equal(t, requests.StatusAccepted, ev.New.Status)
	assert.Equal(t, "room-1", ev.New.MeetingRoomID)

	require.NoError(t, s.Create(ctx, newRow("r2", "alice", "prof-x", "Math", time.Now().UTC())))
	_ = drainOne(t, feed)
	_, err = s.ConditionalDelete(ctx, "r2", requests.StatusPending)
	require.NoError(t, err)
	ev = drainOne(t, feed)
	assert.Equal(t, requests.OpDelete, ev.Op)
	require.NotNil(t, ev.Old)
	assert.Nil(t, ev.New)
	assert.Equal(t, "r2", ev.Old.ID)
}

// testTransitionRace races an accept-shaped update against a reject-shaped
// delete on the same pending row. Exactly one must win.
func testTransitionRace(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRow("r1", "alice", "prof-x", "Physics", time.Now().UTC())))

	var wg sync.WaitGroup
	var updateErr, deleteErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, updateErr = s.ConditionalUpdate(ctx, "r1", requests.StatusPending, requeststore.Patch{Status: requests.StatusAccepted, MeetingRoomID: "room-1"})
	}()
	go func() {
		defer wg.Done()
		_, deleteErr = s.ConditionalDelete(ctx, "r1", requests.StatusPending)
	}()
	wg.Wait()

	if updateErr == nil {
		// Accept won: the row must survive with the room assigned.
		require.Error(t, deleteErr)
		row, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, requests.StatusAccepted, row.Status)
		assert.Equal(t, "room-1", row.MeetingRoomID)
	} else {
		// Reject won: the row must be gone and the update a clean loser.
		require.NoError(t, deleteErr)
		require.Error(t, updateErr)
		_, err := s.Get(ctx, "r1")
		require.ErrorIs(t, err, requests.ErrNotFound)
	}
}

// testFeedOverflow writes far past the feed buffer with nobody consuming
// it. Mutations and reads must keep completing; surplus events are dropped,
// not queued behind a blocked send.
func testFeedOverflow(t *testing.T, s requeststore.Store) {
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 400; i++ {
			id := fmt.Sprintf("r%03d", i)
			if err := s.Create(ctx, newRow(id, "alice", "prof-x", "Physics", at.Add(time.Duration(i)*time.Millisecond))); err != nil {
				done <- err
				return
			}
		}
		_, err := s.Get(ctx, "r000")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("store wedged writing past the feed buffer with no consumer")
	}
}
