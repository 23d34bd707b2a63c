package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlink/tutorlink/catalog"
	"github.com/tutorlink/tutorlink/meeting"
	"github.com/tutorlink/tutorlink/requests"
	"github.com/tutorlink/tutorlink/requeststore/memory"
)

type flakyCatalog struct {
	catalog.Static
	failProvider bool
}

func (f *flakyCatalog) Provider(ctx context.Context, id string) (catalog.Provider, error) {
	if f.failProvider {
		return catalog.Provider{}, context.DeadlineExceeded
	}
	return f.Static.Provider(ctx, id)
}

func testCatalog() *catalog.Static {
	return &catalog.Static{
		ProviderList: []catalog.Provider{
			{ID: "prof-x", Name: "Prof X", Subject: "Physics", Rate: 50, Rating: 4.8, Available: true},
			{ID: "prof-y", Name: "Prof Y", Subject: "Math", Rate: 40, Rating: 4.5, Available: false},
		},
		SubjectList: []catalog.Subject{{ID: "physics", Name: "Physics"}},
	}
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return New(store, testCatalog(), opts...), store
}

func submit(t *testing.T, e *Engine) *requests.SessionRequest {
	t.Helper()
	row, err := e.Submit(context.Background(), SubmitInput{
		RequesterID:   "alice",
		RequesterName: "Alice",
		ProviderID:    "prof-x",
		Topic:         "Physics",
	})
	require.NoError(t, err)
	return row
}

func TestSubmitCreatesPendingRow(t *testing.T) {
	e, store := newEngine(t)

	row := submit(t, e)
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, requests.StatusPending, row.Status)
	assert.Equal(t, "Prof X", row.ProviderName)
	assert.Empty(t, row.MeetingRoomID)
	assert.False(t, row.CreatedAt.IsZero())

	stored, err := store.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, row, stored)
}

func TestSubmitValidation(t *testing.T) {
	e, _ := newEngine(t)

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"missing requester", SubmitInput{ProviderID: "prof-x", Topic: "Physics"}},
		{"missing provider", SubmitInput{RequesterID: "alice", Topic: "Physics"}},
		{"missing topic", SubmitInput{RequesterID: "alice", ProviderID: "prof-x"}},
		{"unknown provider", SubmitInput{RequesterID: "alice", ProviderID: "ghost", Topic: "Physics"}},
		{"unavailable provider", SubmitInput{RequesterID: "alice", ProviderID: "prof-y", Topic: "Math"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Submit(context.Background(), tc.in)
			require.ErrorIs(t, err, requests.ErrValidation)
		})
	}
}

func TestSubmitSucceedsWhenCatalogDegrades(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	cat := &flakyCatalog{Static: *testCatalog(), failProvider: true}
	e := New(store, cat)

	row, err := e.Submit(context.Background(), SubmitInput{RequesterID: "alice", ProviderID: "prof-x", Topic: "Physics"})
	require.NoError(t, err)
	assert.Equal(t, requests.StatusPending, row.Status)
}

// The availability check is best-effort: a submit whose check passed must
// succeed even if the provider flips to busy before the insert lands.
func TestSubmitAvailabilityRaceAccepted(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	cat := testCatalog()
	e := New(store, cat)

	_, err := e.Submit(context.Background(), SubmitInput{RequesterID: "alice", ProviderID: "prof-x", Topic: "Physics"})
	require.NoError(t, err)

	cat.ProviderList[0].Available = false

	// The first row stays pending despite the flip.
	rows, err := e.List(context.Background(), "alice", requests.RoleRequester)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, requests.StatusPending, rows[0].Status)
}

func TestAcceptAssignsRoomAtomically(t *testing.T) {
	e, store := newEngine(t, WithProvisioner(meeting.Fixed("room-42")))
	row := submit(t, e)

	accepted, err := e.Accept(context.Background(), row.ID, "prof-x")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusAccepted, accepted.Status)
	assert.Equal(t, "room-42", accepted.MeetingRoomID)

	stored, err := store.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted, stored)
}

func TestAuthorizationMatrix(t *testing.T) {
	e, _ := newEngine(t)
	row := submit(t, e)

	t.Run("requester cannot accept", func(t *testing.T) {
		_, err := e.Accept(context.Background(), row.ID, "alice")
		require.ErrorIs(t, err, requests.ErrNotAuthorized)
	})
	t.Run("stranger cannot accept", func(t *testing.T) {
		_, err := e.Accept(context.Background(), row.ID, "mallory")
		require.ErrorIs(t, err, requests.ErrNotAuthorized)
	})
	t.Run("requester cannot reject", func(t *testing.T) {
		require.ErrorIs(t, e.Reject(context.Background(), row.ID, "alice"), requests.ErrNotAuthorized)
	})
	t.Run("provider cannot cancel", func(t *testing.T) {
		require.ErrorIs(t, e.Cancel(context.Background(), row.ID, "prof-x"), requests.ErrNotAuthorized)
	})
	t.Run("stranger cannot cancel", func(t *testing.T) {
		require.ErrorIs(t, e.Cancel(context.Background(), row.ID, "mallory"), requests.ErrNotAuthorized)
	})

	// None of the failures may have mutated the row.
	rows, err := e.List(context.Background(), "alice", requests.RoleRequester)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, requests.StatusPending, rows[0].Status)
	assert.Empty(t, rows[0].MeetingRoomID)
}

func TestTransitionsFromNonPendingFail(t *testing.T) {
	e, _ := newEngine(t, WithProvisioner(meeting.Fixed("room-42")))
	row := submit(t, e)

	_, err := e.Accept(context.Background(), row.ID, "prof-x")
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), row.ID, "prof-x")
	require.ErrorIs(t, err, requests.ErrInvalidState)
	require.ErrorIs(t, e.Reject(context.Background(), row.ID, "prof-x"), requests.ErrInvalidState)
	require.ErrorIs(t, e.Cancel(context.Background(), row.ID, "alice"), requests.ErrInvalidState)

	// The original room assignment survives the failed re-accept.
	rows, err := e.List(context.Background(), "prof-x", requests.RoleProvider)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "room-42", rows[0].MeetingRoomID)
}

func TestRejectDeletesRow(t *testing.T) {
	e, store := newEngine(t)
	row := submit(t, e)

	require.NoError(t, e.Reject(context.Background(), row.ID, "prof-x"))

	_, err := store.Get(context.Background(), row.ID)
	require.ErrorIs(t, err, requests.ErrNotFound)

	require.ErrorIs(t, e.Reject(context.Background(), row.ID, "prof-x"), requests.ErrNotFound)
}

func TestCancelDeletesOnlyTargetRow(t *testing.T) {
	e, _ := newEngine(t, WithClock(stepClock(t)))
	first := submit(t, e)

	second, err := e.Submit(context.Background(), SubmitInput{
		RequesterID: "alice", RequesterName: "Alice", ProviderID: "prof-x", Topic: "Quantum Physics",
	})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), first.ID, "alice"))

	rows, err := e.List(context.Background(), "prof-x", requests.RoleProvider)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, requests.StatusPending, rows[0].Status)
}

func TestMissingActorIsValidationError(t *testing.T) {
	e, _ := newEngine(t)
	row := submit(t, e)
	_, err := e.Accept(context.Background(), row.ID, "")
	require.ErrorIs(t, err, requests.ErrValidation)
}

// stepClock yields strictly increasing timestamps so createdAt ordering in
// listings is deterministic.
func stepClock(t *testing.T) func() time.Time {
	t.Helper()
	base := time.Now().UTC()
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}
