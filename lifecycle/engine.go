// Package lifecycle implements the session-request state machine. Every
// mutation of a request row flows through the Engine: it validates input,
// enforces which party may drive which transition, and delegates the actual
// state flip to the store's atomic conditional operations so concurrent
// transitions on the same row resolve to exactly one winner.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/tutorlink/catalog"
	"github.com/tutorlink/tutorlink/meeting"
	"github.com/tutorlink/tutorlink/requests"
	"github.com/tutorlink/tutorlink/requeststore"
)

// Engine drives the pending -> accepted / removed state machine.
type Engine struct {
	store     requeststore.Store
	catalog   catalog.Catalog
	provision meeting.Provisioner
	now       func() time.Time
	newID     func() string
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the creation timestamp source. Test seam.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDSource overrides request id generation. Test seam.
func WithIDSource(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithProvisioner overrides the meeting room provisioner.
func WithProvisioner(p meeting.Provisioner) Option {
	return func(e *Engine) { e.provision = p }
}

// New constructs an Engine over the given store and catalog.
func New(store requeststore.Store, cat catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		catalog:   cat,
		provision: meeting.Provision,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitInput carries the requester-supplied fields of a new request.
type SubmitInput struct {
	RequesterID   string
	RequesterName string
	ProviderID    string
	Topic         string
}

// Submit creates a pending request from the requester to the provider.
//
// The provider's availability is checked informatively against the catalog:
// an unavailable provider rejects the submit, but nothing prevents the flag
// from flipping between the check and the insert. That race is accepted —
// the check exists to catch the common case, not to serialize bookings. A
// catalog read failure degrades to allowing the submit.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*requests.SessionRequest, error) {
	if in.RequesterID == "" {
		return nil, fmt.Errorf("%w: requester id is required", requests.ErrValidation)
	}
	if in.ProviderID == "" {
		return nil, fmt.Errorf("%w: provider id is required", requests.ErrValidation)
	}
	if in.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", requests.ErrValidation)
	}

	providerName := in.ProviderID
	prov, err := e.catalog.Provider(ctx, in.ProviderID)
	switch {
	case errors.Is(err, catalog.ErrProviderUnknown):
		return nil, fmt.Errorf("%w: provider %q is not in the catalog", requests.ErrValidation, in.ProviderID)
	case err != nil:
		e.log.WarnContext(ctx, "submit.catalog.degraded", slog.String("err", err.Error()))
	case !prov.Available:
		return nil, fmt.Errorf("%w: provider %q is not available", requests.ErrValidation, in.ProviderID)
	default:
		providerName = prov.Name
	}

	requesterName := in.RequesterName
	if requesterName == "" {
		requesterName = in.RequesterID
	}

	row := &requests.SessionRequest{
		ID:            e.newID(),
		RequesterID:   in.RequesterID,
		RequesterName: requesterName,
		ProviderID:    in.ProviderID,
		ProviderName:  providerName,
		Topic:         in.Topic,
		Status:        requests.StatusPending,
		CreatedAt:     e.now().UTC().Truncate(time.Millisecond),
	}
	if err := e.store.Create(ctx, row); err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "request.submit.ok",
		slog.String("request_id", row.ID),
		slog.String("requester_id", row.RequesterID),
		slog.String("provider_id", row.ProviderID))
	return row, nil
}

// Accept transitions a pending request to accepted on behalf of its
// provider, assigning the meeting room id in the same atomic mutation so
// status and room become visible to subscribers together.
func (e *Engine) Accept(ctx context.Context, requestID, actorID string) (*requests.SessionRequest, error) {
	row, err := e.authorize(ctx, requestID, actorID, requests.RoleProvider)
	if err != nil {
		return nil, err
	}

	roomID := e.provision(row.ID)
	updated, err := e.store.ConditionalUpdate(ctx, requestID, requests.StatusPending, requeststore.Patch{
		Status:        requests.StatusAccepted,
		MeetingRoomID: roomID,
	})
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "request.accept.ok",
		slog.String("request_id", requestID),
		slog.String("meeting_room_id", roomID))
	return updated, nil
}

// Reject removes a pending request on behalf of its provider. The row is
// deleted; the requester learns of it from the delete change event.
func (e *Engine) Reject(ctx context.Context, requestID, actorID string) error {
	if _, err := e.authorize(ctx, requestID, actorID, requests.RoleProvider); err != nil {
		return err
	}
	if _, err := e.store.ConditionalDelete(ctx, requestID, requests.StatusPending); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "request.reject.ok", slog.String("request_id", requestID))
	return nil
}

// Cancel removes a pending request on behalf of its requester.
func (e *Engine) Cancel(ctx context.Context, requestID, actorID string) error {
	if _, err := e.authorize(ctx, requestID, actorID, requests.RoleRequester); err != nil {
		return err
	}
	if _, err := e.store.ConditionalDelete(ctx, requestID, requests.StatusPending); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "request.cancel.ok", slog.String("request_id", requestID))
	return nil
}

// List returns the actor's authoritative snapshot, newest first.
func (e *Engine) List(ctx context.Context, actorID string, role requests.Role) ([]*requests.SessionRequest, error) {
	return e.store.ListByActor(ctx, actorID, role)
}

// authorize loads the row and checks that actorID holds the given role on
// it. The read is for error shaping only: the subsequent conditional
// mutation re-checks state atomically, so a race between the read and the
// write surfaces as ErrInvalidState or ErrNotFound from the store, never as
// a corrupted transition.
func (e *Engine) authorize(ctx context.Context, requestID, actorID string, role requests.Role) (*requests.SessionRequest, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor id is required", requests.ErrValidation)
	}
	row, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	party := row.RequesterID
	if role == requests.RoleProvider {
		party = row.ProviderID
	}
	if actorID != party {
		return nil, requests.ErrNotAuthorized
	}
	return row, nil
}
