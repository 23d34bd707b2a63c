// Package feed routes the store's raw change stream to the connected
// clients that are party to each change. The router is the platform's sole
// network-visible authorization gate for request data: a subscriber only
// ever receives events for rows on which it holds the subscribed role.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tutorlink/tutorlink/requests"
)

// subscriberBuffer bounds each subscriber's queue. A subscriber that falls
// this far behind loses events; delivery is at-least-once overall and the
// reconciler's reload on reconnect heals the gap.
const subscriberBuffer = 64

type subKey struct {
	actorID string
	role    requests.Role
}

// Router fans out change events from a single source channel to registered
// per-actor subscriptions.
type Router struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[subKey]*Subscription
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// NewRouter constructs a Router. Call Run with the change source to start
// delivery.
func NewRouter(opts ...Option) *Router {
	r := &Router{log: slog.Default(), subs: make(map[subKey]*Subscription)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes changes until the source closes or ctx is cancelled. It is
// the single consumer of the source, so per-row order on the source is
// preserved into every subscriber queue.
func (r *Router) Run(ctx context.Context, source <-chan requests.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-source:
			if !ok {
				return nil
			}
			r.dispatch(ctx, change)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, change requests.Change) {
	row := change.Subject()
	if row == nil {
		r.log.WarnContext(ctx, "feed.change.no_subject", slog.String("op", string(change.Op)))
		return
	}

	r.mu.Lock()
	targets := make([]*Subscription, 0, 2)
	if sub, ok := r.subs[subKey{actorID: row.RequesterID, role: requests.RoleRequester}]; ok {
		targets = append(targets, sub)
	}
	if sub, ok := r.subs[subKey{actorID: row.ProviderID, role: requests.RoleProvider}]; ok {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(change.Clone())
		if sub.dropped() {
			r.log.WarnContext(ctx, "feed.deliver.drop",
				slog.String("actor_id", sub.key.actorID),
				slog.String("role", string(sub.key.role)),
				slog.String("request_id", row.ID))
		}
	}
}

// Subscribe registers actorID for change events in the given role view. An
// actor holds at most one live subscription per role; a newer Subscribe
// displaces and closes the previous one. The subscription is released when
// Close is called or ctx is cancelled, whichever comes first.
func (r *Router) Subscribe(ctx context.Context, actorID string, role requests.Role) *Subscription {
	key := subKey{actorID: actorID, role: role}
	sub := &Subscription{
		router: r,
		key:    key,
		ch:     make(chan requests.Change, subscriberBuffer),
	}

	r.mu.Lock()
	if prev, ok := r.subs[key]; ok {
		prev.closeLocked()
	}
	r.subs[key] = sub
	r.mu.Unlock()

	r.log.InfoContext(ctx, "feed.subscribe.start",
		slog.String("actor_id", actorID), slog.String("role", string(role)))

	context.AfterFunc(ctx, sub.Close)
	return sub
}

// Subscribers reports the number of live registry entries.
func (r *Router) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Subscription is one actor's live event channel.
type Subscription struct {
	router *Router
	key    subKey
	ch     chan requests.Change

	mu      sync.Mutex
	closed  bool
	lastDrp bool
}

// Events yields the subscriber's changes in delivery order. The channel is
// closed when the subscription ends.
func (s *Subscription) Events() <-chan requests.Change {
	return s.ch
}

// Close releases the registry slot and closes the event channel. Further
// deliveries to this subscription stop immediately. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.router.mu.Lock()
	defer s.router.mu.Unlock()
	s.closeLocked()
}

// closeLocked requires the router mutex.
func (s *Subscription) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.router.subs[s.key] == s {
		delete(s.router.subs, s.key)
	}
	close(s.ch)
}

func (s *Subscription) deliver(change requests.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- change:
		s.lastDrp = false
	default:
		s.lastDrp = true
	}
}

func (s *Subscription) dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDrp
}
