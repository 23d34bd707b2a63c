// Package httpapi exposes the client-facing surface of the service: the
// REST mutation and snapshot endpoints plus the per-actor SSE event
// channel. It is a thin translation layer — all request semantics live in
// the lifecycle engine and the feed router.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tutorlink/tutorlink/auth"
	"github.com/tutorlink/tutorlink/catalog"
	"github.com/tutorlink/tutorlink/feed"
	"github.com/tutorlink/tutorlink/internal/logctx"
	"github.com/tutorlink/tutorlink/lifecycle"
	"github.com/tutorlink/tutorlink/requests"
)

var _ http.Handler = (*Handler)(nil)

// Handler serves the REST + SSE API.
type Handler struct {
	mux     *chi.Mux
	log     *slog.Logger
	engine  *lifecycle.Engine
	router  *feed.Router
	catalog catalog.Catalog
	auth    auth.Authenticator
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger. The logger is wrapped with the
// logctx contextual handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// New constructs the API handler.
func New(engine *lifecycle.Engine, router *feed.Router, cat catalog.Catalog, authenticator auth.Authenticator, opts ...Option) *Handler {
	h := &Handler{
		log:     slog.Default(),
		engine:  engine,
		router:  router,
		catalog: cat,
		auth:    authenticator,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	mux := chi.NewRouter()
	mux.Route("/api", func(r chi.Router) {
		r.Post("/requests", h.handleSubmit)
		r.Get("/requests", h.handleList)
		r.Patch("/requests/{id}/accept", h.handleAccept)
		r.Patch("/requests/{id}/reject", h.handleReject)
		r.Delete("/requests/{id}", h.handleCancel)
		r.Get("/events", h.handleEvents)
		r.Get("/providers", h.handleProviders)
		r.Get("/subjects", h.handleSubjects)
	})
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError emits the API's structured failure shape:
// {"error":{"code":<status>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeDomainError maps a lifecycle/store error onto the taxonomy's status
// code, surfacing the specific actor-readable message.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSONError(w, requests.StatusCode(err), err.Error())
}

// checkAuthentication resolves the bearer token to an actor, writing the
// failure response itself when authentication fails.
func (h *Handler) checkAuthentication(w http.ResponseWriter, r *http.Request) auth.ActorInfo {
	ctx := r.Context()

	header := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) || len(header) <= len(bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Set("WWW-Authenticate", `Bearer realm="tutorlink"`)
		writeJSONError(w, http.StatusUnauthorized, "bearer token required")
		return nil
	}

	info, err := h.auth.CheckAuthentication(ctx, strings.TrimSpace(header[len(bearerPrefix):]))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="tutorlink", error="invalid_token"`)
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return nil
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
		return nil
	}
	return info
}

type submitBody struct {
	ProviderID    string `json:"provider_id"`
	Topic         string `json:"topic"`
	RequesterName string `json:"requester_name,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor := h.checkAuthentication(w, r)
	if actor == nil {
		return
	}
	ctx := logctx.WithActorData(r.Context(), &logctx.ActorData{ActorID: actor.ActorID(), Role: string(requests.RoleRequester)})

	var body submitBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.log.WarnContext(ctx, "submit.decode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	row, err := h.engine.Submit(ctx, lifecycle.SubmitInput{
		RequesterID:   actor.ActorID(),
		RequesterName: body.RequesterName,
		ProviderID:    body.ProviderID,
		Topic:         body.Topic,
	})
	if err != nil {
		h.log.WarnContext(ctx, "submit.fail", slog.String("err", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor := h.checkAuthentication(w, r)
	if actor == nil {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := logctx.WithSessionRequestData(r.Context(), &logctx.SessionRequestData{RequestID: id})

	row, err := h.engine.Accept(ctx, id, actor.ActorID())
	if err != nil {
		h.log.WarnContext(ctx, "accept.fail", slog.String("err", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor := h.checkAuthentication(w, r)
	if actor == nil {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := logctx.WithSessionRequestData(r.Context(), &logctx.SessionRequestData{RequestID: id})

	if err := h.engine.Reject(ctx, id, actor.ActorID()); err != nil {
		h.log.WarnContext(ctx, "reject.fail", slog.String("err", err.Error()))
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor := h.checkAuthentication(w, r)
	if actor == nil {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := logctx.WithSessionRequestData(r.Context(), &logctx.SessionRequestData{RequestID: id})

	if err := h.engine.Cancel(ctx, id, actor.ActorID()); err != nil {
		h.log.WarnContext(ctx, "cancel.fail", slog.String("err", err.Error()))
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor := h.checkAuthentication(w, r)
	if actor == nil {
		return
	}
	role, err := requests.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ctx := logctx.WithActorData(r.Context(), &logctx.ActorData{ActorID: actor.ActorID(), Role: string(role)})

	rows, err := h.engine.List(ctx, actor.ActorID(), role)
	if err != nil {
		h.log.ErrorContext(ctx, "list.fail", slog.String("err", err.Error()))
		writeDomainError(w, err)
		return
	}
	if rows == nil {
		rows = []*requests.SessionRequest{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Catalog reads are non-critical: a failure degrades to an empty list so
// the client UI renders rather than erroring.
func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.catalog.Providers(r.Context())
	if err != nil {
		h.log.WarnContext(r.Context(), "providers.list.degraded", slog.String("err", err.Error()))
		providers = nil
	}
	if providers == nil {
		providers = []catalog.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.catalog.Subjects(r.Context())
	if err != nil {
		h.log.WarnContext(r.Context(), "subjects.list.degraded", slog.String("err", err.Error()))
		subjects = nil
	}
	if subjects == nil {
		subjects = []catalog.Subject{}
	}
	writeJSON(w, http.StatusOK, subjects)
}
