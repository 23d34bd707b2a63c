// Package logctx decorates slog records with request-scoped attribute
// groups carried in the context, so handlers never thread logging fields
// through call signatures.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends any context-carried
// attribute groups to each record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if ad, ok := ctx.Value(actorDataKey{}).(*ActorData); ok {
		r.AddAttrs(slog.Group("actor",
			slog.String("id", ad.ActorID),
			slog.String("role", ad.Role),
		))
	}

	if sd, ok := ctx.Value(sessionRequestKey{}).(*SessionRequestData); ok {
		r.AddAttrs(slog.Group("request",
			slog.String("id", sd.RequestID),
			slog.String("status", sd.Status),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData describes one inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type actorDataKey struct{}

// ActorData identifies the authenticated actor driving the request.
type ActorData struct {
	ActorID string
	Role    string
}

func WithActorData(ctx context.Context, data *ActorData) context.Context {
	return context.WithValue(ctx, actorDataKey{}, data)
}

type sessionRequestKey struct{}

// SessionRequestData identifies the session-request row being operated on.
type SessionRequestData struct {
	RequestID string
	Status    string
}

func WithSessionRequestData(ctx context.Context, data *SessionRequestData) context.Context {
	return context.WithValue(ctx, sessionRequestKey{}, data)
}
