package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/elnormous/contenttype"

	"github.com/tutorlink/tutorlink/internal/logctx"
	"github.com/tutorlink/tutorlink/requests"
)

var (
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// wireEvent is the payload delivered on the SSE channel. Request carries
// the row image relevant to the receiving side: the new image for inserts
// and updates, the old image for deletes.
type wireEvent struct {
	Op      requests.ChangeOp        `json:"op"`
	Request *requests.SessionRequest `json:"request"`
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and a
// context. It serializes writes/flushes and refuses to write after the
// request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// handleEvents serves the persistent per-actor event channel. The stream
// carries every change on rows the actor is party to, in the subscribed
// role view, until the client disconnects.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusUnsupportedMediaType, "accept must include text/event-stream")
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(r.Context(), "sse.flusher.missing")
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

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
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sub := h.router.Subscribe(ctx, actor.ActorID(), role)
	defer sub.Close()

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	var seq int64
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end")
			return
		case change, ok := <-sub.Events():
			if !ok {
				h.log.InfoContext(ctx, "sse.stream.end")
				return
			}
			seq++
			payload, err := json.Marshal(wireEvent{Op: change.Op, Request: change.Subject()})
			if err != nil {
				h.log.ErrorContext(ctx, "sse.encode.fail", slog.String("err", err.Error()))
				continue
			}
			if err := writeSSEEvent(wf, strconv.FormatInt(seq, 10), payload); err != nil {
				h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.InfoContext(ctx, "sse.message.deliver", slog.String("op", string(change.Op)))
		}
	}
}

// writeSSEEvent frames one event and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, id string, payload []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", id); err != nil {
			return fmt.Errorf("failed to write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
