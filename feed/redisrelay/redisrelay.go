// Package redisrelay bridges the store's in-process change feed over a
// Redis Stream so that router instances on other nodes observe the same
// logical feed. All changes flow through one stream key, which preserves
// the per-row ordering the routers rely on.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tutorlink/tutorlink/requests"
)

const defaultKey = "tutorlink:feed:changes"

const relayBuffer = 256

// Relay publishes local changes to a Redis Stream and exposes the merged
// stream as a change channel for a feed.Router.
type Relay struct {
	client redis.UniversalClient
	key    string
	maxLen int64
	log    *slog.Logger
	out    chan requests.Change

	// startID is where Consume begins reading. "$" skips everything
	// already in the stream at read time; SeekTail pins it to the stream
	// tail ahead of the first publish instead.
	startID string
}

// Config for a Relay.
type Config struct {
	// Client is the Redis client to use. If nil a default localhost client
	// is created.
	Client redis.UniversalClient
	// Key is the stream key shared by all nodes. Defaults to
	// "tutorlink:feed:changes".
	Key string
	// TrimMaxLen caps the stream length via approximate XADD MAXLEN.
	// Zero means no trimming.
	TrimMaxLen int64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a Relay.
func New(cfg Config) *Relay {
	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}
	key := cfg.Key
	if key == "" {
		key = defaultKey
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		client:  client,
		key:     key,
		maxLen:  cfg.TrimMaxLen,
		log:     log,
		out:     make(chan requests.Change, relayBuffer),
		startID: "$",
	}
}

// SeekTail records the current end of the stream as the consume position.
// Call it before the first Pump: XRead from "$" resolves the tail only when
// the read starts, so anything published in between would be skipped.
func (r *Relay) SeekTail(ctx context.Context) error {
	msgs, err := r.client.XRevRangeN(ctx, r.key, "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	if len(msgs) == 0 {
		r.startID = "0"
		return nil
	}
	r.startID = msgs[0].ID
	return nil
}

// Changes is the channel a feed.Router consumes. It carries every change
// published to the stream by any node, in stream order. Closed when the
// consume loop exits.
func (r *Relay) Changes() <-chan requests.Change {
	return r.out
}

// Pump publishes every change from the local source to the stream. It
// returns when the source closes or ctx ends.
func (r *Relay) Pump(ctx context.Context, source <-chan requests.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-source:
			if !ok {
				return nil
			}
			if err := r.publish(ctx, change); err != nil {
				return err
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, change requests.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("redisrelay: encode change: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.key,
		Values: map[string]any{"change": data},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
	return nil
}

// Consume reads the stream from the seek position (the tail by default)
// and forwards decoded changes to the Changes channel until ctx ends.
// Malformed entries are skipped.
func (r *Relay) Consume(ctx context.Context) error {
	defer close(r.out)

	startID := r.startID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.key, startID},
			Count:   32,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				startID = msg.ID
				raw, ok := msg.Values["change"].(string)
				if !ok {
					r.log.WarnContext(ctx, "redisrelay.entry.malformed", slog.String("id", msg.ID))
					continue
				}
				var change requests.Change
				if err := json.Unmarshal([]byte(raw), &change); err != nil {
					r.log.WarnContext(ctx, "redisrelay.decode.fail",
						slog.String("id", msg.ID), slog.String("err", err.Error()))
					continue
				}
				select {
				case r.out <- change:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Close closes the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}
