// Package notify publishes run lifecycle events to a Redis stream so other
// processes can react when a run needs a human or finishes.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucasnoah/agentgist/internal/config"
)

// Event kinds published by the orchestrator.
const (
	EventInterrupt = "interrupt"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// streamMaxLen caps the stream length (approximately).
const streamMaxLen = 10000

// Event is one lifecycle notification.
type Event struct {
	ID         string    `json:"id,omitempty"`
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Subreddit  string    `json:"subreddit"`
	Query      string    `json:"query"`
	Candidates int       `json:"candidates,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Values flattens e into stream fields.
func (e Event) Values() map[string]interface{} {
	v := map[string]interface{}{
		"run_id":    e.RunID,
		"kind":      e.Kind,
		"state":     e.State,
		"subreddit": e.Subreddit,
		"query":     e.Query,
		"time":      e.Time.UTC().Format(time.RFC3339),
	}
	if e.Candidates > 0 {
		v["candidates"] = strconv.Itoa(e.Candidates)
	}
	if e.Detail != "" {
		v["detail"] = e.Detail
	}
	return v
}

// eventFromMessage rebuilds an Event from a stream entry.
func eventFromMessage(msg redis.XMessage) Event {
	str := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	e := Event{
		ID:        msg.ID,
		RunID:     str("run_id"),
		Kind:      str("kind"),
		State:     str("state"),
		Subreddit: str("subreddit"),
		Query:     str("query"),
		Detail:    str("detail"),
	}
	e.Candidates, _ = strconv.Atoi(str("candidates"))
	e.Time, _ = time.Parse(time.RFC3339, str("time"))
	return e
}

// Redis publishes events with XADD.
type Redis struct {
	rdb    *redis.Client
	stream string
}

// NewRedis connects to cfg.Addr and verifies the connection.
func NewRedis(cfg config.Redis) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb, stream: cfg.Stream}, nil
}

// Notify appends e to the stream.
func (r *Redis) Notify(ctx context.Context, e Event) error {
	err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: e.Values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Read returns up to count events after lastID, waiting up to block for new
// ones. Use "$" to wait only for events published after the call, "0" for
// the whole stream. It returns the id to pass on the next call.
func (r *Redis) Read(ctx context.Context, lastID string, count int64, block time.Duration) ([]Event, string, error) {
	streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, lastID, fmt.Errorf("xread failed: %w", err)
	}

	var out []Event
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, eventFromMessage(msg))
			lastID = msg.ID
		}
	}
	return out, lastID, nil
}

// Close releases the connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
