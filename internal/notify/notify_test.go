package notify

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/agentgist/internal/config"
)

func TestEventValuesRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Event{
		RunID:      "run-1",
		Kind:       EventInterrupt,
		State:      "AWAITING_HUMAN",
		Subreddit:  "golang",
		Query:      "cli libraries",
		Candidates: 7,
		Time:       at,
	}

	values := e.Values()
	assert.Equal(t, "7", values["candidates"])
	_, hasDetail := values["detail"]
	assert.False(t, hasDetail)

	got := eventFromMessage(redis.XMessage{ID: "1-0", Values: values})
	e.ID = "1-0"
	assert.Equal(t, e, got)
}

func TestEventValuesOmitsZeroCandidates(t *testing.T) {
	values := Event{RunID: "r", Kind: EventFailed, Detail: "no posts"}.Values()
	_, ok := values["candidates"]
	assert.False(t, ok)
	assert.Equal(t, "no posts", values["detail"])
}

func TestNewRedisUnreachable(t *testing.T) {
	_, err := NewRedis(config.Redis{Addr: "127.0.0.1:1", Stream: "gist:events"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}
