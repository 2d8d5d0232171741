package mq

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"wordcraft/models"
)

type collector struct {
	mu     sync.Mutex
	events []models.EngagementEvent
}

func (c *collector) Broadcast(ev models.EngagementEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestDirectPublisher(t *testing.T) {
	sink := &collector{}
	ev := models.EngagementEvent{Kind: models.EventLike, PostID: "p1", Active: true, LikeCount: 3}

	require.NoError(t, Direct{Sink: sink}.Publish(context.Background(), ev))
	assert.Equal(t, []models.EngagementEvent{ev}, sink.events)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("WORDCRAFT_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("WORDCRAFT_REDIS_TEST_ADDR not set")
	}
	conn := redis.NewClient(&redis.Options{Addr: addr})
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collector{}
	done := make(chan error, 1)
	go func() { done <- StartEngagementWorker(ctx, conn, sink, zaptest.NewLogger(t)) }()

	pub := NewRedisPublisher(conn)
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, models.EngagementEvent{Kind: models.EventBookmark, PostID: "p1"})
		return sink.len() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
