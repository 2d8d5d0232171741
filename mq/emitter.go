// Package mq fans engagement events out to every server instance.
package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wordcraft/models"
)

const EngagementChannel = "engagement-events"

// Sink receives events on this instance, typically the live hub.
type Sink interface {
	Broadcast(ev models.EngagementEvent)
}

// RedisPublisher publishes events to the engagement channel.
type RedisPublisher struct {
	conn *redis.Client
}

func NewRedisPublisher(conn *redis.Client) *RedisPublisher {
	return &RedisPublisher{conn: conn}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev models.EngagementEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(ctx, EngagementChannel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", EngagementChannel, err)
	}
	return nil
}

// Direct hands events straight to a local sink, for single-instance runs.
type Direct struct {
	Sink Sink
}

func (d Direct) Publish(_ context.Context, ev models.EngagementEvent) error {
	d.Sink.Broadcast(ev)
	return nil
}

// StartEngagementWorker forwards events from the channel to sink until ctx
// is done.
func StartEngagementWorker(ctx context.Context, conn *redis.Client, sink Sink, log *zap.Logger) error {
	sub := conn.Subscribe(ctx, EngagementChannel)
	defer sub.Close()

	// wait for the subscription so events published right after start are not lost
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", EngagementChannel, err)
	}
	log.Info("listening for engagement events", zap.String("channel", EngagementChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.EngagementEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("bad engagement event", zap.Error(err))
				continue
			}
			sink.Broadcast(ev)
		}
	}
}
