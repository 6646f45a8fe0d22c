package broadcast

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
)

const FeedChannel = "catalog:feed"

// RedisSink publishes catalog events to a pub/sub channel shared by every instance.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, event domain.CatalogEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal catalog event")
	}
	return errors.Wrap(s.client.Publish(ctx, s.channel, data).Err(), "redis publish")
}

// RedisRelay feeds events from the pub/sub channel into the local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	log     logrus.FieldLogger
}

func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, hub: hub, log: log}
}

// Run blocks until ctx is done. ready, if not nil, is closed once the subscription is active.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe catalog feed")
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.CatalogEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.WithError(err).Warn("discarding malformed catalog event")
				continue
			}
			_ = r.hub.Deliver(ctx, event)
		}
	}
}
