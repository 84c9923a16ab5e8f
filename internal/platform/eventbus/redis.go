package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

// NewRedisClient connects to the Redis instance at url (redis://...).
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperr.DependencyUnavailable("redis unavailable", err)
	}
	return client, nil
}

// RedisRelay mirrors events across API instances through a Redis pub/sub
// channel. Local observers are served immediately; events from other
// instances are re-published to the local bus when they arrive.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	local   Publisher
	outbox  chan Event
	logger  zerolog.Logger
}

// NewRedisRelay creates a relay. local receives both this process's events
// and those relayed from peers.
func NewRedisRelay(client *redis.Client, channel string, local Publisher, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		outbox:  make(chan Event, 1024),
		logger:  logger.With().Str("component", "redis_relay").Logger(),
	}
}

// Origin is the identifier stamped on events from this process.
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Publish delivers locally and queues the event for Redis. It never blocks.
func (r *RedisRelay) Publish(ctx context.Context, event Event) {
	event.Origin = r.origin
	r.local.Publish(ctx, event)

	select {
	case r.outbox <- event:
	default:
		r.logger.Warn().Str("kind", string(event.Kind)).Msg("relay outbox full, event not mirrored")
	}
}

// Run pumps the outbox to Redis and relays peer events until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("relay subscribed")

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-r.outbox:
			payload, err := encodeEvent(event)
			if err != nil {
				r.logger.Error().Err(err).Msg("encode event")
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("publish to redis failed")
			}
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relay message")
				continue
			}
			if event.Origin == r.origin {
				continue
			}
			r.local.Publish(ctx, event)
		}
	}
}

func encodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Kind == "" {
		return Event{}, fmt.Errorf("decode event: missing kind")
	}
	return e, nil
}
