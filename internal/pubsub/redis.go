package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/sl"
)

// Deliverer is the local side of the relay, normally the connection registry.
type Deliverer interface {
	Deliver(p models.Push) int
}

type envelope struct {
	Rooms   []string            `json:"rooms"`
	Payload json.RawMessage     `json:"payload"`
	Guards  []models.Visibility `json:"guards,omitempty"`
}

// RedisRelay publishes pushes on a redis channel so every instance delivers them to its
// own live connections.
type RedisRelay struct {
	log     *slog.Logger
	client  *redis.Client
	channel string
}

func NewRedisRelay(log *slog.Logger, client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{
		log:     log.With(slog.String("component", "relay"), slog.String("channel", channel)),
		client:  client,
		channel: channel,
	}
}

func (r *RedisRelay) Push(ctx context.Context, p models.Push) error {
	const op = "pubsub.RedisRelay.Push"

	data, err := json.Marshal(envelope{Rooms: p.Rooms, Payload: p.Payload, Guards: p.Guards})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Run subscribes to the channel and hands every envelope to local until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, local Deliverer) error {
	const op = "pubsub.RedisRelay.Run"

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%s: subscribe: %w", op, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}

			push, err := decode(m.Payload)
			if err != nil {
				r.log.Warn("malformed relay message", sl.Err(err))
				continue
			}

			local.Deliver(push)
		}
	}
}

func decode(raw string) (models.Push, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return models.Push{}, err
	}
	if len(env.Rooms) == 0 {
		return models.Push{}, fmt.Errorf("envelope without rooms")
	}
	return models.Push{Rooms: env.Rooms, Payload: env.Payload, Guards: env.Guards}, nil
}
