package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DialRedis parses url and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// RedisRelay publishes envelopes on one redis pub/sub channel. Every relay
// process subscribes to it, including the publisher, so a hub delivers to
// its own sockets through the same path as everyone else.
type RedisRelay struct {
	client *redis.Client
	topic  string
	log    *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewRedisRelay(client *redis.Client, topic string, log *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, topic: topic, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.topic, data).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	pubsub := r.client.Subscribe(ctx, r.topic)
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	// Wait for the subscribe confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.topic, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Error("dropping malformed envelope", "topic", msg.Channel, "error", err)
				continue
			}
			if err := handler(ctx, env); err != nil {
				r.log.Error("relay handler failed", "channel", env.Channel, "error", err)
			}
		}
		r.log.Debug("relay subscription ended", "topic", r.topic)
	}()
	return nil
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, sub := range r.subs {
		if err := sub.Close(); err != nil {
			r.log.Warn("close redis subscription", "error", err)
		}
	}
	return r.client.Close()
}
