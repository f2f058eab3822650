// Package relay fans socket events out between hubs. The memory backend
// stays inside one process; the redis backend lets several relay
// processes share channels.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Envelope is one event addressed to a hub channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Handler receives envelopes from a subscription.
type Handler func(ctx context.Context, env Envelope) error

type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe starts delivering every published envelope to handler and
	// returns once the subscription is active.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

var ErrClosed = errors.New("relay closed")

const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendRedis  = "redis"

	DefaultTopic = "relay:events"
)

type Options struct {
	Backend  string
	RedisURL string
	Topic    string
}

// Open builds the relay for opts.Backend. The local backend has no relay
// and returns nil, nil: the hub then delivers to its own sockets directly.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Relay, error) {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	switch opts.Backend {
	case "", BackendLocal:
		return nil, nil
	case BackendMemory:
		return NewMemoryRelay(opts.Topic, log), nil
	case BackendRedis:
		client, err := DialRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisRelay(client, opts.Topic, log), nil
	default:
		return nil, fmt.Errorf("unknown relay backend %q", opts.Backend)
	}
}
