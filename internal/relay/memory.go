package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const metaKeyChannel = "channel"

// MemoryRelay carries envelopes over an in-process watermill GoChannel.
type MemoryRelay struct {
	pubsub *gochannel.GoChannel
	topic  string
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewMemoryRelay(topic string, log *slog.Logger) *MemoryRelay {
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
			// Keeps publish order per subscriber.
			BlockPublishUntilSubscriberAck: true,
		},
		watermillLogger{log: log},
	)
	return &MemoryRelay{pubsub: goChannel, topic: topic, log: log}
}

func toWatermillMessage(env Envelope) (*message.Message, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaKeyChannel, env.Channel)
	return msg, nil
}

func (r *MemoryRelay) Publish(ctx context.Context, env Envelope) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg, err := toWatermillMessage(env)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	return r.pubsub.Publish(r.topic, msg)
}

func (r *MemoryRelay) Subscribe(ctx context.Context, handler Handler) error {
	messages, err := r.pubsub.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				r.log.Error("dropping malformed envelope", "msg_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			if err := handler(ctx, env); err != nil {
				// A nack would be redelivered forever.
				r.log.Error("relay handler failed", "channel", env.Channel, "msg_id", msg.UUID, "error", err)
			}
			msg.Ack()
		}
		r.log.Debug("relay subscription ended", "topic", r.topic)
	}()
	return nil
}

func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.pubsub.Close()
}

// watermillLogger forwards watermill's logging to slog.
type watermillLogger struct {
	log *slog.Logger
}

func attrs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error(msg, append(attrs(fields), "error", err)...)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info(msg, attrs(fields)...)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug(msg, attrs(fields)...)
}

// Trace is too chatty for anything above debug.
func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Debug(msg, attrs(fields)...)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{log: l.log.With(attrs(fields)...)}
}
