package message

import (
	"context"
	"log/slog"
	"time"

	"go-relay/pkg/chat"
)

// emitTimeout bounds a live push once the request that caused it is gone.
const emitTimeout = 5 * time.Second

// Emitter pushes an event to every socket joined to channel.
type Emitter interface {
	Emit(ctx context.Context, channel, event string, payload any) error
}

// MessageService is the write/read path shared by the HTTP handlers and
// socket-originated messages. Durability comes from the store alone; the
// live push after a successful append is best effort.
type MessageService struct {
	store   Store
	emitter Emitter
	log     *slog.Logger
	now     func() time.Time
}

func NewMessageService(store Store, emitter Emitter, log *slog.Logger) *MessageService {
	return &MessageService{store: store, emitter: emitter, log: log, now: time.Now}
}

// Send stores a message from senderID to receiverID and pushes a
// "private message" event to the receiver's channel, then echoes it to the
// sender's channel so the sender's other sockets see it too. A message to
// oneself is pushed once. The push is skipped when the append fails; a
// failed push is logged and otherwise ignored.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, content string) (*chat.Message, error) {
	message, err := s.store.Append(ctx, NewMessage{
		Content:    content,
		SenderID:   senderID,
		ReceiverID: receiverID,
	})
	if err != nil {
		return nil, err
	}
	s.push(ctx, message)
	return message, nil
}

func (s *MessageService) push(ctx context.Context, message *chat.Message) {
	if s.emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	event := chat.NewPrivateMessageEvent(message.SenderID, message.ReceiverID, message.Content, s.now())
	channels := []string{message.ReceiverID}
	if message.SenderID != message.ReceiverID {
		channels = append(channels, message.SenderID)
	}
	for _, channel := range channels {
		if err := s.emitter.Emit(ctx, channel, chat.EventPrivateMessage, event); err != nil {
			s.log.Warn("live push failed, message stays readable from history",
				"message_id", message.ID,
				"channel", channel,
				"error", err,
			)
		}
	}
}

func (s *MessageService) Conversation(ctx context.Context, userID, contactID string, page Page) ([]chat.Message, error) {
	return s.store.Conversation(ctx, userID, contactID, page)
}

func (s *MessageService) Contacts(ctx context.Context, userID string) ([]chat.Contact, error) {
	return s.store.Contacts(ctx, userID)
}

func (s *MessageService) MarkRead(ctx context.Context, messageID, readerID string) (*chat.Message, error) {
	return s.store.MarkRead(ctx, messageID, readerID)
}

func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}
