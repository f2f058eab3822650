package chat

import (
	"encoding/json"
	"time"
)

// Event names carried in Frame.Event.
const (
	EventPrivateMessage = "private message"
	EventJoin           = "join"
	EventError          = "error"
)

// Frame is the envelope of every message exchanged over the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PrivateMessageEvent is pushed to the receiver's and the sender's channels
// after a message is stored.
type PrivateMessageEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// SendPayload is the body of a client-originated "private message" frame.
type SendPayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

func NewPrivateMessageEvent(senderID, receiverID, content string, at time.Time) PrivateMessageEvent {
	return PrivateMessageEvent{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
	}
}
