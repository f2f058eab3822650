package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-relay/pkg/chat"
)

var (
	ErrInvalidMessage = errors.New("content, senderId and receiverId are required")
	ErrNotFound       = errors.New("message not found")
)

// MaxPageLimit caps Page.Limit.
const MaxPageLimit = 200

// Store is the durable record of private messages.
type Store interface {
	// Append persists a new message and returns it with id, createdAt and
	// read=false assigned by the store.
	Append(ctx context.Context, msg NewMessage) (*chat.Message, error)
	// Conversation returns messages exchanged between userA and userB in
	// both directions, ordered by createdAt ascending.
	Conversation(ctx context.Context, userA, userB string, page Page) ([]chat.Message, error)
	// Contacts lists everyone userID has exchanged messages with, most
	// recent conversation first.
	Contacts(ctx context.Context, userID string) ([]chat.Contact, error)
	// MarkRead flags a message as read. Only the receiver may do so; any
	// other reader gets ErrNotFound.
	MarkRead(ctx context.Context, messageID, readerID string) (*chat.Message, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type NewMessage struct {
	Content    string
	SenderID   string
	ReceiverID string
}

func (m NewMessage) Validate() error {
	if strings.TrimSpace(m.Content) == "" || m.SenderID == "" || m.ReceiverID == "" {
		return ErrInvalidMessage
	}
	// NUL separates the components of badger keys.
	if strings.ContainsRune(m.SenderID, 0) || strings.ContainsRune(m.ReceiverID, 0) {
		return fmt.Errorf("%w: ids must not contain NUL", ErrInvalidMessage)
	}
	return nil
}

// Page restricts a conversation read. The zero value selects everything.
type Page struct {
	// Limit keeps only the most recent Limit messages. 0 means no limit.
	Limit int
	// Before keeps only messages stored before the message with this id.
	Before string
}

func (p Page) normalized() Page {
	if p.Limit < 0 {
		p.Limit = 0
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// stamper hands out createdAt/seq pairs. createdAt never goes backwards even
// if the wall clock does, and seq strictly increases.
type stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
	seq  uint64
}

func newStamper(now func() time.Time, last time.Time, seq uint64) *stamper {
	if now == nil {
		now = time.Now
	}
	return &stamper{now: now, last: last, seq: seq}
}

// next must be called with mu held.
func (s *stamper) next() (time.Time, uint64) {
	at := notBefore(s.now().UTC(), s.last)
	s.last = at
	s.seq++
	return at, s.seq
}

// notBefore returns at, or last when the clock has gone backwards.
func notBefore(at, last time.Time) time.Time {
	if at.Before(last) {
		return last
	}
	return at
}

// buildContacts folds messages sorted newest first into per-peer summaries.
func buildContacts(userID string, newestFirst []chat.Message) []chat.Contact {
	index := make(map[string]int)
	var contacts []chat.Contact
	for _, m := range newestFirst {
		peer := m.Peer(userID)
		i, ok := index[peer]
		if !ok {
			i = len(contacts)
			index[peer] = i
			contacts = append(contacts, chat.Contact{
				ContactID:     peer,
				LastMessage:   m.Content,
				LastMessageAt: m.CreatedAt,
			})
		}
		if m.ReceiverID == userID && !m.Read {
			contacts[i].UnreadCount++
		}
	}
	return contacts
}

func reverse(messages []chat.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
