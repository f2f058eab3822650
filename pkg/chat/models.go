package chat

import (
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

type User struct {
	ID        string `gorm:"primaryKey;size:16"`
	Username  string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	ExpiresAt int64  `gorm:"index;not null"`
	CreatedAt time.Time
}

// Message is a two-party private message. Seq is the store's insertion
// order and breaks ties between equal CreatedAt values.
type Message struct {
	ID         string    `gorm:"primaryKey;size:21" json:"id"`
	Seq        uint64    `gorm:"uniqueIndex;not null" json:"-"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	SenderID   string    `gorm:"index:idx_messages_pair,priority:1;not null" json:"senderId"`
	ReceiverID string    `gorm:"index:idx_messages_pair,priority:2;index;not null" json:"receiverId"`
	Read       bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt  time.Time `gorm:"index;not null" json:"createdAt"`
}

// Contact summarizes a conversation from one participant's point of view.
type Contact struct {
	ContactID     string    `json:"contactId"`
	Username      string    `json:"username,omitempty"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int64     `json:"unreadCount"`
}

func NewUserID() (string, error) {
	return nanoid.New(8)
}

func NewMessageID() (string, error) {
	return nanoid.New()
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID, err = NewUserID()
	}
	return
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID, err = NewMessageID()
	}
	return
}

// Peer returns the other participant of m as seen by userID.
func (m Message) Peer(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
