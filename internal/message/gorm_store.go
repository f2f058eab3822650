package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "go-relay/pkg/chat"
	"gorm.io/gorm"
)

// appendAttempts bounds retries when another writer on the same database
// takes the next seq first.
const appendAttempts = 5

// GormStore keeps messages in the relational database. seq and createdAt
// are derived from the last stored row inside the insert transaction, so
// several stores or processes can share one database.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	return NewGormStoreWithClock(db, time.Now)
}

func NewGormStoreWithClock(db *gorm.DB, now func() time.Time) (*GormStore, error) {
	if now == nil {
		now = time.Now
	}
	return &GormStore{db: db, now: now}, nil
}

func (s *GormStore) Append(ctx context.Context, in NewMessage) (*Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		var message *Message
		message, err = s.insert(ctx, in)
		if err == nil {
			return message, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	return nil, fmt.Errorf("append message: %w", err)
}

func (s *GormStore) insert(ctx context.Context, in NewMessage) (*Message, error) {
	message := Message{
		Content:    in.Content,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last Message
		if err := tx.Select("seq", "created_at").Order("seq DESC").Limit(1).Find(&last).Error; err != nil {
			return err
		}
		message.Seq = last.Seq + 1
		message.CreatedAt = notBefore(s.now().UTC(), last.CreatedAt)
		return tx.Create(&message).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (s *GormStore) Conversation(ctx context.Context, userA, userB string, page Page) ([]Message, error) {
	page = page.normalized()
	query := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA)

	if page.Before != "" {
		var before Message
		if err := s.db.WithContext(ctx).Select("seq").First(&before, "id = ?", page.Before).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		query = query.Where("seq < ?", before.Seq)
	}

	var messages []Message
	if page.Limit == 0 {
		err := query.Order("created_at ASC").Order("seq ASC").Find(&messages).Error
		return messages, err
	}

	// Most recent first for the limit, then flip back to chronological order.
	err := query.Order("created_at DESC").Order("seq DESC").Limit(page.Limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (s *GormStore) Contacts(ctx context.Context, userID string) ([]Contact, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC").Order("seq DESC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return buildContacts(userID, messages), nil
}

func (s *GormStore) MarkRead(ctx context.Context, messageID, readerID string) (*Message, error) {
	var message Message
	err := s.db.WithContext(ctx).First(&message, "id = ? AND receiver_id = ?", messageID, readerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if message.Read {
		return &message, nil
	}
	if err := s.db.WithContext(ctx).Model(&message).Update("read", true).Error; err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	message.Read = true
	return &message, nil
}

func (s *GormStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}
