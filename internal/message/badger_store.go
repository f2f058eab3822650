package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go-relay/pkg/chat"

	"github.com/dgraph-io/badger/v4"
)

// Key layout, components separated by NUL:
//
//	m <id>                          -> record
//	c <low> <high> <seq:020d>       -> id            (conversation index)
//	u <user> <peer>                 -> last id       (contact index)
//	r <receiver> <sender> <id>      -> empty         (unread index)
//	meta last                       -> {seq, createdAt}
const sep = "\x00"

var metaLastKey = []byte("meta" + sep + "last")

// BadgerStore keeps messages in an embedded badger database. The zero-padded
// seq in conversation keys makes a prefix scan return messages in store order.
type BadgerStore struct {
	db    *badger.DB
	log   *slog.Logger
	stamp *stamper
}

type record struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

type lastState struct {
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	return NewBadgerStoreWithClock(db, log, time.Now)
}

func NewBadgerStoreWithClock(db *badger.DB, log *slog.Logger, now func() time.Time) (*BadgerStore, error) {
	var last lastState
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaLastKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &last)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load last message state: %w", err)
	}
	return &BadgerStore{db: db, log: log, stamp: newStamper(now, last.CreatedAt, last.Seq)}, nil
}

func messageKey(id string) []byte {
	return []byte("m" + sep + id)
}

func conversationPrefix(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("c" + sep + a + sep + b + sep)
}

func conversationKey(a, b string, seq uint64) []byte {
	return append(conversationPrefix(a, b), fmt.Sprintf("%020d", seq)...)
}

func contactPrefix(user string) []byte {
	return []byte("u" + sep + user + sep)
}

func contactKey(user, peer string) []byte {
	return append(contactPrefix(user), peer...)
}

func unreadPrefix(receiver string) []byte {
	return []byte("r" + sep + receiver + sep)
}

func unreadKey(receiver, sender, id string) []byte {
	return []byte("r" + sep + receiver + sep + sender + sep + id)
}

func (r record) toMessage() chat.Message {
	return chat.Message{
		ID:         r.ID,
		Seq:        r.Seq,
		Content:    r.Content,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Read:       r.Read,
		CreatedAt:  r.CreatedAt,
	}
}

func fromMessage(m chat.Message) record {
	return record{
		ID:         m.ID,
		Seq:        m.Seq,
		Content:    m.Content,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

func (s *BadgerStore) Append(ctx context.Context, in NewMessage) (*chat.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := chat.NewMessageID()
	if err != nil {
		return nil, err
	}

	s.stamp.mu.Lock()
	defer s.stamp.mu.Unlock()

	createdAt, seq := s.stamp.next()
	message := chat.Message{
		ID:         id,
		Seq:        seq,
		Content:    in.Content,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		CreatedAt:  createdAt,
	}
	value, err := json.Marshal(fromMessage(message))
	if err != nil {
		return nil, err
	}
	last, err := json.Marshal(lastState{Seq: seq, CreatedAt: createdAt})
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		writes := []struct{ k, v []byte }{
			{messageKey(id), value},
			{conversationKey(in.SenderID, in.ReceiverID, seq), []byte(id)},
			{contactKey(in.SenderID, in.ReceiverID), []byte(id)},
			{contactKey(in.ReceiverID, in.SenderID), []byte(id)},
			{unreadKey(in.ReceiverID, in.SenderID, id), nil},
			{metaLastKey, last},
		}
		for _, w := range writes {
			if err := txn.Set(w.k, w.v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.log.Debug("message stored", "id", id, "seq", seq)
	return &message, nil
}

func getRecord(txn *badger.Txn, id string) (record, error) {
	var r record
	item, err := txn.Get(messageKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	return r, err
}

func seqFromKey(key []byte) (uint64, error) {
	i := bytes.LastIndex(key, []byte(sep))
	return strconv.ParseUint(string(key[i+1:]), 10, 64)
}

func (s *BadgerStore) Conversation(ctx context.Context, userA, userB string, page Page) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page = page.normalized()
	prefix := conversationPrefix(userA, userB)

	var messages []chat.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var upper uint64
		hasUpper := false
		if page.Before != "" {
			before, err := getRecord(txn, page.Before)
			if err != nil {
				return err
			}
			upper, hasUpper = before.Seq, true
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = page.Limit > 0
		it := txn.NewIterator(opts)
		defer it.Close()

		var start []byte
		switch {
		case !opts.Reverse:
			start = prefix
		case hasUpper:
			start = conversationKey(userA, userB, upper)
		default:
			start = append(append([]byte{}, prefix...), 0xFF)
		}

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq, err := seqFromKey(item.Key())
			if err != nil {
				return err
			}
			if hasUpper && seq >= upper {
				if opts.Reverse {
					continue
				}
				break
			}
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := getRecord(txn, string(id))
			if err != nil {
				return err
			}
			messages = append(messages, r.toMessage())
			if opts.Reverse && len(messages) == page.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page.Limit > 0 {
		reverse(messages)
	}
	return messages, nil
}

func countPrefix(txn *badger.Txn, prefix []byte) int64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var n int64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

func (s *BadgerStore) Contacts(ctx context.Context, userID string) ([]chat.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var contacts []chat.Contact
	var seqs []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := contactPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			peer := string(item.Key()[len(prefix):])
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			last, err := getRecord(txn, string(id))
			if err != nil {
				return err
			}
			unread := countPrefix(txn, []byte("r"+sep+userID+sep+peer+sep))
			contacts = append(contacts, chat.Contact{
				ContactID:     peer,
				LastMessage:   last.Content,
				LastMessageAt: last.CreatedAt,
				UnreadCount:   unread,
			})
			seqs = append(seqs, last.Seq)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := make([]int, len(contacts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return seqs[order[i]] > seqs[order[j]] })
	sorted := make([]chat.Contact, len(contacts))
	for i, k := range order {
		sorted[i] = contacts[k]
	}
	return sorted, nil
}

func (s *BadgerStore) MarkRead(ctx context.Context, messageID, readerID string) (*chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var message chat.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, messageID)
		if err != nil {
			return err
		}
		if r.ReceiverID != readerID {
			return ErrNotFound
		}
		if !r.Read {
			r.Read = true
			value, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(messageKey(r.ID), value); err != nil {
				return err
			}
			if err := txn.Delete(unreadKey(r.ReceiverID, r.SenderID, r.ID)); err != nil {
				return err
			}
		}
		message = r.toMessage()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return &message, nil
}

func (s *BadgerStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		n = countPrefix(txn, unreadPrefix(userID))
		return nil
	})
	return n, err
}
