package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"go-relay/internal/auth"
	"go-relay/internal/logging"
	"go-relay/internal/message"
	"go-relay/internal/storage"
	"go-relay/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, senderID, receiverID, content string) (*chat.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	msg, _ := args.Get(0).(*chat.Message)
	return msg, args.Error(1)
}

func (m *MockMessenger) Conversation(ctx context.Context, userID, contactID string, page message.Page) ([]chat.Message, error) {
	args := m.Called(ctx, userID, contactID, page)
	messages, _ := args.Get(0).([]chat.Message)
	return messages, args.Error(1)
}

func (m *MockMessenger) Contacts(ctx context.Context, userID string) ([]chat.Contact, error) {
	args := m.Called(ctx, userID)
	contacts, _ := args.Get(0).([]chat.Contact)
	return contacts, args.Error(1)
}

func (m *MockMessenger) MarkRead(ctx context.Context, messageID, readerID string) (*chat.Message, error) {
	args := m.Called(ctx, messageID, readerID)
	msg, _ := args.Get(0).(*chat.Message)
	return msg, args.Error(1)
}

func (m *MockMessenger) UnreadCount(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func TestMessages_RequireAuthentication(t *testing.T) {
	db, err := storage.Connect(storage.MemoryDBPath, logging.Discard())
	require.NoError(t, err)
	messenger := new(MockMessenger)
	issuer := auth.NewTokenIssuer(testSecret, time.Hour)
	router := newRouter(t, db, issuer, messenger)

	expired := auth.NewTokenIssuer(testSecret, -time.Minute)
	stale, err := expired.Generate("u1", "alice")
	require.NoError(t, err)
	forged, err := auth.NewTokenIssuer("some-other-secret-value", time.Hour).Generate("u1", "alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		token  string
		want   string
	}{
		{"get without token", http.MethodGet, "/api/messages?contactId=u2", nil, "", "Token is missing"},
		{"post without token", http.MethodPost, "/api/messages", gin.H{"content": "hi", "receiverId": "u2"}, "", "Token is missing"},
		{"post with expired token", http.MethodPost, "/api/messages", gin.H{"content": "hi", "receiverId": "u2"}, stale, "Invalid token"},
		{"post with forged token", http.MethodPost, "/api/messages", gin.H{"content": "hi", "receiverId": "u2"}, forged, "Invalid token"},
		{"contacts without token", http.MethodGet, "/api/messages/contacts", nil, "", "Token is missing"},
		{"unread without token", http.MethodGet, "/api/messages/unread-count", nil, "", "Token is missing"},
		{"mark read without token", http.MethodPut, "/api/messages/m1/read", nil, "", "Token is missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.want, errorBody(t, w))
		})
	}
	messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	messenger.AssertNotCalled(t, "Conversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMessages_MethodNotAllowed(t *testing.T) {
	db, err := storage.Connect(storage.MemoryDBPath, logging.Discard())
	require.NoError(t, err)
	messenger := new(MockMessenger)
	issuer := auth.NewTokenIssuer(testSecret, time.Hour)
	router := newRouter(t, db, issuer, messenger)
	token, err := issuer.Generate("u1", "alice")
	require.NoError(t, err)

	for _, method := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			w := do(router, method, "/api/messages", nil, token)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Equal(t, "Method not allowed", errorBody(t, w))
		})
	}
	messenger.AssertExpectations(t)
}

func TestSendMessage_Validation(t *testing.T) {
	env := setupRouter(t)
	alice := env.createUser(t, "alice")
	token := env.token(t, alice)

	tests := []struct {
		name string
		body any
	}{
		{"missing content", gin.H{"receiverId": "u2"}},
		{"missing receiver", gin.H{"content": "hi"}},
		{"empty content", gin.H{"content": "", "receiverId": "u2"}},
		{"blank content", gin.H{"content": "   ", "receiverId": "u2"}},
		{"malformed json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(env.router, http.MethodPost, "/api/messages", tt.body, token)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, errorBody(t, w))
		})
	}

	assert.Empty(t, env.emitter.all())
	count, err := env.messages.UnreadCount(context.Background(), "u2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendMessage_StoresAndPushes(t *testing.T) {
	env := setupRouter(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	w := do(env.router, http.MethodPost, "/api/messages", gin.H{"content": "hello", "receiverId": bob.ID}, env.token(t, alice))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sent chat.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "hello", sent.Content)
	assert.Equal(t, alice.ID, sent.SenderID)
	assert.Equal(t, bob.ID, sent.ReceiverID)
	assert.False(t, sent.Read)
	assert.False(t, sent.CreatedAt.IsZero())

	events := env.emitter.all()
	require.Len(t, events, 2)
	assert.Equal(t, bob.ID, events[0].Channel)
	assert.Equal(t, alice.ID, events[1].Channel)
	for _, e := range events {
		assert.Equal(t, chat.EventPrivateMessage, e.Event)
		push, ok := e.Payload.(chat.PrivateMessageEvent)
		require.True(t, ok)
		assert.Equal(t, alice.ID, push.SenderID)
		assert.Equal(t, bob.ID, push.ReceiverID)
		assert.Equal(t, "hello", push.Content)
		_, err := time.Parse(time.RFC3339Nano, push.Timestamp)
		assert.NoError(t, err)
	}
}

func TestSendMessage_PushFailureStillCreated(t *testing.T) {
	env := setupRouter(t)
	env.emitter.err = assert.AnError
	alice := env.createUser(t, "alice")

	w := do(env.router, http.MethodPost, "/api/messages", gin.H{"content": "hi", "receiverId": "offline"}, env.token(t, alice))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestGetConversation(t *testing.T) {
	env := setupRouter(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")
	aliceToken, bobToken := env.token(t, alice), env.token(t, bob)

	for _, step := range []struct {
		token, to, content string
	}{
		{aliceToken, bob.ID, "one"},
		{bobToken, alice.ID, "two"},
		{aliceToken, carol.ID, "elsewhere"},
		{aliceToken, bob.ID, "three"},
	} {
		w := do(env.router, http.MethodPost, "/api/messages", gin.H{"content": step.content, "receiverId": step.to}, step.token)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	t.Run("both directions oldest first", func(t *testing.T) {
		w := do(env.router, http.MethodGet, "/api/messages?contactId="+url.QueryEscape(alice.ID), nil, bobToken)
		require.Equal(t, http.StatusOK, w.Code)

		var messages []chat.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
		contents := make([]string, len(messages))
		for i, m := range messages {
			contents[i] = m.Content
		}
		assert.Equal(t, []string{"one", "two", "three"}, contents)
	})

	t.Run("limit keeps the most recent", func(t *testing.T) {
		w := do(env.router, http.MethodGet, "/api/messages?limit=2&contactId="+url.QueryEscape(bob.ID), nil, aliceToken)
		require.Equal(t, http.StatusOK, w.Code)

		var messages []chat.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
		require.Len(t, messages, 2)
		assert.Equal(t, "two", messages[0].Content)
		assert.Equal(t, "three", messages[1].Content)
	})

	t.Run("empty conversation is an empty array", func(t *testing.T) {
		w := do(env.router, http.MethodGet, "/api/messages?contactId=nobody", nil, aliceToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("missing contact id", func(t *testing.T) {
		w := do(env.router, http.MethodGet, "/api/messages", nil, aliceToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Contact ID is required", errorBody(t, w))
	})

	for _, limit := range []string{"0", "-1", "201", "abc"} {
		t.Run("limit "+limit+" is rejected", func(t *testing.T) {
			w := do(env.router, http.MethodGet, "/api/messages?limit="+limit+"&contactId="+bob.ID, nil, aliceToken)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("limit 1 keeps the newest", func(t *testing.T) {
		w := do(env.router, http.MethodGet, "/api/messages?limit=1&contactId="+bob.ID, nil, aliceToken)
		require.Equal(t, http.StatusOK, w.Code)
		var messages []chat.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
		require.Len(t, messages, 1)
		assert.Equal(t, "three", messages[0].Content)
	})

	t.Run("unknown before", func(t *testing.T) {
		w := do(env.router, http.MethodGet, "/api/messages?before=missing&contactId="+bob.ID, nil, aliceToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestContactsAndUnread(t *testing.T) {
	env := setupRouter(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")
	aliceToken := env.token(t, alice)

	do(env.router, http.MethodPost, "/api/messages", gin.H{"content": "from bob", "receiverId": alice.ID}, env.token(t, bob))
	do(env.router, http.MethodPost, "/api/messages", gin.H{"content": "from carol", "receiverId": alice.ID}, env.token(t, carol))
	w := do(env.router, http.MethodPost, "/api/messages", gin.H{"content": "again", "receiverId": alice.ID}, env.token(t, carol))
	require.Equal(t, http.StatusCreated, w.Code)
	var last chat.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))

	w = do(env.router, http.MethodGet, "/api/messages/contacts", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	var contacts []chat.Contact
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &contacts))
	require.Len(t, contacts, 2)
	assert.Equal(t, carol.ID, contacts[0].ContactID)
	assert.Equal(t, "carol", contacts[0].Username)
	assert.Equal(t, "again", contacts[0].LastMessage)
	assert.EqualValues(t, 2, contacts[0].UnreadCount)
	assert.Equal(t, "bob", contacts[1].Username)

	w = do(env.router, http.MethodGet, "/api/messages/unread-count", nil, aliceToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())

	t.Run("sender cannot mark read", func(t *testing.T) {
		w := do(env.router, http.MethodPut, "/api/messages/"+last.ID+"/read", nil, env.token(t, carol))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown message", func(t *testing.T) {
		w := do(env.router, http.MethodPut, "/api/messages/nope/read", nil, aliceToken)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("receiver marks read", func(t *testing.T) {
		w := do(env.router, http.MethodPut, "/api/messages/"+last.ID+"/read", nil, aliceToken)
		require.Equal(t, http.StatusOK, w.Code)
		var read chat.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &read))
		assert.True(t, read.Read)

		w = do(env.router, http.MethodGet, "/api/messages/unread-count", nil, aliceToken)
		assert.JSONEq(t, `{"count":2}`, w.Body.String())
	})
}

func TestContacts_EmptyIsArray(t *testing.T) {
	env := setupRouter(t)
	alice := env.createUser(t, "alice")

	w := do(env.router, http.MethodGet, "/api/messages/contacts", nil, env.token(t, alice))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
