package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"go-relay/internal/config"
	"go-relay/internal/logging"
	"go-relay/internal/server"
	"go-relay/pkg/chat"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app, err := server.New(ctx, config.Config{
		AppSecret:      "test-secret-key-for-testing",
		TokenTTL:       time.Hour,
		RefreshTTL:     time.Hour,
		StoreBackend:   config.StoreSQLite,
		DBPath:         ":memory:",
		RelayBackend:   config.RelayLocal,
		SocketPath:     "/api/socket",
		RequestTimeout: 5 * time.Second,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}, logging.Discard())
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return srv
}

func TestNewAPIClient_RejectsBadURL(t *testing.T) {
	_, err := NewAPIClient("ftp://example.com")
	assert.Error(t, err)

	api, err := NewAPIClient("https://relay.example/")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/api/socket", api.SocketURL("/api/socket"))
}

func TestAPIClient_SessionAndSocket(t *testing.T) {
	srv := startRelay(t)
	ctx := context.Background()

	alice, err := NewAPIClient(srv.URL)
	require.NoError(t, err)
	bob, err := NewAPIClient(srv.URL)
	require.NoError(t, err)

	aliceUser, err := alice.Register(ctx, "alice", "secret")
	require.NoError(t, err)
	_, err = bob.Register(ctx, "bob", "secret")
	require.NoError(t, err)

	_, err = alice.Login(ctx, "alice", "wrong")
	assert.ErrorContains(t, err, "invalid username or password")

	bobUser, err := alice.FindUser(ctx, "BOB")
	require.NoError(t, err)
	assert.Equal(t, "bob", bobUser.Username)

	_, err = alice.FindUser(ctx, "carol")
	assert.ErrorIs(t, err, ErrUserNotFound)

	bobCh := make(chan tea.Msg, 4)
	bobWS, err := DialWS(ctx, bob.SocketURL("/api/socket"), bob.Jar(), bobCh)
	require.NoError(t, err)
	defer bobWS.Close()
	bobWS.Start()

	aliceWS, err := DialWS(ctx, alice.SocketURL("/api/socket"), alice.Jar(), make(chan tea.Msg, 4))
	require.NoError(t, err)
	defer aliceWS.Close()
	require.NoError(t, aliceWS.Send(bobUser.ID, "hello"))

	select {
	case msg := <-bobCh:
		frame, ok := msg.(frameMsg)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, chat.EventPrivateMessage, frame.Event)
		var event chat.PrivateMessageEvent
		require.NoError(t, json.Unmarshal(frame.Data, &event))
		assert.Equal(t, aliceUser.ID, event.SenderID)
		assert.Equal(t, bobUser.ID, event.ReceiverID)
		assert.Equal(t, "hello", event.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
	}

	history, err := bob.History(ctx, aliceUser.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestDialWS_WithoutSession(t *testing.T) {
	srv := startRelay(t)
	api, err := NewAPIClient(srv.URL)
	require.NoError(t, err)

	_, err = DialWS(context.Background(), api.SocketURL("/api/socket"), api.Jar(), make(chan tea.Msg))
	assert.ErrorContains(t, err, "401")
}

func TestModel_Stages(t *testing.T) {
	m, err := NewModel(Options{ServerURL: "http://localhost:8080", SocketPath: "/api/socket"})
	require.NoError(t, err)

	m.input.SetValue("alice")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, stagePassword, m.stage)
	assert.Equal(t, "alice", m.username)

	next, _ = m.Update(loggedInMsg{user: User{ID: "u1", Username: "alice"}})
	m = next.(Model)
	assert.Equal(t, stagePeer, m.stage)

	next, _ = m.Update(errMsg{err: ErrUserNotFound})
	m = next.(Model)
	assert.Equal(t, stagePeer, m.stage)
	assert.Contains(t, m.View(), "user not found")
}

func TestModel_RendersFrames(t *testing.T) {
	m := Model{
		stage:   stageChat,
		self:    User{ID: "u1", Username: "alice"},
		peer:    User{ID: "u2", Username: "bob"},
		msgChan: make(chan tea.Msg, 1),
	}
	push := func(m Model, event chat.PrivateMessageEvent) Model {
		t.Helper()
		frame, err := chat.NewFrame(chat.EventPrivateMessage, event)
		require.NoError(t, err)
		next, cmd := m.Update(frameMsg(frame))
		assert.NotNil(t, cmd)
		return next.(Model)
	}

	m = push(m, chat.NewPrivateMessageEvent("u2", "u1", "hi alice", time.Now()))
	assert.Equal(t, []string{"[bob]: hi alice"}, m.messages)

	// Own messages are rendered from the server's echo.
	m = push(m, chat.NewPrivateMessageEvent("u1", "u2", "hi bob", time.Now()))
	assert.Equal(t, []string{"[bob]: hi alice", "[alice]: hi bob"}, m.messages)

	failed, err := chat.NewFrame(chat.EventError, chat.ErrorPayload{Error: "message content is required"})
	require.NoError(t, err)
	next, _ := m.Update(frameMsg(failed))
	m = next.(Model)
	assert.Equal(t, "message content is required", m.status)
	assert.Contains(t, m.View(), "[bob]: hi alice")
}

func TestModel_FiltersOtherConversations(t *testing.T) {
	m := Model{
		stage:   stageChat,
		self:    User{ID: "u1", Username: "alice"},
		peer:    User{ID: "u2", Username: "bob"},
		msgChan: make(chan tea.Msg, 1),
	}
	push := func(m Model, event chat.PrivateMessageEvent) Model {
		t.Helper()
		frame, err := chat.NewFrame(chat.EventPrivateMessage, event)
		require.NoError(t, err)
		next, _ := m.Update(frameMsg(frame))
		return next.(Model)
	}

	m = push(m, chat.NewPrivateMessageEvent("u3", "u1", "psst", time.Now()))
	assert.Empty(t, m.messages)
	assert.Equal(t, "new message from u3", m.status)

	// Echo of a message sent to someone else from another session.
	m.status = ""
	m = push(m, chat.NewPrivateMessageEvent("u1", "u3", "later", time.Now()))
	assert.Empty(t, m.messages)
	assert.Empty(t, m.status)
	assert.NotContains(t, m.View(), "psst")
}

func TestModel_NoteToSelf(t *testing.T) {
	self := User{ID: "u1", Username: "alice"}
	m := Model{stage: stageChat, self: self, peer: self, msgChan: make(chan tea.Msg, 1)}

	frame, err := chat.NewFrame(chat.EventPrivateMessage, chat.NewPrivateMessageEvent("u1", "u1", "remember", time.Now()))
	require.NoError(t, err)
	next, _ := m.Update(frameMsg(frame))
	m = next.(Model)
	assert.Equal(t, []string{"[alice]: remember"}, m.messages)
}
