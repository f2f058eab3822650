package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go-relay/pkg/chat"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBufferSize = 256
)

// Conn is the part of *websocket.Conn a Client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
}

var errForeignChannel = errors.New("cannot join another user's channel")

// Client represents a WebSocket client connection
type Client struct {
	id   string
	conn Conn

	// Buffered channel of outbound frames. Only the hub closes it.
	send chan []byte

	hub *Hub

	userID   string
	username string

	// Channels this client has joined
	channels map[string]bool
	mu       sync.RWMutex

	connectedAt time.Time
	lastSeen    time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for an authenticated connection. It is not
// registered with the hub yet.
func NewClient(ctx context.Context, hub *Hub, conn Conn, userID, username string) *Client {
	ctx, cancel := context.WithCancel(ctx)
	now := time.Now()
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		userID:      userID,
		username:    username,
		channels:    make(map[string]bool),
		connectedAt: now,
		lastSeen:    now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) GetUserID() string {
	return c.userID
}

func (c *Client) GetUsername() string {
	return c.username
}

// GetChannels returns a copy of joined channels
func (c *Client) GetChannels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.channels))
	for channelID := range c.channels {
		channels = append(channels, channelID)
	}
	return channels
}

func (c *Client) joinChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = true
}

func (c *Client) leaveChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
}

func (c *Client) IsInChannel(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channelID]
}

func (c *Client) UpdateLastSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

func (c *Client) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// ReadPump pumps frames from the websocket connection to the hub. It
// unregisters the client when the connection ends.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.UpdateLastSeen()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("websocket read error", "client_id", c.id, "user_id", c.userID, "error", err)
			}
			return
		}
		c.UpdateLastSeen()
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame chat.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError("malformed frame")
		return
	}

	switch frame.Event {
	case chat.EventJoin:
		var channel string
		if err := json.Unmarshal(frame.Data, &channel); err != nil {
			c.sendError("join expects a user id")
			return
		}
		// The socket is already in its own channel; anything else is refused.
		if channel != c.userID {
			c.sendError(errForeignChannel.Error())
		}
	case chat.EventPrivateMessage:
		var payload chat.SendPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.sendError("malformed private message")
			return
		}
		if err := c.hub.handleInbound(c.ctx, c, payload); err != nil {
			c.sendError(err.Error())
		}
	default:
		c.sendError("unknown event " + frame.Event)
	}
}

func (c *Client) sendError(message string) {
	frame, err := chat.NewFrame(chat.EventError, chat.ErrorPayload{Error: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.hub.sendTo(c, data)
}

// WritePump pumps frames from the hub to the websocket connection. It is
// the only writer on the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
