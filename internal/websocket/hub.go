package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go-relay/internal/auth"
	"go-relay/internal/relay"
	"go-relay/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// InboundHandler runs for every "private message" frame a client sends.
// The returned error is sent back to that client as an error frame.
type InboundHandler func(ctx context.Context, from *Client, payload chat.SendPayload) error

type Options struct {
	// AllowedOrigins lists browser origins allowed to open a socket. Empty
	// means same host only; "*" allows any origin.
	AllowedOrigins []string
}

// Hub tracks connected clients in channels named by user id and delivers
// events to them. With a relay configured, Emit publishes through the
// relay and the hub delivers whatever the relay hands back.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}

	resolver auth.Resolver
	relay    relay.Relay
	upgrader websocket.Upgrader
	log      *slog.Logger

	inboundMu sync.RWMutex
	inbound   InboundHandler
}

// NewHub builds a hub. When rl is not nil the hub subscribes to it before
// returning, and a failed subscription fails construction.
func NewHub(ctx context.Context, resolver auth.Resolver, rl relay.Relay, opts Options, log *slog.Logger) (*Hub, error) {
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		resolver: resolver,
		relay:    rl,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	if rl != nil {
		if err := rl.Subscribe(ctx, h.onRelay); err != nil {
			return nil, fmt.Errorf("subscribe hub to relay: %w", err)
		}
	}
	return h, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Not a browser.
			return true
		}
		if lo.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// SetInbound installs the handler for client-originated messages.
func (h *Hub) SetInbound(fn InboundHandler) {
	h.inboundMu.Lock()
	defer h.inboundMu.Unlock()
	h.inbound = fn
}

func (h *Hub) handleInbound(ctx context.Context, c *Client, payload chat.SendPayload) error {
	h.inboundMu.RLock()
	fn := h.inbound
	h.inboundMu.RUnlock()
	if fn == nil {
		return errors.New("sending over the socket is not supported")
	}
	return fn(ctx, c, payload)
}

func (h *Hub) RegisterClient(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	h.log.Debug("client registered", "client_id", client.id, "user_id", client.userID)
}

// UnregisterClient removes client from every channel and closes its send
// queue. Calling it again for the same client does nothing.
func (h *Hub) UnregisterClient(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	for _, channelID := range client.GetChannels() {
		h.removeFromChannel(client, channelID)
	}
	delete(h.clients, client)
	close(client.send)
	client.cancel()
	h.log.Debug("client unregistered", "client_id", client.id, "user_id", client.userID)
}

// JoinChannel adds a registered client to channelID, creating the channel
// on first join.
func (h *Hub) JoinChannel(client *Client, channelID string) {
	if client == nil || channelID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	members, ok := h.channels[channelID]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channelID] = members
	}
	members[client] = struct{}{}
	client.joinChannel(channelID)
}

func (h *Hub) LeaveChannel(client *Client, channelID string) {
	if client == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromChannel(client, channelID)
}

// removeFromChannel must be called with mu held. Empty channels are dropped.
func (h *Hub) removeFromChannel(client *Client, channelID string) {
	client.leaveChannel(channelID)
	members, ok := h.channels[channelID]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.channels, channelID)
	}
}

// Emit sends event with payload to every socket joined to channel. An empty
// channel is a no-op. Emit never waits on a slow client: a client whose
// queue is full is disconnected.
func (h *Hub) Emit(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	if h.relay != nil {
		return h.relay.Publish(ctx, relay.Envelope{Channel: channel, Event: event, Data: data})
	}
	return h.deliver(channel, chat.Frame{Event: event, Data: data})
}

func (h *Hub) onRelay(_ context.Context, env relay.Envelope) error {
	return h.deliver(env.Channel, chat.Frame{Event: env.Event, Data: env.Data})
}

func (h *Hub) deliver(channel string, frame chat.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.channels[channel] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn("dropping slow client", "client_id", client.id, "user_id", client.userID, "channel", channel)
		h.UnregisterClient(client)
	}
	return nil
}

// sendTo queues data for a single registered client.
func (h *Hub) sendTo(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
		h.log.Warn("client queue full, frame dropped", "client_id", client.id)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ChannelClientCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) IsClientInChannel(client *Client, channelID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channelID][client]
	return ok
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := lo.Keys(h.clients)
	h.mu.RUnlock()
	for _, client := range clients {
		h.UnregisterClient(client)
	}
}

// ServeWS authenticates the handshake, upgrades it and joins the socket to
// the channel named by the caller's user id.
func (h *Hub) ServeWS(c *gin.Context) {
	var identity auth.Identity
	switch s := h.resolver.Resolve(c.Request.Context(), c.Request).(type) {
	case auth.Authenticated:
		identity = s.Identity
	case auth.Unauthenticated:
		c.JSON(http.StatusUnauthorized, gin.H{"error": s.Reason})
		return
	default:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.log.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	client := NewClient(context.WithoutCancel(c.Request.Context()), h, conn, identity.UserID, identity.Username)
	h.RegisterClient(client)
	h.JoinChannel(client, identity.UserID)
	h.log.Info("socket connected", "client_id", client.id, "user_id", identity.UserID)

	go client.WritePump()
	go client.ReadPump()
}
