package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go-relay/pkg/chat"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// frameMsg is an event pushed by the server.
type frameMsg chat.Frame

// disconnectedMsg reports that the socket closed.
type disconnectedMsg struct{ err error }

type WSClient struct {
	conn *websocket.Conn
	ch   chan tea.Msg
}

// DialWS opens the socket using the session cookies in jar.
func DialWS(ctx context.Context, socketURL string, jar http.CookieJar, ch chan tea.Msg) (*WSClient, error) {
	dialer := *websocket.DefaultDialer
	dialer.Jar = jar

	conn, resp, err := dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (%s)", socketURL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", socketURL, err)
	}
	return &WSClient{conn: conn, ch: ch}, nil
}

// Start forwards every incoming frame to the client's channel until the
// socket closes.
func (c *WSClient) Start() {
	go func() {
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.ch <- disconnectedMsg{err: err}
				return
			}
			var frame chat.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			c.ch <- frameMsg(frame)
		}
	}()
}

func (c *WSClient) Send(receiverID, content string) error {
	frame, err := chat.NewFrame(chat.EventPrivateMessage, chat.SendPayload{
		ReceiverID: receiverID,
		Content:    content,
	})
	if err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}
