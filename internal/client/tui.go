package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go-relay/pkg/chat"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const historySize = 50

type stage int

const (
	stageUsername stage = iota
	stagePassword
	stagePeer
	stageChat
)

type loggedInMsg struct{ user User }

type connectedMsg struct {
	peer    User
	history []Message
	ws      *WSClient
}

type errMsg struct{ err error }

type Options struct {
	ServerURL  string
	SocketPath string
	Register   bool
}

type Model struct {
	api        *APIClient
	socketPath string
	register   bool

	stage    stage
	input    textinput.Model
	username string
	self     User
	peer     User
	ws       *WSClient
	messages []string
	status   string
	msgChan  chan tea.Msg
}

func NewModel(opts Options) (Model, error) {
	api, err := NewAPIClient(opts.ServerURL)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.Placeholder = "username"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50

	return Model{
		api:        api,
		socketPath: opts.SocketPath,
		register:   opts.Register,
		input:      ti,
		msgChan:    make(chan tea.Msg, 64),
	}, nil
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.msgChan
	}
}

func (m Model) authenticate(username, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var (
			user User
			err  error
		)
		if m.register {
			user, err = m.api.Register(ctx, username, password)
		} else {
			user, err = m.api.Login(ctx, username, password)
		}
		if err != nil {
			return errMsg{err}
		}
		return loggedInMsg{user}
	}
}

func (m Model) connect(peerName string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		peer, err := m.api.FindUser(ctx, peerName)
		if err != nil {
			return errMsg{err}
		}
		history, err := m.api.History(ctx, peer.ID, historySize)
		if err != nil {
			return errMsg{err}
		}
		ws, err := DialWS(ctx, m.api.SocketURL(m.socketPath), m.api.Jar(), m.msgChan)
		if err != nil {
			return errMsg{err}
		}
		return connectedMsg{peer: peer, history: history, ws: ws}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.ws != nil {
				_ = m.ws.Close()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		default:
			m.input, cmd = m.input.Update(msg)
		}

	case loggedInMsg:
		m.self = msg.user
		m.stage = stagePeer
		m.status = ""
		m.input.EchoMode = textinput.EchoNormal
		m.input.Placeholder = "who do you want to talk to?"

	case connectedMsg:
		m.peer = msg.peer
		m.ws = msg.ws
		m.stage = stageChat
		m.status = ""
		m.input.Placeholder = "Type your message here"
		for _, h := range msg.history {
			m.messages = append(m.messages, m.line(h.SenderID, h.Content))
		}
		m.ws.Start()
		return m, m.listen()

	case frameMsg:
		m.handleFrame(chat.Frame(msg))
		return m, m.listen()

	case disconnectedMsg:
		m.status = fmt.Sprintf("disconnected: %v", msg.err)
		m.ws = nil

	case errMsg:
		m.status = msg.err.Error()
		if m.stage == stagePassword {
			m.stage = stageUsername
			m.input.EchoMode = textinput.EchoNormal
			m.input.Placeholder = "username"
		}
	}

	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()

	switch m.stage {
	case stageUsername:
		if text == "" {
			return m, nil
		}
		m.username = text
		m.stage = stagePassword
		m.input.EchoMode = textinput.EchoPassword
		m.input.Placeholder = "password"
		return m, nil
	case stagePassword:
		m.status = "signing in..."
		return m, m.authenticate(m.username, text)
	case stagePeer:
		if text == "" {
			return m, nil
		}
		m.status = "connecting..."
		return m, m.connect(text)
	}

	if text == "" || m.ws == nil {
		return m, nil
	}
	// The server echoes the message back; it is rendered from that frame.
	if err := m.ws.Send(m.peer.ID, text); err != nil {
		m.status = err.Error()
	}
	return m, nil
}

func (m *Model) handleFrame(frame chat.Frame) {
	switch frame.Event {
	case chat.EventPrivateMessage:
		var event chat.PrivateMessageEvent
		if err := json.Unmarshal(frame.Data, &event); err != nil {
			return
		}
		switch {
		case m.inConversation(event):
			m.messages = append(m.messages, m.line(event.SenderID, event.Content))
		case event.ReceiverID == m.self.ID:
			m.status = fmt.Sprintf("new message from %s", event.SenderID)
		}
	case chat.EventError:
		var payload chat.ErrorPayload
		if err := json.Unmarshal(frame.Data, &payload); err == nil {
			m.status = payload.Error
		}
	}
}

// inConversation reports whether event belongs to the open conversation,
// including the echo of our own messages to the peer.
func (m Model) inConversation(event chat.PrivateMessageEvent) bool {
	return (event.SenderID == m.peer.ID && event.ReceiverID == m.self.ID) ||
		(event.SenderID == m.self.ID && event.ReceiverID == m.peer.ID)
}

func (m Model) line(senderID, content string) string {
	name := senderID
	switch senderID {
	case m.self.ID:
		name = m.self.Username
	case m.peer.ID:
		name = m.peer.Username
	}
	return fmt.Sprintf("[%s]: %s", name, content)
}

func (m Model) View() string {
	var b strings.Builder

	switch m.stage {
	case stageUsername:
		fmt.Fprintf(&b, "Enter your username: %s\n", m.input.View())
	case stagePassword:
		fmt.Fprintf(&b, "Password for %s: %s\n", m.username, m.input.View())
	case stagePeer:
		fmt.Fprintf(&b, "Signed in as %s. Talk to: %s\n", m.self.Username, m.input.View())
	default:
		fmt.Fprintf(&b, "%s <-> %s\n\n", m.self.Username, m.peer.Username)
		for _, msg := range m.messages {
			b.WriteString(msg + "\n")
		}
		b.WriteString("\n" + m.input.View())
		b.WriteString("\n[Enter] to send")
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	return b.String()
}
