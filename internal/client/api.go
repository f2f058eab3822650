package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// APIClient talks to the relay's HTTP API. The session cookies set by login
// are kept in its jar and reused by the socket dialer.
type APIClient struct {
	base *url.URL
	http *http.Client
	jar  http.CookieJar
}

func NewAPIClient(baseURL string) (*APIClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &APIClient{
		base: base,
		jar:  jar,
		http: &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}, nil
}

func (a *APIClient) Jar() http.CookieJar {
	return a.jar
}

// SocketURL is the websocket address for path on the same server.
func (a *APIClient) SocketURL(path string) string {
	u := *a.base
	u.Scheme = "ws"
	if a.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = path
	return u.String()
}

type authResponse struct {
	User User `json:"user"`
}

func (a *APIClient) Login(ctx context.Context, username, password string) (User, error) {
	return a.authenticate(ctx, "/login", username, password)
}

func (a *APIClient) Register(ctx context.Context, username, password string) (User, error) {
	return a.authenticate(ctx, "/register", username, password)
}

func (a *APIClient) authenticate(ctx context.Context, path, username, password string) (User, error) {
	var resp authResponse
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// FindUser resolves an exact username through the search endpoint.
func (a *APIClient) FindUser(ctx context.Context, username string) (User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	q := url.Values{"q": {username}, "limit": {"50"}}
	if err := a.do(ctx, http.MethodGet, "/api/users/search", q, nil, &resp); err != nil {
		return User{}, err
	}
	for _, u := range resp.Users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
}

type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// History returns the most recent messages exchanged with contactID,
// oldest first.
func (a *APIClient) History(ctx context.Context, contactID string, limit int) ([]Message, error) {
	var messages []Message
	q := url.Values{"contactId": {contactID}, "limit": {fmt.Sprint(limit)}}
	if err := a.do(ctx, http.MethodGet, "/api/messages", q, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (a *APIClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *a.base
	u.Path = path
	u.RawQuery = query.Encode()

	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
