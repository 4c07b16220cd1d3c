package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatapp/internal/domain"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// APIClient talks to the REST surface under /api.
type APIClient struct {
	base  string
	http  *http.Client
	token string
}

func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIClient{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *APIClient) SetToken(token string) { c.token = token }

func (c *APIClient) Token() string { return c.token }

type Session struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (c *APIClient) Signup(ctx context.Context, name, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/signup", body, &s); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

func (c *APIClient) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", body, &s); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

func (c *APIClient) Users(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns the conversation with peerID in ascending order.
func (c *APIClient) History(ctx context.Context, peerID int64) ([]domain.Message, error) {
	return c.HistoryPage(ctx, peerID, domain.HistoryQuery{})
}

func (c *APIClient) HistoryPage(ctx context.Context, peerID int64, q domain.HistoryQuery) ([]domain.Message, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.BeforeID > 0 {
		v.Set("before", domain.FormatID(q.BeforeID))
	}
	path := "/api/messages/" + domain.FormatID(peerID)
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead marks every unread message from senderID as read and returns the
// number of messages that changed.
func (c *APIClient) MarkRead(ctx context.Context, senderID int64) (int64, error) {
	var out struct {
		ModifiedCount int64 `json:"modifiedCount"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/messages/mark-read/"+domain.FormatID(senderID), nil, &out); err != nil {
		return 0, err
	}
	return out.ModifiedCount, nil
}

func (c *APIClient) Send(ctx context.Context, receiverID int64, content string) (*domain.Message, error) {
	var out struct {
		Data *domain.Message `json:"data"`
	}
	body := map[string]string{"receiverId": domain.FormatID(receiverID), "content": content}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *APIClient) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/account", nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
