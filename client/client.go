// Package client talks to the tutorchat HTTP API and keeps per-chat conversation state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Tutor mirrors the API tutor record.
type Tutor struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Chat mirrors the API chat record.
type Chat struct {
	ID        string    `json:"_id"`
	TutorID   string    `json:"tutorId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message mirrors the API message record.
type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d", e.Status)
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is a typed HTTP client for the chat API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the API rooted at baseURL (e.g. http://localhost:8090).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}

func (c *Client) ListTutors(ctx context.Context) ([]Tutor, error) {
	var tutors []Tutor
	return tutors, c.do(ctx, http.MethodGet, "/api/tutors", nil, nil, &tutors)
}

func (c *Client) GetTutor(ctx context.Context, id string) (*Tutor, error) {
	var t Tutor
	if err := c.do(ctx, http.MethodGet, "/api/tutors/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Seed asks the server to insert the default tutors and returns its status message.
func (c *Client) Seed(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodGet, "/api/seed", nil, nil, &out)
	return out.Message, err
}

func (c *Client) ListChats(ctx context.Context, tutorID string) ([]Chat, error) {
	var list []Chat
	return list, c.do(ctx, http.MethodGet, "/api/chats", url.Values{"tutorId": {tutorID}}, nil, &list)
}

func (c *Client) CreateChat(ctx context.Context, tutorID string) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodPost, "/api/chats", nil, map[string]string{"tutorId": tutorID}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id), nil, nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) RenameChat(ctx context.Context, id, title string) error {
	return c.do(ctx, http.MethodPatch, "/api/chats/"+url.PathEscape(id), nil, map[string]string{"title": title}, nil)
}

func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	return msgs, c.do(ctx, http.MethodGet, "/api/messages", url.Values{"chatId": {chatID}}, nil, &msgs)
}

// ClearMessages deletes every message of the chat and returns how many were removed.
func (c *Client) ClearMessages(ctx context.Context, chatID string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/messages", url.Values{"chatId": {chatID}}, nil, &out)
	return out.Deleted, err
}

// SendRequest is the body of a send-message call.
type SendRequest struct {
	ChatID    string `json:"chatId"`
	TutorID   string `json:"tutorId"`
	Content   string `json:"content"`
	Rerun     bool   `json:"rerun,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// SendMessage starts a reply stream. The caller must Close the returned Stream.
func (c *Client) SendMessage(ctx context.Context, in SendRequest) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages", nil, in)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	s := &Stream{body: resp.Body, buf: make([]byte, 4096)}
	if resp.Header.Get("X-Relay-Outcome") == "fallback" {
		defer resp.Body.Close()
		var fb struct {
			Message
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&fb); err != nil {
			return nil, fmt.Errorf("decode fallback: %w", err)
		}
		s.fallback = &fb.Message
		s.fallbackErr = fb.Error
		s.done = true
	}
	return s, nil
}

// Stream yields reply text in arrival order. Chunks never split a UTF-8 sequence.
type Stream struct {
	body        io.ReadCloser
	buf         []byte
	pending     []byte
	done        bool
	fallback    *Message
	fallbackErr string
}

// Next returns the next text chunk, or io.EOF once the reply is complete.
func (s *Stream) Next() (string, error) {
	for !s.done {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.buf[:n]...)
			cut := completePrefix(s.pending)
			if cut > 0 {
				chunk := string(s.pending[:cut])
				s.pending = append(s.pending[:0], s.pending[cut:]...)
				if errors.Is(err, io.EOF) {
					s.done = true
				}
				return chunk, nil
			}
		}
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return "", err
		}
	}
	if len(s.pending) > 0 {
		chunk := string(s.pending)
		s.pending = nil
		return chunk, nil
	}
	return "", io.EOF
}

// Fallback returns the stored fallback reply when the provider failed before streaming.
func (s *Stream) Fallback() (*Message, string, bool) {
	return s.fallback, s.fallbackErr, s.fallback != nil
}

func (s *Stream) Close() error {
	return s.body.Close()
}

// completePrefix returns the length of the longest prefix of b that does not end inside a rune.
func completePrefix(b []byte) int {
	end := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				end = i
			}
			break
		}
	}
	return end
}
