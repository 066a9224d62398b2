package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	// ErrBusy is returned when a send or rerun is already in flight for the conversation.
	ErrBusy = errors.New("conversation is busy")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotUserTurn is returned when Edit or Rerun targets anything but a stored user message.
	ErrNotUserTurn = errors.New("entry is not a stored user message")
)

// State is the lifecycle of a Conversation.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EntryKind tags what an Entry represents.
type EntryKind int

const (
	// Persisted entries mirror a stored message and carry its ID.
	Persisted EntryKind = iota
	// PendingSend is the optimistic copy of a user message not yet acknowledged.
	PendingSend
	// Streaming is the assistant reply being received.
	Streaming
)

// Entry is one rendered message in a conversation.
type Entry struct {
	Kind    EntryKind
	ID      string // set for Persisted only
	Role    string
	Content string
}

// API is the part of Client a Conversation uses.
type API interface {
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	SendMessage(ctx context.Context, in SendRequest) (*Stream, error)
}

// ConversationOption customizes a Conversation.
type ConversationOption func(*Conversation)

// OnChunk registers a callback invoked with every received chunk.
func OnChunk(fn func(chunk string)) ConversationOption {
	return func(c *Conversation) { c.onChunk = fn }
}

// OnState registers a callback invoked on every state transition.
func OnState(fn func(State)) ConversationOption {
	return func(c *Conversation) { c.onState = fn }
}

// WithHistory shares an input recall buffer across conversations.
func WithHistory(h *History) ConversationOption {
	return func(c *Conversation) { c.history = h }
}

// Conversation holds the local view of one chat and drives sends against the API.
// Only one send or rerun runs at a time.
type Conversation struct {
	api     API
	chatID  string
	tutorID string
	history *History
	onChunk func(string)
	onState func(State)

	mu      sync.Mutex
	state   State
	entries []Entry
	lastErr error
}

// NewConversation creates an idle conversation for chatID with tutorID.
func NewConversation(api API, chatID, tutorID string, opts ...ConversationOption) *Conversation {
	c := &Conversation{api: api, chatID: chatID, tutorID: tutorID}
	for _, opt := range opts {
		opt(c)
	}
	if c.history == nil {
		c.history = NewHistory(DefaultHistoryLimit)
	}
	return c
}

// State returns the current state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the last failed operation.
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Entries returns a copy of the rendered messages.
func (c *Conversation) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// History returns the input recall buffer.
func (c *Conversation) History() *History {
	return c.history
}

// Load replaces local entries with the stored messages.
func (c *Conversation) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *Conversation) refresh(ctx context.Context) error {
	msgs, err := c.api.ListMessages(ctx, c.chatID)
	if err != nil {
		return err
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{Kind: Persisted, ID: m.ID, Role: m.Role, Content: m.Content})
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// setState must be called without c.mu held.
func (c *Conversation) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}

// begin moves Idle to Sending or reports ErrBusy.
func (c *Conversation) begin() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateSending
	c.lastErr = nil
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(StateSending)
	}
	return nil
}

// fail restores entries, passes through Error and lands on Idle.
func (c *Conversation) fail(restore []Entry, err error) error {
	c.mu.Lock()
	c.entries = restore
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateError)
	c.setState(StateIdle)
	return err
}

// Send optimistically appends text as a pending user entry, streams the reply into a
// placeholder and finally replaces local state with the stored messages.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if err := c.begin(); err != nil {
		return err
	}
	c.history.Add(text)

	c.mu.Lock()
	before := append([]Entry(nil), c.entries...)
	c.entries = append(c.entries, Entry{Kind: PendingSend, Role: RoleUser, Content: text})
	c.mu.Unlock()

	return c.run(ctx, before, SendRequest{ChatID: c.chatID, TutorID: c.tutorID, Content: text})
}

// Edit returns the text of the user entry at index so it can be placed in the input field.
// Local state is not changed.
func (c *Conversation) Edit(index int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.entries) {
		return "", fmt.Errorf("entry %d out of range", index)
	}
	e := c.entries[index]
	if e.Role != RoleUser {
		return "", ErrNotUserTurn
	}
	return e.Content, nil
}

// Rerun drops every entry after the stored user message at index and asks for a new reply.
// On failure the removed entries are restored.
func (c *Conversation) Rerun(ctx context.Context, index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.entries) {
		c.mu.Unlock()
		return fmt.Errorf("entry %d out of range", index)
	}
	turn := c.entries[index]
	c.mu.Unlock()
	if turn.Kind != Persisted || turn.Role != RoleUser {
		return ErrNotUserTurn
	}
	if err := c.begin(); err != nil {
		return err
	}

	c.mu.Lock()
	before := append([]Entry(nil), c.entries...)
	c.entries = append(c.entries[:index:index], turn)
	c.mu.Unlock()

	return c.run(ctx, before, SendRequest{
		ChatID:    c.chatID,
		TutorID:   c.tutorID,
		Content:   turn.Content,
		Rerun:     true,
		MessageID: turn.ID,
	})
}

func (c *Conversation) run(ctx context.Context, restore []Entry, req SendRequest) error {
	stream, err := c.api.SendMessage(ctx, req)
	if err != nil {
		return c.fail(restore, err)
	}
	defer stream.Close()

	c.mu.Lock()
	c.entries = append(c.entries, Entry{Kind: Streaming, Role: RoleAssistant})
	c.mu.Unlock()
	c.setState(StateStreaming)

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.fail(restore, err)
		}
		c.mu.Lock()
		c.entries[len(c.entries)-1].Content += chunk
		c.mu.Unlock()
		if c.onChunk != nil {
			c.onChunk(chunk)
		}
	}

	if err := c.refresh(ctx); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.setState(StateError)
		c.setState(StateIdle)
		return err
	}
	c.setState(StateIdle)
	return nil
}
