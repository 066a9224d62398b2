package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationSendAndRerun(t *testing.T) {
	c, model := newTestAPI(t)
	tutor, chat := newChat(t, c)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		chunks []string
		states []State
	)
	conv := NewConversation(c, chat.ID, tutor.ID,
		OnChunk(func(s string) { mu.Lock(); chunks = append(chunks, s); mu.Unlock() }),
		OnState(func(s State) { mu.Lock(); states = append(states, s); mu.Unlock() }),
	)
	require.NoError(t, conv.Load(ctx))
	assert.Empty(t, conv.Entries())

	require.NoError(t, conv.Send(ctx, "What is a derivative?"))
	entries := conv.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, Persisted, e.Kind)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, "This is a mock tutor reply.", entries[1].Content)
	assert.Equal(t, "This is a mock tutor reply.", strings.Join(chunks, ""))
	assert.Equal(t, []State{StateSending, StateStreaming, StateIdle}, states)
	assert.Equal(t, StateIdle, conv.State())

	text, err := conv.Edit(0)
	require.NoError(t, err)
	assert.Equal(t, "What is a derivative?", text)
	_, err = conv.Edit(1)
	assert.ErrorIs(t, err, ErrNotUserTurn)
	assert.Len(t, conv.Entries(), 2)

	model.Chunks = []string{"A derivative ", "is a slope."}
	require.NoError(t, conv.Rerun(ctx, 0))
	entries = conv.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "What is a derivative?", entries[0].Content)
	assert.Equal(t, "A derivative is a slope.", entries[1].Content)
	assert.Equal(t, 1, conv.History().Len())
}

// scriptedAPI serves canned streams and records what was requested.
type scriptedAPI struct {
	mu       sync.Mutex
	stored   []Message
	sendErr  error
	body     io.ReadCloser
	requests []SendRequest
	observed []Entry
	conv     *Conversation
}

func (s *scriptedAPI) ListMessages(context.Context, string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.stored...), nil
}

func (s *scriptedAPI) SendMessage(_ context.Context, in SendRequest) (*Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, in)
	s.mu.Unlock()
	if s.conv != nil {
		s.observed = s.conv.Entries()
	}
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &Stream{body: s.body, buf: make([]byte, 64)}, nil
}

type failingBody struct {
	sent bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "partial "), nil
	}
	return 0, errors.New("connection reset")
}

func (b *failingBody) Close() error { return nil }

func TestConversationSendRollsBackOnError(t *testing.T) {
	fake := &scriptedAPI{
		stored:  []Message{{ID: "m1", Role: RoleUser, Content: "earlier"}},
		sendErr: &APIError{Status: 500, Message: "Failed to create message"},
	}
	var states []State
	conv := NewConversation(fake, "chat", "tutor", OnState(func(s State) { states = append(states, s) }))
	fake.conv = conv
	require.NoError(t, conv.Load(context.Background()))

	err := conv.Send(context.Background(), "new question")
	require.Error(t, err)
	assert.Equal(t, err, conv.Err())

	// the optimistic entry was visible while the request was in flight
	require.Len(t, fake.observed, 2)
	assert.Equal(t, PendingSend, fake.observed[1].Kind)

	entries := conv.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, []State{StateSending, StateError, StateIdle}, states)
	assert.Equal(t, StateIdle, conv.State())
}

func TestConversationMidStreamFailureRemovesPlaceholder(t *testing.T) {
	fake := &scriptedAPI{body: &failingBody{}}
	conv := NewConversation(fake, "chat", "tutor")

	err := conv.Send(context.Background(), "hi")
	assert.EqualError(t, err, "connection reset")
	assert.Empty(t, conv.Entries())
	assert.Equal(t, StateIdle, conv.State())
}

func TestConversationRerunRestoresOnFailure(t *testing.T) {
	fake := &scriptedAPI{stored: []Message{
		{ID: "u1", Role: RoleUser, Content: "first"},
		{ID: "a1", Role: RoleAssistant, Content: "reply one"},
		{ID: "u2", Role: RoleUser, Content: "second"},
		{ID: "a2", Role: RoleAssistant, Content: "reply two"},
	}}
	conv := NewConversation(fake, "chat", "tutor")
	fake.conv = conv
	require.NoError(t, conv.Load(context.Background()))
	fake.sendErr = errors.New("offline")

	require.Error(t, conv.Rerun(context.Background(), 2))
	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.True(t, req.Rerun)
	assert.Equal(t, "u2", req.MessageID)
	assert.Equal(t, "second", req.Content)

	// the request went out with history truncated after the selected turn
	require.Len(t, fake.observed, 3)
	assert.Equal(t, "u2", fake.observed[2].ID)

	entries := conv.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "a2", entries[3].ID)

	assert.ErrorIs(t, conv.Rerun(context.Background(), 1), ErrNotUserTurn)
}

func TestConversationRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	body := &blockingBody{release: release}
	fake := &scriptedAPI{body: body}
	conv := NewConversation(fake, "chat", "tutor")

	done := make(chan error, 1)
	go func() { done <- conv.Send(context.Background(), "slow") }()
	require.Eventually(t, func() bool { return conv.State() == StateStreaming }, time.Second, time.Millisecond)

	assert.ErrorIs(t, conv.Send(context.Background(), "again"), ErrBusy)
	close(release)
	require.NoError(t, <-done)

	assert.ErrorIs(t, conv.Send(context.Background(), "   "), ErrEmptyMessage)
}

type blockingBody struct {
	release chan struct{}
}

func (b *blockingBody) Read([]byte) (int, error) {
	<-b.release
	return 0, io.EOF
}

func (b *blockingBody) Close() error { return nil }
