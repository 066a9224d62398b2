package ai

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel is a scripted chat model for local runs and tests.
// Stream emits Chunks in order; Generate answers with Title.
type MockChatModel struct {
	Chunks []string
	Title  string
	Delay  time.Duration

	// StreamErr fails Stream before any chunk when FailAfter < 0,
	// otherwise after FailAfter chunks were emitted.
	StreamErr   error
	FailAfter   int
	GenerateErr error

	mu        sync.Mutex
	streamed  [][]*schema.Message
	generated [][]*schema.Message
}

// NewMockChatModel returns a model that streams a short canned reply.
func NewMockChatModel() *MockChatModel {
	return &MockChatModel{
		Chunks:    []string{"This is ", "a mock ", "tutor reply."},
		Title:     "Mock Conversation",
		FailAfter: -1,
	}
}

var _ model.BaseChatModel = (*MockChatModel)(nil)

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.generated = append(m.generated, input)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	if m.Title != "" {
		return &schema.Message{Role: schema.Assistant, Content: m.Title}, nil
	}
	return &schema.Message{Role: schema.Assistant, Content: strings.Join(m.Chunks, "")}, nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.streamed = append(m.streamed, input)
	m.mu.Unlock()
	if m.StreamErr != nil && m.FailAfter < 0 {
		return nil, m.StreamErr
	}

	sr, sw := schema.Pipe[*schema.Message](len(m.Chunks))
	go func() {
		defer sw.Close()
		for i, chunk := range m.Chunks {
			if m.StreamErr != nil && i == m.FailAfter {
				sw.Send(nil, m.StreamErr)
				return
			}
			if m.Delay > 0 {
				select {
				case <-ctx.Done():
					sw.Send(nil, ctx.Err())
					return
				case <-time.After(m.Delay):
				}
			} else if err := ctx.Err(); err != nil {
				sw.Send(nil, err)
				return
			}
			if closed := sw.Send(&schema.Message{Role: schema.Assistant, Content: chunk}, nil); closed {
				return
			}
		}
		if m.StreamErr != nil && m.FailAfter >= len(m.Chunks) {
			sw.Send(nil, m.StreamErr)
		}
	}()
	return sr, nil
}

// StreamInputs returns the prompts passed to Stream so far.
func (m *MockChatModel) StreamInputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.streamed...)
}

// GenerateCalls reports how many times Generate was invoked.
func (m *MockChatModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.generated)
}
