package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tutorchat/internal/metrics"
	"tutorchat/internal/models"
	"tutorchat/internal/service/ai"
	"tutorchat/internal/service/chats"
)

// FallbackMessage is stored as the assistant reply when the provider fails.
const FallbackMessage = "I'm sorry, I encountered an error processing your request. Please try again later."

// fallbackSeparator joins a partial reply and the fallback notice.
const fallbackSeparator = "\n\n"

const titleTimeout = 30 * time.Second

// ErrBusy is returned when the configured number of concurrent streams is exhausted.
var ErrBusy = errors.New("server is busy, please retry")

// Outcome classifies how a relay stream ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
	OutcomeCanceled Outcome = "canceled"
)

// ProviderError wraps a failure reported by the completion provider.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "completion provider: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Store is the slice of the persistence gateway the relay depends on.
type Store interface {
	GetTutor(ctx context.Context, id string) (*models.Tutor, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	TouchChat(ctx context.Context, id string) (time.Time, error)
	AppendMessage(ctx context.Context, chatID string, role models.Role, content string) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]*models.Message, error)
	GetMessage(ctx context.Context, chatID, id string) (*models.Message, error)
	CountMessages(ctx context.Context, chatID string) (int, error)
	TruncateAfter(ctx context.Context, chatID, messageID string) (int64, error)
	SetChatTitle(ctx context.Context, id, title string) error
}

// Request is one send-message call.
type Request struct {
	ChatID  string
	TutorID string
	Content string
	Rerun   bool
	// RerunMessageID discards stored history after this message before a rerun.
	RerunMessageID string
}

// Result describes what a relay call persisted.
type Result struct {
	Outcome          Outcome
	UserMessage      *models.Message // nil on rerun
	AssistantMessage *models.Message // nil when canceled before any text
	Title            string
	Chunks           int
	Fallback         bool
	ProviderErr      error
}

// Config tunes a Service.
type Config struct {
	StreamTimeout        time.Duration
	MaxConcurrentStreams int
	TitleOptions         []model.Option
}

// Service streams tutor replies from the completion provider and persists them.
type Service struct {
	store  Store
	model  model.BaseChatModel
	log    *zap.Logger
	cfg    Config
	slots  chan struct{}
	tracer trace.Tracer
}

// NewService wires the relay to its store and provider.
func NewService(store Store, cm model.BaseChatModel, log *zap.Logger, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 2 * time.Minute
	}
	s := &Service{
		store:  store,
		model:  cm,
		log:    log,
		cfg:    cfg,
		tracer: otel.Tracer("tutorchat/relay"),
	}
	if cfg.MaxConcurrentStreams > 0 {
		s.slots = make(chan struct{}, cfg.MaxConcurrentStreams)
	}
	return s
}

// Respond stores the user turn, streams the tutor's reply through emit chunk by chunk,
// and stores the final assistant turn. Provider failures are reported through
// Result.ProviderErr with a stored fallback reply; the returned error is reserved for
// validation, lookup and storage failures.
func (s *Service) Respond(ctx context.Context, req Request, emit func(chunk string) error) (*Result, error) {
	if strings.TrimSpace(req.ChatID) == "" || strings.TrimSpace(req.TutorID) == "" || strings.TrimSpace(req.Content) == "" {
		return nil, &chats.ValidationError{Message: "chatId, content, and tutorId are required"}
	}
	ctx, span := s.tracer.Start(ctx, "relay.respond", trace.WithAttributes(
		attribute.String("chat.id", req.ChatID),
		attribute.String("tutor.id", req.TutorID),
		attribute.Bool("relay.rerun", req.Rerun),
	))
	defer span.End()

	res, err := s.respond(ctx, req, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("relay.outcome", string(res.Outcome)),
		attribute.Int("relay.chunks", res.Chunks),
	)
	return res, nil
}

func (s *Service) respond(ctx context.Context, req Request, emit func(string) error) (*Result, error) {
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		default:
			return nil, ErrBusy
		}
	}

	tutor, err := s.store.GetTutor(ctx, req.TutorID)
	if err != nil {
		return nil, err
	}
	chat, err := s.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	// counted before a rerun truncates, so only a chat's first exchange is titled
	prior, err := s.store.CountMessages(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	if req.Rerun && req.RerunMessageID != "" {
		if err := s.checkRerunTarget(ctx, req); err != nil {
			return nil, err
		}
		if _, err := s.store.TruncateAfter(ctx, req.ChatID, req.RerunMessageID); err != nil {
			return nil, err
		}
	}

	res := &Result{}
	if !req.Rerun {
		msg, err := s.store.AppendMessage(ctx, req.ChatID, models.RoleUser, req.Content)
		if err != nil {
			return nil, err
		}
		metrics.MessagesPersisted.WithLabelValues(string(models.RoleUser)).Inc()
		res.UserMessage = msg
	}
	if _, err := s.store.TouchChat(ctx, req.ChatID); err != nil {
		return nil, err
	}
	history, err := s.store.ListMessages(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	if req.Rerun && !endsWithUserTurn(history, req.Content) {
		history = append(history, &models.Message{ChatID: req.ChatID, Role: models.RoleUser, Content: req.Content})
	}
	prompt := ai.BuildPrompt(tutor, history)

	var (
		wg    sync.WaitGroup
		title string
	)
	if prior <= 1 && chat.Title == "" {
		first := firstUserContent(history, req.Content)
		wg.Add(1)
		go func() {
			defer wg.Done()
			title = s.generateTitle(ctx, req.ChatID, first)
		}()
	}

	streamCtx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	text, chunks, streamErr := s.stream(streamCtx, prompt, emit)
	cancel()
	res.Chunks = chunks
	metrics.RelayChunks.Observe(float64(chunks))

	// the request context may already be gone; the final writes must still land
	persistCtx := context.WithoutCancel(ctx)
	var persistErr error
	switch {
	case streamErr == nil && text != "":
		res.Outcome = OutcomeOK
		res.AssistantMessage, persistErr = s.persistAssistant(persistCtx, req.ChatID, text)
	case ctx.Err() != nil || errors.Is(streamErr, errEmit):
		res.Outcome = OutcomeCanceled
		s.log.Info("relay canceled by client",
			zap.String("chat_id", req.ChatID), zap.Int("chunks", chunks))
		if text != "" {
			res.AssistantMessage, persistErr = s.persistAssistant(persistCtx, req.ChatID, text)
		}
	default:
		if streamErr == nil {
			streamErr = errors.New("empty completion")
		}
		res.Outcome = OutcomeFallback
		res.Fallback = true
		res.ProviderErr = &ProviderError{Err: streamErr}
		s.log.Warn("completion provider failed, storing fallback",
			zap.String("chat_id", req.ChatID), zap.Int("chunks", chunks), zap.Error(streamErr))
		stored := FallbackMessage
		if chunks > 0 {
			// the reader already has part of the reply; finish it with the notice
			tail := fallbackSeparator + FallbackMessage
			if emit != nil {
				if err := emit(tail); err != nil {
					s.log.Info("emit fallback notice", zap.String("chat_id", req.ChatID), zap.Error(err))
				}
			}
			stored = text + tail
		}
		res.AssistantMessage, persistErr = s.persistAssistant(persistCtx, req.ChatID, stored)
	}
	metrics.RelayStreams.WithLabelValues(string(res.Outcome)).Inc()

	wg.Wait()
	res.Title = title
	if persistErr != nil {
		return res, persistErr
	}
	return res, nil
}

var errEmit = errors.New("emit chunk")

// stream forwards every non-empty increment to emit in arrival order and returns the concatenation.
func (s *Service) stream(ctx context.Context, prompt []*schema.Message, emit func(string) error) (string, int, error) {
	ctx, span := s.tracer.Start(ctx, "relay.stream")
	defer span.End()

	start := time.Now()
	sr, err := s.model.Stream(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return "", 0, err
	}
	defer sr.Close()

	var (
		sb     strings.Builder
		chunks int
	)
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), chunks, nil
		}
		if err != nil {
			span.RecordError(err)
			return sb.String(), chunks, err
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if chunks == 0 {
			metrics.RelayFirstChunk.Observe(time.Since(start).Seconds())
		}
		sb.WriteString(msg.Content)
		chunks++
		if emit != nil {
			if err := emit(msg.Content); err != nil {
				return sb.String(), chunks, fmt.Errorf("%w: %v", errEmit, err)
			}
		}
	}
}

func (s *Service) persistAssistant(ctx context.Context, chatID, content string) (*models.Message, error) {
	msg, err := s.store.AppendMessage(ctx, chatID, models.RoleAssistant, content)
	if err != nil {
		s.log.Error("store assistant message", zap.String("chat_id", chatID), zap.Error(err))
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues(string(models.RoleAssistant)).Inc()
	return msg, nil
}

// generateTitle never fails the caller; errors are logged and an empty title returned.
func (s *Service) generateTitle(ctx context.Context, chatID, firstMessage string) string {
	ctx, span := s.tracer.Start(ctx, "relay.title")
	defer span.End()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
	defer cancel()

	title, err := ai.GenerateTitle(ctx, s.model, firstMessage, s.cfg.TitleOptions...)
	if err == nil {
		err = s.store.SetChatTitle(ctx, chatID, title)
	}
	if err != nil {
		span.RecordError(err)
		metrics.TitleGenerations.WithLabelValues("error").Inc()
		s.log.Warn("generate chat title", zap.String("chat_id", chatID), zap.Error(err))
		return ""
	}
	metrics.TitleGenerations.WithLabelValues("ok").Inc()
	return title
}

// checkRerunTarget accepts only a stored user turn whose text matches the resent content.
func (s *Service) checkRerunTarget(ctx context.Context, req Request) error {
	target, err := s.store.GetMessage(ctx, req.ChatID, req.RerunMessageID)
	if err != nil {
		return err
	}
	if target.Role != models.RoleUser {
		return &chats.ValidationError{Field: "messageId", Message: "messageId must reference a user message"}
	}
	if strings.TrimSpace(target.Content) != strings.TrimSpace(req.Content) {
		return &chats.ValidationError{Field: "content", Message: "content does not match the rerun message"}
	}
	return nil
}

func endsWithUserTurn(history []*models.Message, content string) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	return last.Role == models.RoleUser && strings.TrimSpace(last.Content) == strings.TrimSpace(content)
}

func firstUserContent(history []*models.Message, fallback string) string {
	for _, m := range history {
		if m.Role == models.RoleUser {
			return m.Content
		}
	}
	return fallback
}
