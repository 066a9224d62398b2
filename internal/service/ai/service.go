package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"tutorchat/internal/config"
)

// NewChatModel builds the completion provider client described by cfg.
// It is constructed once at startup and shared by every request.
func NewChatModel(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	if strings.EqualFold(cfg.Name, "mock") {
		return NewMockChatModel(), nil
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider model must be configured")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 3000
	}

	switch strings.ToLower(cfg.Name) {
	case "openai":
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai model: %w", err)
		}
		return cm, nil
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: cfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini model: %w", err)
		}
		return cm, nil
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			u := cfg.BaseURL
			baseURL = &u
		}
		cm, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("init claude model: %w", err)
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Name)
	}
}
