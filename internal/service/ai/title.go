package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MaxTitleWords bounds generated chat titles.
const MaxTitleWords = 6

var ErrEmptyTitle = errors.New("empty title")

const titlePrompt = "You are a conversation title generator. " +
	"Based on the student's first message, generate a concise title for the conversation. " +
	"Use at most six words and summarize the main topic. " +
	"Output only the title; do not include quotes or any additional content."

// GenerateTitle asks the model for a short title describing the first user message.
func GenerateTitle(ctx context.Context, cm model.BaseChatModel, firstMessage string, opts ...model.Option) (string, error) {
	firstMessage = strings.TrimSpace(firstMessage)
	if firstMessage == "" {
		return "", ErrEmptyTitle
	}
	resp, err := cm.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: titlePrompt},
		{Role: schema.User, Content: fmt.Sprintf("Please generate a title for this message:\n\n%s", firstMessage)},
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyTitle
	}
	title := CleanTitle(resp.Content)
	if title == "" {
		return "", ErrEmptyTitle
	}
	return title, nil
}

// CleanTitle drops reasoning blocks, surrounding quotes and trailing punctuation,
// and clips the result to MaxTitleWords words.
func CleanTitle(raw string) string {
	raw = stripThinking(raw)
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if len(raw) >= 6 && strings.EqualFold(raw[:6], "title:") {
		raw = raw[6:]
	}
	raw = strings.Trim(raw, titleCutset)
	words := strings.Fields(raw)
	if len(words) > MaxTitleWords {
		words = words[:MaxTitleWords]
	}
	return strings.Trim(strings.Join(words, " "), titleCutset)
}

const titleCutset = "\"'`*“”.,:; "

// stripThinking removes <think>...</think> blocks emitted by reasoning models.
func stripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			return strings.TrimSpace(s)
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			return strings.TrimSpace(s[:start])
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
}
