package ai

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"tutorchat/internal/models"
)

// SystemPrompt renders the tutor persona instruction.
func SystemPrompt(t *models.Tutor) string {
	return fmt.Sprintf("You are %s, a tutor specializing in %s. %s "+
		"Be helpful, encouraging, and educational in your responses. "+
		"Explain concepts clearly and provide examples when appropriate. "+
		"Keep your responses concise and focused on the student's questions.",
		t.Name, t.Subject, t.Description)
}

// BuildPrompt puts the persona instruction first, followed by the stored history.
func BuildPrompt(t *models.Tutor, history []*models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: SystemPrompt(t),
	})
	for _, msg := range history {
		if msg == nil {
			continue
		}
		role := schema.User
		if msg.Role == models.RoleAssistant {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
