// Package transform flattens an OpenAI style conversation into the single
// prompt string and system prompt the CLI backends accept.
package transform

import (
	"strings"

	"cligate/internal/models"
)

const (
	historyHeader = "Previous conversation:"
	currentHeader = "Current request:"
)

// Transform hoists system messages into SystemPrompt and renders the rest of
// the conversation into Prompt. It never fails; an empty input yields an
// empty TranslatedPrompt.
func Transform(messages []models.ChatMessage) models.TranslatedPrompt {
	var system []string
	conversation := make([]models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		conversation = append(conversation, msg)
	}

	return models.TranslatedPrompt{
		SystemPrompt: strings.Join(system, "\n\n"),
		Prompt:       buildPrompt(conversation),
	}
}

func buildPrompt(messages []models.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) == 1 && messages[0].Role == models.RoleUser {
		return messages[0].Content
	}

	last := len(messages) - 1
	lines := make([]string, 0, len(messages)+3)
	if last > 0 {
		lines = append(lines, historyHeader)
		for _, msg := range messages[:last] {
			lines = append(lines, speaker(msg.Role)+": "+msg.Content)
		}
		lines = append(lines, "", currentHeader)
	}
	lines = append(lines, messages[last].Content)

	return strings.Join(lines, "\n")
}

func speaker(role models.Role) string {
	if role == models.RoleUser {
		return "User"
	}
	return "Assistant"
}
