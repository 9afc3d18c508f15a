package models

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the backends understand.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// ChatMessage represents a single conversational message.
type ChatMessage struct {
	Role    Role
	Content string
}

// ChatRequest is the canonical request handed to the router after the HTTP
// layer has decoded either the chat completions or the responses shape.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
	Stream   bool
	Options  map[string]any
}

// TranslatedPrompt is the flattened form of a conversation passed to a CLI.
type TranslatedPrompt struct {
	SystemPrompt string
	Prompt       string
}

// Owner is the organisation a model is attributed to.
type Owner string

const (
	OwnerAnthropic Owner = "anthropic"
	OwnerOpenAI    Owner = "openai"
	OwnerGoogle    Owner = "google"
	OwnerUnknown   Owner = "unknown"
)

// ModelDescriptor identifies a model the backend accepts.
type ModelDescriptor struct {
	ID      string `json:"id"`
	OwnedBy Owner  `json:"owned_by"`
}

// Completion is the result of a buffered execution.
type Completion struct {
	Model string
	Text  string
}
