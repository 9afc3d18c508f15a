package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	completionIDPrefix = "chatcmpl-copilot-"
	shortIDLength      = 12

	// StreamTerminator ends every SSE stream.
	StreamTerminator = "data: [DONE]\n\n"
)

// Token counts are unavailable from the CLIs.
const unknownTokens = -1

// Message is an assistant message in a completion response.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage mirrors the token usage block in OpenAI responses.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse models the OpenAI-compatible chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChunkDelta is the incremental part of a streaming chunk.
type ChunkDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChunkChoice is the single choice carried by a streaming chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one chat.completion.chunk event.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// StreamError is the in-band error frame sent once a stream has started.
type StreamError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the OpenAI error object.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// FormatCompletion wraps text as a single assistant choice.
func FormatCompletion(text, model string, created int64) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     unknownTokens,
			CompletionTokens: unknownTokens,
			TotalTokens:      unknownTokens,
		},
	}
}

// FormatStreamChunk builds one chunk. The first chunk announces the assistant
// role, the last carries an empty delta and finish_reason "stop".
func FormatStreamChunk(fragment, model, streamID string, created int64, first, last bool) ChatCompletionChunk {
	choice := ChunkChoice{Index: 0}
	switch {
	case last:
		stop := "stop"
		choice.FinishReason = &stop
	case first:
		choice.Delta = ChunkDelta{Role: "assistant", Content: &fragment}
	default:
		choice.Delta = ChunkDelta{Content: &fragment}
	}

	return ChatCompletionChunk{
		ID:      streamID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{choice},
	}
}

// NewStreamError builds the in-band error frame payload.
func NewStreamError(message string) StreamError {
	return StreamError{Error: ErrorDetail{Message: message, Type: "server_error", Code: "stream_error"}}
}

// SSEFrame serialises payload as a single "data:" event.
func SSEFrame(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE payload: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// NewCompletionID returns a fresh completion id.
func NewCompletionID() string {
	return completionIDPrefix + shortID(shortIDLength)
}

// NewStreamID returns a fresh stream id in the completion namespace.
func NewStreamID() string {
	return NewCompletionID()
}

func shortID(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}
