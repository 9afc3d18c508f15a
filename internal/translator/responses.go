package translator

import (
	"encoding/json"
	"strconv"
	"strings"

	"cligate/internal/models"
)

const (
	responseIDPrefix = "resp_"
	messageIDPrefix  = "msg_"
	responseIDLength = 20
)

var ignoredResponseParams = []string{"temperature", "max_output_tokens", "top_p", "presence_penalty", "frequency_penalty"}

// ResponsesRequest models the OpenAI /v1/responses request payload. Input and
// Instructions keep their decoded JSON form until Messages normalises them.
type ResponsesRequest struct {
	Model        string
	Input        any
	Instructions any
	Stream       bool
	Options      map[string]any
}

// UnmarshalJSON decodes the request, lower-casing the model id.
func (r *ResponsesRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalid("", "request body must be a JSON object")
	}

	model, err := optionalString(raw, "model")
	if err != nil {
		return err
	}
	stream, err := optionalBool(raw, "stream")
	if err != nil {
		return err
	}

	var input, instructions any
	if v, ok := raw["input"]; ok {
		if err := json.Unmarshal(v, &input); err != nil {
			return invalid("input", `"input" is not valid JSON`)
		}
	}
	if v, ok := raw["instructions"]; ok {
		if err := json.Unmarshal(v, &instructions); err != nil {
			return invalid("instructions", `"instructions" is not valid JSON`)
		}
	}

	options := make(map[string]any)
	for _, name := range ignoredResponseParams {
		v, ok, err := optionalNumber(raw, name)
		if err != nil {
			return err
		}
		if ok {
			options[name] = v
		}
	}

	r.Model = strings.ToLower(strings.TrimSpace(model))
	r.Input = input
	r.Instructions = instructions
	r.Stream = stream
	r.Options = options
	return nil
}

// IgnoredParams lists "name=value" for each sampling parameter that was sent
// but will not be honoured.
func (r ResponsesRequest) IgnoredParams() []string {
	return ignoredParams(r.Options, ignoredResponseParams)
}

// ToChatRequest normalises input and instructions into chat messages.
func (r ResponsesRequest) ToChatRequest() models.ChatRequest {
	return models.ChatRequest{
		Model:    r.Model,
		Messages: InputToMessages(r.Input, r.Instructions),
		Stream:   r.Stream,
		Options:  r.Options,
	}
}

// InputToMessages converts a Responses API input into chat messages.
// Instructions become a leading system message. A string is one user message,
// an array yields one message per item and an object is a single message.
func InputToMessages(input, instructions any) []models.ChatMessage {
	var messages []models.ChatMessage

	if truthy(instructions) {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: ExtractText(instructions)})
	}

	switch v := input.(type) {
	case nil:
	case string:
		if v != "" {
			messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: v})
		}
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case string:
				if it != "" {
					messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: it})
				}
			case map[string]any:
				if content := ExtractText(it["content"]); content != "" {
					messages = append(messages, models.ChatMessage{Role: inputRole(it["role"]), Content: content})
				}
			}
		}
	case map[string]any:
		source := any(v)
		if truthy(v["content"]) {
			source = v["content"]
		} else if truthy(v["text"]) {
			source = v["text"]
		}
		content := ExtractText(source)
		if content == "" {
			content = marshalText(v)
		}
		messages = append(messages, models.ChatMessage{Role: inputRole(v["role"]), Content: content})
	default:
		messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: scalarText(v)})
	}

	return messages
}

// ExtractText flattens Responses API content into plain text. Arrays are
// joined with newlines, objects contribute their text or nested content and
// anything else unrecognised is rendered as JSON.
func ExtractText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			var part string
			switch it := item.(type) {
			case string:
				part = it
			case map[string]any:
				switch {
				case truthy(it["text"]):
					part = scalarText(it["text"])
				case truthy(it["content"]):
					part = ExtractText(it["content"])
				}
			}
			if part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		switch {
		case truthy(v["text"]):
			return scalarText(v["text"])
		case truthy(v["content"]):
			return ExtractText(v["content"])
		default:
			return marshalText(v)
		}
	default:
		return scalarText(v)
	}
}

// "developer" is the Responses API name for system instructions.
func inputRole(v any) models.Role {
	role, _ := v.(string)
	switch role {
	case "":
		return models.RoleUser
	case "developer":
		return models.RoleSystem
	default:
		return models.Role(role)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return ""
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return marshalText(t)
	}
}

func marshalText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Response is the /v1/responses envelope.
type Response struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	CreatedAt int64            `json:"created_at,omitempty"`
	Status    string           `json:"status"`
	Model     string           `json:"model"`
	Output    []ResponseOutput `json:"output,omitempty"`
	Usage     *ResponseUsage   `json:"usage,omitempty"`
}

// ResponseOutput is one output item; only assistant messages are produced.
type ResponseOutput struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Status  string       `json:"status,omitempty"`
	Role    string       `json:"role"`
	Content []OutputText `json:"content"`
}

// OutputText is an output_text content part.
type OutputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseUsage mirrors the Responses API usage block.
type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResponseEvent is a typed streaming event of the Responses API.
type ResponseEvent struct {
	Type         string    `json:"type"`
	Response     *Response `json:"response,omitempty"`
	Delta        string    `json:"delta,omitempty"`
	OutputIndex  *int      `json:"output_index,omitempty"`
	ContentIndex *int      `json:"content_index,omitempty"`
}

// FormatResponse wraps text in a completed response envelope.
func FormatResponse(text, model string, created int64) Response {
	return Response{
		ID:        NewResponseID(),
		Object:    "response",
		CreatedAt: created,
		Status:    "completed",
		Model:     model,
		Output:    []ResponseOutput{assistantOutput(NewMessageID(), "completed", text)},
		Usage: &ResponseUsage{
			InputTokens:  unknownTokens,
			OutputTokens: unknownTokens,
			TotalTokens:  unknownTokens,
		},
	}
}

// ResponseCreated opens a Responses stream.
func ResponseCreated(responseID, model string) ResponseEvent {
	return ResponseEvent{
		Type: "response.created",
		Response: &Response{
			ID:     responseID,
			Object: "response",
			Status: "in_progress",
			Model:  model,
		},
	}
}

// ResponseDelta carries one text fragment.
func ResponseDelta(fragment string) ResponseEvent {
	zero := 0
	return ResponseEvent{
		Type:         "response.output_text.delta",
		Delta:        fragment,
		OutputIndex:  &zero,
		ContentIndex: &zero,
	}
}

// ResponseCompleted closes a Responses stream with the accumulated text.
func ResponseCompleted(responseID, messageID, model, text string) ResponseEvent {
	return ResponseEvent{
		Type: "response.completed",
		Response: &Response{
			ID:     responseID,
			Object: "response",
			Status: "completed",
			Model:  model,
			Output: []ResponseOutput{assistantOutput(messageID, "", text)},
		},
	}
}

func assistantOutput(id, status, text string) ResponseOutput {
	return ResponseOutput{
		Type:    "message",
		ID:      id,
		Status:  status,
		Role:    "assistant",
		Content: []OutputText{{Type: "output_text", Text: text}},
	}
}

// NewResponseID returns a fresh response id.
func NewResponseID() string {
	return responseIDPrefix + shortID(responseIDLength)
}

// NewMessageID returns a fresh output message id.
func NewMessageID() string {
	return messageIDPrefix + shortID(responseIDLength)
}
