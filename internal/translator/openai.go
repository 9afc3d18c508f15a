package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"cligate/internal/models"
)

// ValidationError reports a malformed request field. Param is the dotted path
// of the offending field, e.g. "messages.0.role".
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(param, format string, args ...any) *ValidationError {
	return &ValidationError{Param: param, Message: fmt.Sprintf(format, args...)}
}

// Sampling parameters the CLIs cannot honour. They are accepted and reported
// so the caller can log them.
var ignoredChatParams = []string{"temperature", "max_tokens", "top_p", "presence_penalty", "frequency_penalty"}

// ChatCompletionRequest models the OpenAI chat/completions request payload.
// Unknown fields are tolerated.
type ChatCompletionRequest struct {
	Model    string
	Messages []models.ChatMessage
	Stream   bool
	Options  map[string]any
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
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
	messages, err := parseMessages(raw["messages"])
	if err != nil {
		return err
	}
	options, err := parseChatOptions(raw)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(model)
	r.Messages = messages
	r.Stream = stream
	r.Options = options
	return nil
}

// ToChatRequest converts the OpenAI request into the canonical format.
func (r ChatCompletionRequest) ToChatRequest() models.ChatRequest {
	options := make(map[string]any, len(r.Options))
	for k, v := range r.Options {
		options[k] = v
	}
	return models.ChatRequest{
		Model:    r.Model,
		Messages: r.Messages,
		Stream:   r.Stream,
		Options:  options,
	}
}

// IgnoredParams lists "name=value" for each sampling parameter that was sent
// but will not be honoured.
func (r ChatCompletionRequest) IgnoredParams() []string {
	return ignoredParams(r.Options, ignoredChatParams)
}

func parseMessages(raw json.RawMessage) ([]models.ChatMessage, error) {
	if isAbsent(raw) {
		return nil, invalid("messages", `"messages" is required`)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalid("messages", `"messages" must be an array`)
	}
	if len(items) == 0 {
		return nil, invalid("messages", `"messages" must contain at least 1 items`)
	}

	out := make([]models.ChatMessage, 0, len(items))
	for i, item := range items {
		msg, err := parseMessage(i, item)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func parseMessage(index int, data json.RawMessage) (models.ChatMessage, error) {
	path := fmt.Sprintf("messages.%d", index)
	label := fmt.Sprintf("messages[%d]", index)

	var raw struct {
		Role    json.RawMessage `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.ChatMessage{}, invalid(path, "%q must be of type object", label)
	}

	if isAbsent(raw.Role) {
		return models.ChatMessage{}, invalid(path+".role", "%q is required", label+".role")
	}
	var role string
	if err := json.Unmarshal(raw.Role, &role); err != nil || !models.Role(role).Valid() {
		return models.ChatMessage{}, invalid(path+".role", "%q must be one of [system, user, assistant]", label+".role")
	}

	if isAbsent(raw.Content) {
		return models.ChatMessage{}, invalid(path+".content", "%q is required", label+".content")
	}
	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return models.ChatMessage{}, invalid(path+".content", "%q %s", label+".content", err.Error())
	}
	if content == "" {
		return models.ChatMessage{}, invalid(path+".content", "%q is not allowed to be empty", label+".content")
	}

	return models.ChatMessage{Role: models.Role(role), Content: content}, nil
}

// extractMessageContent accepts a string or an array of text segments.
func extractMessageContent(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("segment type %q is not supported", segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", errors.New("must be a string")
}

func parseChatOptions(raw map[string]json.RawMessage) (map[string]any, error) {
	options := make(map[string]any)

	bounded := func(name string, lo, hi float64) error {
		v, ok, err := optionalNumber(raw, name)
		if err != nil || !ok {
			return err
		}
		if v < lo || v > hi {
			return invalid(name, "%q must be between %g and %g", name, lo, hi)
		}
		options[name] = v
		return nil
	}
	positiveInt := func(name string) error {
		v, ok, err := optionalNumber(raw, name)
		if err != nil || !ok {
			return err
		}
		if v != math.Trunc(v) || v <= 0 {
			return invalid(name, "%q must be a positive integer", name)
		}
		options[name] = int(v)
		return nil
	}
	number := func(name string) error {
		v, ok, err := optionalNumber(raw, name)
		if err != nil || !ok {
			return err
		}
		options[name] = v
		return nil
	}

	for _, step := range []func() error{
		func() error { return bounded("temperature", 0, 2) },
		func() error { return bounded("top_p", 0, 1) },
		func() error { return positiveInt("max_tokens") },
		func() error { return positiveInt("n") },
		func() error { return number("frequency_penalty") },
		func() error { return number("presence_penalty") },
	} {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if stop, ok := raw["stop"]; ok && !isAbsent(stop) {
		values, err := parseStop(stop)
		if err != nil {
			return nil, err
		}
		options["stop"] = values
	}
	if user, err := optionalString(raw, "user"); err != nil {
		return nil, err
	} else if user != "" {
		options["user"] = user
	}

	return options, nil
}

func parseStop(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}
	return nil, invalid("stop", `"stop" must be a string or an array of strings`)
}

func ignoredParams(options map[string]any, names []string) []string {
	var out []string
	for _, name := range names {
		if v, ok := options[name]; ok {
			out = append(out, fmt.Sprintf("%s=%v", name, v))
		}
	}
	sort.Strings(out)
	return out
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func optionalString(raw map[string]json.RawMessage, name string) (string, error) {
	value, ok := raw[name]
	if !ok || isAbsent(value) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", invalid(name, "%q must be a string", name)
	}
	return s, nil
}

func optionalBool(raw map[string]json.RawMessage, name string) (bool, error) {
	value, ok := raw[name]
	if !ok || isAbsent(value) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(value, &b); err != nil {
		return false, invalid(name, "%q must be a boolean", name)
	}
	return b, nil
}

func optionalNumber(raw map[string]json.RawMessage, name string) (float64, bool, error) {
	value, ok := raw[name]
	if !ok || isAbsent(value) {
		return 0, false, nil
	}
	var n float64
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, false, invalid(name, "%q must be a number", name)
	}
	return n, true, nil
}
