package cheval

import (
	"encoding/json"
	"fmt"

	"github.com/hounfour/cheval/internal/config"
)

// wireMessage is the OpenAI chat-completions message shape. Content keeps
// pointer semantics so an assistant message carrying only tool calls can
// omit the field entirely.
type wireMessage struct {
	Role       string            `json:"role"`
	Content    *string           `json:"content,omitempty"`
	ToolCalls  []json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

type wireBody struct {
	Model       string            `json:"model"`
	Messages    []wireMessage     `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage   `json:"tool_choice,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

// BuildProviderBody translates a canonical request into an OpenAI-compatible
// wire body. Missing message content is coerced to "" except for assistant
// messages that carry tool calls, where the field is dropped.
func BuildProviderBody(req *Request, stream bool) ([]byte, error) {
	body := wireBody{
		Model:    req.Model,
		Messages: make([]wireMessage, 0, len(req.Messages)),
		Tools:    req.Tools,
		Stream:   stream,
	}

	for _, msg := range req.Messages {
		wm := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		if wm.Content == nil {
			if !(msg.Role == "assistant" && len(msg.ToolCalls) > 0) {
				empty := ""
				wm.Content = &empty
			}
		}
		body.Messages = append(body.Messages, wm)
	}

	if opts := req.Options; opts != nil {
		body.Temperature = opts.Temperature
		body.TopP = opts.TopP
		body.MaxTokens = opts.MaxTokens
		body.Stop = opts.Stop
		body.ToolChoice = opts.ToolChoice
	}

	return json.Marshal(body)
}

// ResolveProviderSecrets interpolates {env:...} and {file:...} tokens in the
// provider's credential fields so callers can reference secrets instead of
// embedding them. Runs after signature verification; the signature covers
// the tokens, not the resolved values.
func (r *Request) ResolveProviderSecrets(opts config.ResolveOptions) error {
	for _, field := range []*string{&r.Provider.APIKey, &r.Provider.BaseURL} {
		resolved, err := config.Interpolate(*field, opts)
		if err != nil {
			return fmt.Errorf("resolve provider config: %w", err)
		}
		*field = resolved
	}
	return nil
}

// Validate checks the fields every request must carry before it reaches the
// provider pipeline. Returns a human-readable problem list; empty is valid.
func (r *Request) Validate() []string {
	var errs []string
	if r.Model == "" {
		errs = append(errs, "'model' is required")
	}
	if len(r.Messages) == 0 {
		errs = append(errs, "'messages' must not be empty")
	}
	if r.Provider.Name == "" || r.Provider.BaseURL == "" || r.Provider.APIKey == "" {
		errs = append(errs, "'provider' requires name, base_url and api_key")
	}
	if r.Metadata.TraceID == "" {
		errs = append(errs, "'metadata.trace_id' is required")
	}
	return errs
}
