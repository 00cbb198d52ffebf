package cheval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hounfour/cheval/internal/config"
)

func strPtr(s string) *string { return &s }

func TestBuildProviderBody(t *testing.T) {
	t.Run("missing content coerces to empty string", func(t *testing.T) {
		req := &Request{
			Model:    "gpt-4o",
			Messages: []Message{{Role: "user"}},
		}
		body, err := BuildProviderBody(req, false)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(body, &wire))
		messages := wire["messages"].([]any)
		msg := messages[0].(map[string]any)
		assert.Equal(t, "", msg["content"])
	})

	t.Run("assistant with tool calls drops content", func(t *testing.T) {
		req := &Request{
			Model: "gpt-4o",
			Messages: []Message{{
				Role:      "assistant",
				ToolCalls: []json.RawMessage{json.RawMessage(`{"id":"c1"}`)},
			}},
		}
		body, err := BuildProviderBody(req, false)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(body, &wire))
		msg := wire["messages"].([]any)[0].(map[string]any)
		assert.NotContains(t, msg, "content")
		assert.Contains(t, msg, "tool_calls")
	})

	t.Run("tool role carries tool_call_id and name", func(t *testing.T) {
		req := &Request{
			Model: "gpt-4o",
			Messages: []Message{{
				Role:       "tool",
				Content:    strPtr("result"),
				ToolCallID: "c1",
				Name:       "lookup",
			}},
		}
		body, err := BuildProviderBody(req, false)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(body, &wire))
		msg := wire["messages"].([]any)[0].(map[string]any)
		assert.Equal(t, "c1", msg["tool_call_id"])
		assert.Equal(t, "lookup", msg["name"])
	})

	t.Run("options are copied only when set", func(t *testing.T) {
		temp := 0.7
		maxTokens := 128
		req := &Request{
			Model:    "gpt-4o",
			Messages: []Message{{Role: "user", Content: strPtr("hi")}},
			Options: &Options{
				Temperature: &temp,
				MaxTokens:   &maxTokens,
				Stop:        []string{"END"},
			},
		}
		body, err := BuildProviderBody(req, false)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(body, &wire))
		assert.Equal(t, 0.7, wire["temperature"])
		assert.Equal(t, float64(128), wire["max_tokens"])
		assert.Equal(t, []any{"END"}, wire["stop"])
		assert.NotContains(t, wire, "top_p")
		assert.NotContains(t, wire, "tool_choice")
	})

	t.Run("stream flag only appears when streaming", func(t *testing.T) {
		req := &Request{Model: "m", Messages: []Message{{Role: "user", Content: strPtr("hi")}}}

		blocking, err := BuildProviderBody(req, false)
		require.NoError(t, err)
		assert.NotContains(t, string(blocking), `"stream"`)

		streaming, err := BuildProviderBody(req, true)
		require.NoError(t, err)
		assert.Contains(t, string(streaming), `"stream":true`)
	})
}

func TestRequestValidate(t *testing.T) {
	valid := Request{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: strPtr("hi")}},
		Provider: Provider{Name: "openai", Type: "openai", BaseURL: "https://x", APIKey: "k"},
		Metadata: Metadata{TraceID: "t1"},
	}

	t.Run("complete request is valid", func(t *testing.T) {
		assert.Empty(t, valid.Validate())
	})

	t.Run("each required field is reported", func(t *testing.T) {
		for name, mutate := range map[string]func(*Request){
			"model":    func(r *Request) { r.Model = "" },
			"messages": func(r *Request) { r.Messages = nil },
			"provider": func(r *Request) { r.Provider.APIKey = "" },
			"trace_id": func(r *Request) { r.Metadata.TraceID = "" },
		} {
			t.Run(name, func(t *testing.T) {
				req := valid
				mutate(&req)
				assert.NotEmpty(t, req.Validate())
			})
		}
	})
}

func TestResolveProviderSecrets(t *testing.T) {
	t.Run("env token in api_key resolves", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-resolved")
		req := Request{Provider: Provider{APIKey: "{env:OPENAI_API_KEY}", BaseURL: "https://x"}}

		require.NoError(t, req.ResolveProviderSecrets(config.ResolveOptions{}))
		assert.Equal(t, "sk-resolved", req.Provider.APIKey)
		assert.Equal(t, "https://x", req.Provider.BaseURL)
	})

	t.Run("plain values pass through untouched", func(t *testing.T) {
		req := Request{Provider: Provider{APIKey: "sk-literal", BaseURL: "https://x"}}
		require.NoError(t, req.ResolveProviderSecrets(config.ResolveOptions{}))
		assert.Equal(t, "sk-literal", req.Provider.APIKey)
	})

	t.Run("unlisted env name fails", func(t *testing.T) {
		t.Setenv("RANDOM_VAR", "x")
		req := Request{Provider: Provider{APIKey: "{env:RANDOM_VAR}", BaseURL: "https://x"}}
		assert.Error(t, req.ResolveProviderSecrets(config.ResolveOptions{}))
	})
}

func TestErrorEnvelope(t *testing.T) {
	t.Run("marshals the tagged envelope", func(t *testing.T) {
		err := &Error{
			Code:         CodeProviderError,
			Message:      "upstream 503",
			ProviderCode: "overloaded",
			StatusCode:   503,
			Retryable:    true,
		}
		out, marshalErr := json.Marshal(err)
		require.NoError(t, marshalErr)

		var envelope map[string]any
		require.NoError(t, json.Unmarshal(out, &envelope))
		assert.Equal(t, "ChevalError", envelope["error"])
		assert.Equal(t, "provider_error", envelope["code"])
		assert.Equal(t, "overloaded", envelope["provider_code"])
		assert.Equal(t, float64(503), envelope["status_code"])
		assert.Equal(t, true, envelope["retryable"])
	})

	t.Run("exit codes follow the taxonomy", func(t *testing.T) {
		assert.Equal(t, 1, (&Error{Code: CodeProviderError}).ExitCode())
		assert.Equal(t, 2, (&Error{Code: CodeNetworkError}).ExitCode())
		assert.Equal(t, 3, (&Error{Code: CodeHMACInvalid}).ExitCode())
		assert.Equal(t, 4, (&Error{Code: CodeInvalidRequest}).ExitCode())
		assert.Equal(t, 5, (&Error{Code: CodeInternal}).ExitCode())
	})

	t.Run("http statuses follow the taxonomy", func(t *testing.T) {
		assert.Equal(t, 400, (&Error{Code: CodeInvalidRequest}).HTTPStatus())
		assert.Equal(t, 403, (&Error{Code: CodeHMACInvalid}).HTTPStatus())
		assert.Equal(t, 502, (&Error{Code: CodeProviderError}).HTTPStatus())
		assert.Equal(t, 502, (&Error{Code: CodeNetworkError}).HTTPStatus())
		assert.Equal(t, 500, (&Error{Code: CodeInternal}).HTTPStatus())
	})
}
