package cheval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalize(t *testing.T) {
	log := zap.NewNop()

	t.Run("happy path", func(t *testing.T) {
		raw := []byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "hello"}}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 500, "reasoning_tokens": 0}
		}`)

		res, err := Normalize(raw, "openai", "t1", 12.5, log)
		require.NoError(t, err)
		assert.Equal(t, "hello", res.Content)
		assert.Nil(t, res.Thinking)
		assert.Nil(t, res.ToolCalls)
		assert.Equal(t, int64(1000), res.Usage.PromptTokens)
		assert.Equal(t, int64(500), res.Usage.CompletionTokens)
		assert.Equal(t, "gpt-4o", res.Metadata.Model)
		require.NotNil(t, res.Metadata.ProviderRequestID)
		assert.Equal(t, "chatcmpl-1", *res.Metadata.ProviderRequestID)
		assert.Equal(t, "t1", res.Metadata.TraceID)
	})

	t.Run("null content coerces to empty string", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": null}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		assert.Equal(t, "", res.Content)
	})

	t.Run("absent or empty choices yields empty result", func(t *testing.T) {
		for _, raw := range []string{`{}`, `{"choices": []}`, `{"choices": "wrong type"}`} {
			res, err := Normalize([]byte(raw), "openai", "t1", 0, log)
			require.NoError(t, err)
			assert.Equal(t, "", res.Content)
			assert.Nil(t, res.Thinking)
			assert.Nil(t, res.ToolCalls)
			assert.Zero(t, res.Usage.PromptTokens)
		}
	})

	t.Run("result marshals thinking and tool_calls as null", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x"}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)

		out, err := json.Marshal(res)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"thinking":null`)
		assert.Contains(t, string(out), `"tool_calls":null`)
	})

	t.Run("invalid JSON is an error", func(t *testing.T) {
		_, err := Normalize([]byte("not json"), "openai", "t1", 0, log)
		assert.Error(t, err)
	})
}

func TestNormalizeThinking(t *testing.T) {
	log := zap.NewNop()

	t.Run("openai-compatible surfaces reasoning_content", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x", "reasoning_content": "step by step"}}]}`)
		res, err := Normalize(raw, "openai-compatible", "t1", 0, log)
		require.NoError(t, err)
		require.NotNil(t, res.Thinking)
		assert.Equal(t, "step by step", *res.Thinking)
	})

	t.Run("plain openai never surfaces reasoning", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x", "reasoning_content": "leak"}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		assert.Nil(t, res.Thinking)
	})

	t.Run("whitespace-only reasoning is null", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x", "reasoning_content": "   "}}]}`)
		res, err := Normalize(raw, "openai-compatible", "t1", 0, log)
		require.NoError(t, err)
		assert.Nil(t, res.Thinking)
	})

	t.Run("wrong-typed reasoning is null", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x", "reasoning_content": 42}}]}`)
		res, err := Normalize(raw, "openai-compatible", "t1", 0, log)
		require.NoError(t, err)
		assert.Nil(t, res.Thinking)
	})
}

func TestNormalizeToolCalls(t *testing.T) {
	log := zap.NewNop()

	t.Run("valid calls pass through", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "", "tool_calls": [
			{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":1}"}}
		]}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "call_1", res.ToolCalls[0].ID)
		assert.Equal(t, "function", res.ToolCalls[0].Type)
		assert.Equal(t, "lookup", res.ToolCalls[0].Function.Name)
		assert.Equal(t, `{"q":1}`, res.ToolCalls[0].Function.Arguments)
	})

	t.Run("malformed entries are skipped", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "", "tool_calls": [
			"not a record",
			{"id": "call_x", "function": {"arguments": "{}"}},
			{"id": "call_ok", "function": {"name": "good"}}
		]}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "call_ok", res.ToolCalls[0].ID)
	})

	t.Run("all malformed yields null not empty", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "", "tool_calls": ["bad", 42]}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		assert.Nil(t, res.ToolCalls)
	})

	t.Run("missing id is synthesized deterministically", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "", "tool_calls": [
			{"function": {"name": "lookup", "arguments": "{}"}}
		]}}]}`)
		res1, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		res2, err := Normalize(raw, "openai", "t2", 0, log)
		require.NoError(t, err)

		require.Len(t, res1.ToolCalls, 1)
		assert.True(t, len(res1.ToolCalls[0].ID) == len("call_")+8)
		assert.Equal(t, res1.ToolCalls[0].ID, res2.ToolCalls[0].ID)
	})

	t.Run("missing arguments default to empty object", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "", "tool_calls": [
			{"id": "c", "function": {"name": "f"}}
		]}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "{}", res.ToolCalls[0].Function.Arguments)
	})
}

func TestNormalizeUsage(t *testing.T) {
	log := zap.NewNop()

	t.Run("missing usage defaults to zero", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x"}}]}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		assert.Zero(t, res.Usage.PromptTokens)
		assert.Zero(t, res.Usage.CompletionTokens)
		assert.Zero(t, res.Usage.ReasoningTokens)
	})

	t.Run("wrong-typed counts default to zero", func(t *testing.T) {
		raw := []byte(`{"choices": [{"message": {"content": "x"}}], "usage": {"prompt_tokens": "many"}}`)
		res, err := Normalize(raw, "openai", "t1", 0, log)
		require.NoError(t, err)
		assert.Zero(t, res.Usage.PromptTokens)
	})
}
