package cheval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Normalize parses a provider chat-completions response into a canonical
// result. Every extracted field tolerates missing, null, or wrong-type
// inputs; malformed tool calls are skipped with a warning, never propagated.
func Normalize(raw []byte, providerType, traceID string, latencyMS float64, log *zap.Logger) (*Result, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("provider response is not valid JSON: %w", err)
	}

	res := &Result{
		Usage: extractUsage(doc),
		Metadata: ResultMetadata{
			Model:             asString(doc["model"]),
			ProviderRequestID: asStringPtr(doc["id"]),
			LatencyMS:         latencyMS,
			TraceID:           traceID,
		},
	}

	choices, _ := doc["choices"].([]any)
	if len(choices) == 0 {
		return res, nil
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	if message == nil {
		return res, nil
	}

	res.Content = asString(message["content"])
	res.Thinking = extractThinking(message, providerType)
	res.ToolCalls = extractToolCalls(message["tool_calls"], traceID, log)

	return res, nil
}

// extractThinking applies the reasoning rules: only openai-compatible
// providers surface reasoning_content, and only when non-empty after
// trimming. Plain openai never yields thinking.
func extractThinking(message map[string]any, providerType string) *string {
	if providerType != "openai-compatible" && providerType != "openai_compat" {
		return nil
	}
	reasoning, ok := message["reasoning_content"].(string)
	if !ok || strings.TrimSpace(reasoning) == "" {
		return nil
	}
	return &reasoning
}

// extractToolCalls returns nil, never an empty slice, when no valid entry
// remains.
func extractToolCalls(raw any, traceID string, log *zap.Logger) []ToolCall {
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return nil
	}

	var calls []ToolCall
	for i, entry := range entries {
		record, ok := entry.(map[string]any)
		if !ok {
			log.Warn("skipping non-record tool call",
				zap.Int("index", i), zap.String("trace_id", traceID))
			continue
		}
		function, _ := record["function"].(map[string]any)
		name := asString(function["name"])
		if name == "" {
			log.Warn("skipping tool call without function name",
				zap.Int("index", i), zap.String("trace_id", traceID))
			continue
		}

		arguments := asString(function["arguments"])
		if arguments == "" {
			arguments = "{}"
		}

		id := asString(record["id"])
		if id == "" {
			id = synthesizeCallID(record)
		}

		calls = append(calls, ToolCall{
			ID:   id,
			Type: "function",
			Function: ToolFunction{
				Name:      name,
				Arguments: arguments,
			},
		})
	}
	return calls
}

// synthesizeCallID derives a stable id from the call record itself so
// repeated normalization of the same response agrees.
func synthesizeCallID(record map[string]any) string {
	encoded, err := json.Marshal(record)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", record))
	}
	sum := sha256.Sum256(encoded)
	return "call_" + hex.EncodeToString(sum[:])[:8]
}

func extractUsage(doc map[string]any) Usage {
	usage, _ := doc["usage"].(map[string]any)
	return Usage{
		PromptTokens:     asInt64(usage["prompt_tokens"]),
		CompletionTokens: asInt64(usage["completion_tokens"]),
		ReasoningTokens:  asInt64(usage["reasoning_tokens"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringPtr(v any) *string {
	if s, ok := v.(string); ok && s != "" {
		return &s
	}
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
