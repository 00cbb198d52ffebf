// Package cheval defines the canonical request and result schemas shared by
// the sidecar and one-shot modes, plus the provider invocation pipeline that
// connects them: build the wire body, call with retries, normalize the
// response.
package cheval

import "encoding/json"

// Request is the canonical inbound schema. Callers describe the provider
// inline; nothing is looked up from server-side configuration.
type Request struct {
	Model    string            `json:"model"`
	Messages []Message         `json:"messages"`
	Options  *Options          `json:"options,omitempty"`
	Tools    []json.RawMessage `json:"tools,omitempty"`
	Provider Provider          `json:"provider"`
	Retry    RetryPolicy       `json:"retry"`
	Metadata Metadata          `json:"metadata"`

	// HMAC is only present in one-shot request files; the sidecar signs
	// via headers instead.
	HMAC *HMACRecord `json:"hmac,omitempty"`
}

type Message struct {
	Role       string            `json:"role"`
	Content    *string           `json:"content,omitempty"`
	ToolCalls  []json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

type Options struct {
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

type Provider struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	BaseURL          string `json:"base_url"`
	APIKey           string `json:"api_key"`
	ConnectTimeoutMS *int   `json:"connect_timeout_ms,omitempty"`
	ReadTimeoutMS    *int   `json:"read_timeout_ms,omitempty"`
	TotalTimeoutMS   *int   `json:"total_timeout_ms,omitempty"`
}

type RetryPolicy struct {
	MaxRetries           int     `json:"max_retries"`
	BaseDelayMS          int     `json:"base_delay_ms"`
	MaxDelayMS           int     `json:"max_delay_ms"`
	JitterPercent        float64 `json:"jitter_percent"`
	RetryableStatusCodes []int   `json:"retryable_status_codes"`
}

type Metadata struct {
	TraceID string `json:"trace_id"`
}

type HMACRecord struct {
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
}

// Result is the canonical outbound schema. Content is never null; Thinking
// and ToolCalls are null rather than empty when absent.
type Result struct {
	Content   string         `json:"content"`
	Thinking  *string        `json:"thinking"`
	ToolCalls []ToolCall     `json:"tool_calls"`
	Usage     Usage          `json:"usage"`
	Metadata  ResultMetadata `json:"metadata"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	ReasoningTokens  int64 `json:"reasoning_tokens"`
	Cost             *Cost `json:"cost,omitempty"`
}

// Cost carries micro-USD integers as strings so JSON consumers never lose
// precision to floating point.
type Cost struct {
	InputCostMicro     string `json:"input_cost_micro"`
	OutputCostMicro    string `json:"output_cost_micro"`
	ReasoningCostMicro string `json:"reasoning_cost_micro"`
	TotalCostMicro     string `json:"total_cost_micro"`
}

type ResultMetadata struct {
	Model             string  `json:"model"`
	ProviderRequestID *string `json:"provider_request_id"`
	LatencyMS         float64 `json:"latency_ms"`
	TraceID           string  `json:"trace_id"`
}
