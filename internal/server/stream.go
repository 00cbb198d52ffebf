package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/breaker"
	"github.com/hounfour/cheval/internal/cheval"
	"github.com/hounfour/cheval/internal/registry"
	"github.com/hounfour/cheval/internal/sse"
	"github.com/hounfour/cheval/internal/usage"
)

// handleInvokeStream proxies a provider SSE stream to the caller with
// identical framing. Errors before the first byte of the stream surface as
// a structured 502; once streaming has begun, a failure is delivered as a
// terminal SSE error event and the stream ends. Mid-stream errors are never
// retried because partial data has already been delivered.
func (s *Server) handleInvokeStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseRequest(w, r)
	if !ok {
		return
	}

	provider := req.Provider.Name
	switch s.breaker.Check(provider) {
	case breaker.Open:
		writeChevalError(w, &cheval.Error{
			Code:         cheval.CodeProviderError,
			Message:      "circuit breaker is open for provider " + provider,
			ProviderCode: "circuit_open",
			Retryable:    true,
		})
		return
	case breaker.HalfOpen:
		s.breaker.StartProbe(provider)
	}

	body, err := cheval.BuildProviderBody(req, true)
	if err != nil {
		writeChevalError(w, &cheval.Error{Code: cheval.CodeInternal, Message: "failed to build provider request"})
		return
	}

	client := s.pools.GetOrCreate(req.Provider)
	endpoint := registry.ChatURL(req.Provider.Type, req.Provider.BaseURL)
	headers := registry.AuthHeaders(req.Provider.Type, req.Provider.APIKey)

	upstream, invokeErr := cheval.OpenStream(r.Context(), client, endpoint, headers, body, req.Retry, s.countRetry(provider), s.logger)
	if invokeErr != nil {
		if r.Context().Err() == nil {
			s.breaker.RecordFailure(provider)
		}
		writeChevalError(w, invokeErr)
		return
	}
	defer upstream.Close()
	s.breaker.RecordSuccess(provider)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeChevalError(w, &cheval.Error{Code: cheval.CodeInternal, Message: "streaming unsupported by connection"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	tally := newStreamTally()
	decoder := &sse.Decoder{}
	buf := make([]byte, 4096)

	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			for _, ev := range decoder.Feed(buf[:n]) {
				tally.observe(ev)
				writeSSEEvent(w, ev)
			}
			flusher.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				s.logger.Warn("provider stream interrupted",
					append(logFields(req), zap.Error(readErr))...)
				writeSSEError(w, "stream interrupted before completion")
				flusher.Flush()
			}
			break
		}
	}

	// A cancelled request gets no ledger entry.
	if r.Context().Err() != nil {
		return
	}

	for _, ev := range decoder.Close() {
		tally.observe(ev)
		writeSSEEvent(w, ev)
	}
	flusher.Flush()

	s.recordStreamUsage(req, tally, time.Since(start))
}

// streamTally accumulates what the stream revealed: content length for
// estimation and the provider usage frame when one arrives.
type streamTally struct {
	contentLen int
	promptLen  int
	usageSeen  bool
	usage      cheval.Usage
	requestID  *string
	model      string
}

func newStreamTally() *streamTally {
	return &streamTally{}
}

func (t *streamTally) observe(ev sse.Event) {
	if strings.TrimSpace(ev.Data) == "[DONE]" {
		return
	}
	var chunk map[string]any
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		return
	}

	if id, ok := chunk["id"].(string); ok && id != "" && t.requestID == nil {
		t.requestID = &id
	}
	if model, ok := chunk["model"].(string); ok && model != "" {
		t.model = model
	}

	if usageRaw, ok := chunk["usage"].(map[string]any); ok {
		t.usageSeen = true
		t.usage = cheval.Usage{
			PromptTokens:     asStreamInt(usageRaw["prompt_tokens"]),
			CompletionTokens: asStreamInt(usageRaw["completion_tokens"]),
			ReasoningTokens:  asStreamInt(usageRaw["reasoning_tokens"]),
		}
	}

	choices, _ := chunk["choices"].([]any)
	if len(choices) == 0 {
		return
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)
	if content, ok := delta["content"].(string); ok {
		t.contentLen += len(content)
	}
}

func asStreamInt(v any) int64 {
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	return 0
}

// recordStreamUsage writes a ledger entry from the provider's usage frame
// when present, otherwise from a local token estimate.
func (s *Server) recordStreamUsage(req *cheval.Request, tally *streamTally, elapsed time.Duration) {
	usageSource := usage.SourceActual
	tokens := tally.usage
	if !tally.usageSeen {
		usageSource = usage.SourceEstimated
		var promptChars int
		for _, msg := range req.Messages {
			if msg.Content != nil {
				promptChars += len(*msg.Content)
			}
		}
		tokens = cheval.Usage{
			PromptTokens:     registry.EstimateTokensForLength(promptChars),
			CompletionTokens: registry.EstimateTokensForLength(tally.contentLen),
		}
	}

	model := tally.model
	if model == "" {
		model = req.Model
	}

	result := &cheval.Result{
		Usage: tokens,
		Metadata: cheval.ResultMetadata{
			Model:             model,
			ProviderRequestID: tally.requestID,
			LatencyMS:         float64(elapsed.Microseconds()) / 1000,
			TraceID:           req.Metadata.TraceID,
		},
	}

	enriched, source := s.calc.EnrichWithCost(result, req.Provider.Name, req.Model)
	go s.calc.RecordUsage(enriched, req.Provider.Name, req.Model, source, usageSource)
}

func writeSSEEvent(w http.ResponseWriter, ev sse.Event) {
	if ev.Type != "" && ev.Type != "message" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	if ev.ID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func writeSSEError(w http.ResponseWriter, message string) {
	payload, _ := json.Marshal(map[string]string{
		"error":   "ChevalError",
		"code":    cheval.CodeNetworkError,
		"message": message,
	})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
}
