package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/breaker"
	"github.com/hounfour/cheval/internal/cheval"
	"github.com/hounfour/cheval/internal/config"
	"github.com/hounfour/cheval/internal/registry"
	"github.com/hounfour/cheval/internal/usage"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "alive",
		"uptime_s": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"uptime_s":         time.Since(s.startTime).Seconds(),
		"nonce_cache_size": s.nonces.Size(),
	})
}

// handleInvoke runs the blocking pipeline: parse, breaker gate, build,
// invoke with retry, normalize, enrich, fire-and-forget record.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseRequest(w, r)
	if !ok {
		return
	}

	result, invokeErr := s.invokeProvider(r, req)
	if invokeErr != nil {
		writeChevalError(w, invokeErr)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseRequest reads and validates the request body, writing the rejection
// itself when invalid.
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request) (*cheval.Request, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCodeError(w, http.StatusBadRequest, "INVALID_JSON", "request body could not be read")
		return nil, false
	}

	var req cheval.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return nil, false
	}

	if req.Provider.Name == "" || req.Provider.BaseURL == "" || req.Provider.APIKey == "" {
		writeCodeError(w, http.StatusBadRequest, "MISSING_PROVIDER",
			"provider requires name, base_url and api_key")
		return nil, false
	}

	if problems := req.Validate(); len(problems) > 0 {
		writeChevalError(w, &cheval.Error{
			Code:    cheval.CodeInvalidRequest,
			Message: problems[0],
		})
		return nil, false
	}

	if err := req.ResolveProviderSecrets(config.ResolveOptions{}); err != nil {
		writeChevalError(w, &cheval.Error{
			Code:    cheval.CodeInvalidRequest,
			Message: err.Error(),
		})
		return nil, false
	}

	return &req, true
}

// invokeProvider runs the breaker-gated provider exchange and returns a
// normalized, cost-enriched result. The breaker is consulted once, around
// the whole retry loop.
func (s *Server) invokeProvider(r *http.Request, req *cheval.Request) (*cheval.Result, *cheval.Error) {
	provider := req.Provider.Name

	switch s.breaker.Check(provider) {
	case breaker.Open:
		return nil, &cheval.Error{
			Code:         cheval.CodeProviderError,
			Message:      "circuit breaker is open for provider " + provider,
			ProviderCode: "circuit_open",
			Retryable:    true,
		}
	case breaker.HalfOpen:
		s.breaker.StartProbe(provider)
	}

	body, err := cheval.BuildProviderBody(req, false)
	if err != nil {
		return nil, &cheval.Error{Code: cheval.CodeInternal, Message: "failed to build provider request"}
	}

	client := s.pools.GetOrCreate(req.Provider)
	endpoint := registry.ChatURL(req.Provider.Type, req.Provider.BaseURL)
	headers := registry.AuthHeaders(req.Provider.Type, req.Provider.APIKey)

	start := time.Now()
	raw, invokeErr := cheval.Invoke(r.Context(), client, endpoint, headers, body, req.Retry, s.countRetry(provider), s.logger)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000

	if invokeErr != nil {
		// A caller that hangs up is not evidence against the provider.
		if r.Context().Err() == nil {
			s.breaker.RecordFailure(provider)
		}
		var chErr *cheval.Error
		if errors.As(invokeErr, &chErr) {
			return nil, chErr
		}
		return nil, &cheval.Error{Code: cheval.CodeInternal, Message: "provider invocation failed"}
	}
	s.breaker.RecordSuccess(provider)

	result, err := cheval.Normalize(raw, req.Provider.Type, req.Metadata.TraceID, latencyMS, s.logger)
	if err != nil {
		return nil, &cheval.Error{
			Code:      cheval.CodeProviderError,
			Message:   "provider returned an unparseable response",
			Retryable: false,
		}
	}

	enriched, source := s.calc.EnrichWithCost(result, provider, req.Model)
	go s.calc.RecordUsage(enriched, provider, req.Model, source, usage.SourceActual)

	return enriched, nil
}

func (s *Server) countRetry(provider string) func(int) {
	return func(int) {
		s.metrics.ProviderRetries.WithLabelValues(provider).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeCodeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeChevalError(w http.ResponseWriter, err *cheval.Error) {
	writeJSON(w, err.HTTPStatus(), err)
}

func logFields(req *cheval.Request) []zap.Field {
	return []zap.Field{
		zap.String("trace_id", req.Metadata.TraceID),
		zap.String("provider", req.Provider.Name),
		zap.String("model", req.Model),
	}
}
