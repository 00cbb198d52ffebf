package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/hmacauth"
	"github.com/hounfour/cheval/internal/metrics"
)

// HMACConfig wires the verifier, the nonce store, and the rejection
// counter into the auth middleware.
type HMACConfig struct {
	Verifier *hmacauth.Verifier
	Nonces   hmacauth.NonceStore
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// HMAC authenticates every non-GET request with the endpoint-bound
// signature scheme and admits its nonce. GET routes pass through.
func HMAC(cfg HMACConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Verifier == nil || cfg.Verifier.Secret == "" {
				writeAuthError(w, http.StatusInternalServerError,
					"HMAC_NOT_CONFIGURED", "server has no HMAC secret configured")
				return
			}

			signature := r.Header.Get(hmacauth.HeaderSignature)
			nonce := r.Header.Get(hmacauth.HeaderNonce)
			issuedAt := r.Header.Get(hmacauth.HeaderIssuedAt)
			traceID := r.Header.Get(hmacauth.HeaderTraceID)

			if signature == "" || nonce == "" || issuedAt == "" || traceID == "" {
				writeAuthError(w, http.StatusForbidden,
					"HMAC_MISSING_HEADERS", "one or more authentication headers are missing")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeAuthError(w, http.StatusForbidden,
					"HMAC_INVALID", "request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := cfg.Verifier.Verify(r.Method, r.URL.Path, body, signature, nonce, issuedAt, traceID); err != nil {
				cfg.Logger.Warn("HMAC verification failed",
					zap.String("path", r.URL.Path),
					zap.String("trace_id", traceID),
					zap.Error(err))
				if errors.Is(err, hmacauth.ErrMissingField) {
					writeAuthError(w, http.StatusForbidden,
						"HMAC_MISSING_HEADERS", "one or more authentication headers are missing")
					return
				}
				writeAuthError(w, http.StatusForbidden,
					"HMAC_INVALID", "signature verification failed")
				return
			}

			ttl := 2 * cfg.Verifier.Skew
			admitted, err := cfg.Nonces.CheckAndAdmit(r.Context(), nonce, ttl)
			if err != nil {
				cfg.Logger.Error("nonce store unavailable",
					zap.String("trace_id", traceID), zap.Error(err))
				writeAuthError(w, http.StatusInternalServerError,
					"NONCE_STORE_UNAVAILABLE", "replay protection is unavailable")
				return
			}
			if !admitted {
				if cfg.Metrics != nil {
					cfg.Metrics.NonceRejections.Inc()
				}
				cfg.Logger.Warn("nonce replay rejected",
					zap.String("trace_id", traceID))
				writeAuthError(w, http.StatusForbidden,
					"REPLAY_DETECTED", "nonce has already been used")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
