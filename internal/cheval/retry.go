package cheval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/config"
)

// nonRetryableStatuses short-circuit regardless of the configured
// retryable set.
var nonRetryableStatuses = map[int]bool{
	400: true, 401: true, 403: true, 404: true,
}

// Invoke performs the provider HTTP exchange with classified retries.
// Attempt 0 is immediate; attempt k sleeps min(base*2^(k-1), max) plus
// jitter. Non-retryable errors surface immediately; retryable errors
// surface after max_retries+1 attempts. Cancellation aborts the loop.
// onRetry, when non-nil, is called once per retried attempt.
func Invoke(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte, policy RetryPolicy, onRetry func(attempt int), log *zap.Logger) ([]byte, error) {
	retryable := make(map[int]bool, len(policy.RetryableStatusCodes))
	for _, code := range policy.RetryableStatusCodes {
		retryable[code] = true
	}

	var lastErr *Error
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt)
			}
			delay := backoffDelay(policy, attempt)
			log.Debug("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("reason", lastErr.Message))
			select {
			case <-ctx.Done():
				return nil, &Error{Code: CodeNetworkError, Message: "request cancelled during backoff", Retryable: false}
			case <-time.After(delay):
			}
		}

		data, invokeErr := doRequest(ctx, client, endpoint, headers, body, retryable)
		if invokeErr == nil {
			return data, nil
		}
		if !invokeErr.Retryable {
			return nil, invokeErr
		}
		if ctx.Err() != nil {
			return nil, &Error{Code: CodeNetworkError, Message: "request cancelled", Retryable: false}
		}
		lastErr = invokeErr
	}

	return nil, lastErr
}

func doRequest(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte, retryable map[int]bool) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: false}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Code: CodeNetworkError, Message: "request cancelled", Retryable: false}
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: true}
		}
		return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: false}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: true}
	}

	if resp.StatusCode == http.StatusOK {
		return data, nil
	}

	providerErr := &Error{
		Code:       CodeProviderError,
		Message:    safeErrorBody(data, resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	switch {
	case nonRetryableStatuses[resp.StatusCode]:
		providerErr.Retryable = false
	case retryable[resp.StatusCode]:
		providerErr.Retryable = true
	default:
		providerErr.Retryable = false
	}
	if code := providerErrorCode(data); code != "" {
		providerErr.ProviderCode = code
	}
	return nil, providerErr
}

// backoffDelay computes the sleep before attempt k (k >= 1) with symmetric
// jitter, clamped to nonnegative.
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	base := float64(policy.BaseDelayMS) * math.Pow(2, float64(attempt-1))
	if max := float64(policy.MaxDelayMS); base > max {
		base = max
	}
	jitter := base * policy.JitterPercent * (rand.Float64()*2 - 1)
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay * float64(time.Millisecond))
}

// safeErrorBody extracts a provider error message, truncated and redacted
// so secrets never reach an error field.
func safeErrorBody(data []byte, status int) string {
	message := fmt.Sprintf("provider returned status %d", status)
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		detail := parsed.Error.Message
		if len(detail) > 200 {
			detail = detail[:200]
		}
		message += ": " + detail
	}
	return config.RedactString(message)
}

func providerErrorCode(data []byte) string {
	var parsed struct {
		Error struct {
			Code string `json:"code"`
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	if parsed.Error.Code != "" {
		return parsed.Error.Code
	}
	return parsed.Error.Type
}
