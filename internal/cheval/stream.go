package cheval

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/config"
)

// OpenStream issues a streaming provider request and hands back the
// response body once the status line is acceptable. Failures before the
// stream starts are retried under the same policy as blocking calls; after
// the body is returned the caller owns it and no retry is possible.
// onRetry, when non-nil, is called once per retried attempt.
func OpenStream(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte, policy RetryPolicy, onRetry func(attempt int), log *zap.Logger) (io.ReadCloser, *Error) {
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
			select {
			case <-ctx.Done():
				return nil, &Error{Code: CodeNetworkError, Message: "request cancelled during backoff", Retryable: false}
			case <-time.After(backoffDelay(policy, attempt)):
			}
		}

		stream, openErr := openOnce(ctx, client, endpoint, headers, body, retryable)
		if openErr == nil {
			return stream, nil
		}
		if !openErr.Retryable {
			return nil, openErr
		}
		if ctx.Err() != nil {
			return nil, &Error{Code: CodeNetworkError, Message: "request cancelled", Retryable: false}
		}
		lastErr = openErr
		log.Debug("retrying stream open",
			zap.Int("attempt", attempt), zap.String("reason", lastErr.Message))
	}

	return nil, lastErr
}

func openOnce(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte, retryable map[int]bool) (io.ReadCloser, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: false}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && ctx.Err() == nil {
			return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: true}
		}
		return nil, &Error{Code: CodeNetworkError, Message: config.RedactString(err.Error()), Retryable: false}
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		streamErr := &Error{
			Code:       CodeProviderError,
			Message:    safeErrorBody(data, resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
		switch {
		case nonRetryableStatuses[resp.StatusCode]:
			streamErr.Retryable = false
		case retryable[resp.StatusCode]:
			streamErr.Retryable = true
		}
		if code := providerErrorCode(data); code != "" {
			streamErr.ProviderCode = code
		}
		return nil, streamErr
	}

	return resp.Body, nil
}
