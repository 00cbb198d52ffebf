package cheval

import "encoding/json"

// Error codes in the structured envelope.
const (
	CodeProviderError  = "provider_error"
	CodeNetworkError   = "network_error"
	CodeHMACInvalid    = "hmac_invalid"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

// Error is the structured error surfaced to callers. It marshals to the
// ChevalError envelope and maps onto one-shot exit codes.
type Error struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	ProviderCode string `json:"provider_code,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"`
	Retryable    bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) MarshalJSON() ([]byte, error) {
	type envelope struct {
		Error        string `json:"error"`
		Code         string `json:"code"`
		Message      string `json:"message"`
		ProviderCode string `json:"provider_code,omitempty"`
		StatusCode   int    `json:"status_code,omitempty"`
		Retryable    bool   `json:"retryable"`
	}
	return json.Marshal(envelope{
		Error:        "ChevalError",
		Code:         e.Code,
		Message:      e.Message,
		ProviderCode: e.ProviderCode,
		StatusCode:   e.StatusCode,
		Retryable:    e.Retryable,
	})
}

// ExitCode maps the error taxonomy onto one-shot process exit codes.
func (e *Error) ExitCode() int {
	switch e.Code {
	case CodeProviderError:
		return 1
	case CodeNetworkError:
		return 2
	case CodeHMACInvalid:
		return 3
	case CodeInvalidRequest:
		return 4
	default:
		return 5
	}
}

// HTTPStatus maps the error taxonomy onto sidecar response statuses.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return 400
	case CodeHMACInvalid:
		return 403
	case CodeProviderError, CodeNetworkError:
		return 502
	default:
		return 500
	}
}
