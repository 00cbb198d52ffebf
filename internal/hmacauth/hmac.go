package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Phase-3 canonical signing format, endpoint-bound:
//
//	METHOD \n PATH \n SHA256_HEX(BODY) \n ISSUED_AT \n NONCE \n TRACE_ID
//
// ISSUED_AT is RFC-3339 UTC with millisecond precision and Z suffix.

const (
	HeaderSignature = "x-cheval-signature"
	HeaderNonce     = "x-cheval-nonce"
	HeaderIssuedAt  = "x-cheval-issued-at"
	HeaderTraceID   = "x-cheval-trace-id"
)

// IssuedAtLayout formats timestamps for the x-cheval-issued-at header.
const IssuedAtLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrMissingField = errors.New("missing required HMAC field")
	ErrClockSkew    = errors.New("issued_at outside allowed clock skew")
	ErrBadTimestamp = errors.New("issued_at is not a valid RFC-3339 timestamp")
	ErrSignature    = errors.New("HMAC signature mismatch")
)

// Canonical builds the Phase-3 canonical string.
func Canonical(method, path string, body []byte, issuedAt, nonce, traceID string) string {
	sum := sha256.Sum256(body)
	return method + "\n" + path + "\n" + hex.EncodeToString(sum[:]) + "\n" +
		issuedAt + "\n" + nonce + "\n" + traceID
}

// Sign returns the lowercase-hex HMAC-SHA256 of the canonical string.
func Sign(secret, method, path string, body []byte, issuedAt, nonce, traceID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Canonical(method, path, body, issuedAt, nonce, traceID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier validates Phase-3 signatures under a current secret with an
// optional previous secret for zero-downtime rotation.
type Verifier struct {
	Secret     string
	PrevSecret string
	Skew       time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify checks the four signed fields against the request. The error
// distinguishes missing fields from timestamp and signature failures so the
// middleware can pick the right rejection code.
func (v *Verifier) Verify(method, path string, body []byte, signature, nonce, issuedAt, traceID string) error {
	if signature == "" || nonce == "" || issuedAt == "" || traceID == "" {
		return ErrMissingField
	}

	issued, err := time.Parse(time.RFC3339, issuedAt)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimestamp, issuedAt)
	}
	delta := v.now().Sub(issued)
	if delta < 0 {
		delta = -delta
	}
	if delta > v.Skew {
		return ErrClockSkew
	}

	expected := Sign(v.Secret, method, path, body, issuedAt, nonce, traceID)
	if hmac.Equal([]byte(signature), []byte(expected)) {
		return nil
	}

	if v.PrevSecret != "" {
		expectedPrev := Sign(v.PrevSecret, method, path, body, issuedAt, nonce, traceID)
		if hmac.Equal([]byte(signature), []byte(expectedPrev)) {
			return nil
		}
	}

	return ErrSignature
}

// Record is the embedded hmac block signing a one-shot request file.
type Record struct {
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
}

// SignOneShot signs a whole request document (minus its hmac field) for
// one-shot mode: HMAC over a canonical JSON of
// {body_hash, issued_at, nonce, trace_id}.
func SignOneShot(secret string, signingBody []byte, issuedAt, nonce, traceID string) string {
	sum := sha256.Sum256(signingBody)
	canonical, _ := json.Marshal(map[string]string{
		"body_hash": hex.EncodeToString(sum[:]),
		"issued_at": issuedAt,
		"nonce":     nonce,
		"trace_id":  traceID,
	})
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOneShot validates a one-shot request file: the signature covers the
// canonical JSON of the document with the hmac field removed.
func (v *Verifier) VerifyOneShot(rawRequest []byte, rec Record, traceID string) error {
	if rec.Signature == "" || rec.Nonce == "" || rec.IssuedAt == "" || traceID == "" {
		return ErrMissingField
	}

	issued, err := time.Parse(time.RFC3339, rec.IssuedAt)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimestamp, rec.IssuedAt)
	}
	delta := v.now().Sub(issued)
	if delta < 0 {
		delta = -delta
	}
	if delta > v.Skew {
		return ErrClockSkew
	}

	signingBody, err := SigningBody(rawRequest)
	if err != nil {
		return fmt.Errorf("cannot canonicalize request: %w", err)
	}

	if hmac.Equal([]byte(rec.Signature), []byte(SignOneShot(v.Secret, signingBody, rec.IssuedAt, rec.Nonce, traceID))) {
		return nil
	}
	if v.PrevSecret != "" {
		if hmac.Equal([]byte(rec.Signature), []byte(SignOneShot(v.PrevSecret, signingBody, rec.IssuedAt, rec.Nonce, traceID))) {
			return nil
		}
	}
	return ErrSignature
}

// SigningBody returns the canonical JSON of a request document with the
// top-level hmac field removed.
func SigningBody(rawRequest []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(rawRequest, &doc); err != nil {
		return nil, err
	}
	delete(doc, "hmac")
	return json.Marshal(doc)
}
