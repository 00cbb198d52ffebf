package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
)

// Redacted is the sentinel substituted for secret material.
const Redacted = "***REDACTED***"

var sensitiveKeyRe = regexp.MustCompile(`(?i)(auth|key|secret|token|password|credential|bearer)`)

var (
	bearerRe = regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)\S+`)
	apiKeyRe = regexp.MustCompile(`(?i)(x-api-key:\s*)\S+`)
)

var knownSecretEnvVars = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"MOONSHOT_API_KEY",
	"CHEVAL_HMAC_SECRET",
	"CHEVAL_HMAC_SECRET_PREV",
}

// Redact returns a copy of a config tree safe for logging. Values holding
// interpolation tokens show the sentinel plus the source annotation; keys
// matching the sensitive pattern are redacted regardless of value.
func Redact(cfg map[string]any) map[string]any {
	result := make(map[string]any, len(cfg))
	for key, value := range cfg {
		switch v := value.(type) {
		case map[string]any:
			result[key] = Redact(v)
		case string:
			if interpRe.MatchString(v) {
				sources := interpRe.FindAllStringSubmatch(v, -1)
				annotations := make([]string, 0, len(sources))
				for _, s := range sources {
					annotations = append(annotations, s[1]+":"+s[2])
				}
				result[key] = fmt.Sprintf("%s (from %s)", Redacted, strings.Join(annotations, ", "))
			} else if sensitiveKeyRe.MatchString(key) {
				result[key] = Redacted
			} else {
				result[key] = v
			}
		default:
			if sensitiveKeyRe.MatchString(key) {
				result[key] = Redacted
			} else {
				result[key] = value
			}
		}
	}
	return result
}

// RedactHeaders returns a copy of headers with sensitive values replaced.
func RedactHeaders(headers http.Header) http.Header {
	redacted := make(http.Header, len(headers))
	for key, values := range headers {
		if sensitiveKeyRe.MatchString(key) {
			redacted[key] = []string{Redacted}
		} else {
			redacted[key] = append([]string(nil), values...)
		}
	}
	return redacted
}

// RedactString strips known secret values and auth header payloads from a
// string before it reaches a log line or error message.
func RedactString(value string) string {
	result := value

	for _, envVar := range knownSecretEnvVars {
		if val := os.Getenv(envVar); val != "" && strings.Contains(result, val) {
			result = strings.ReplaceAll(result, val, Redacted)
		}
	}

	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "LOA_") {
			continue
		}
		if len(val) > 8 && strings.Contains(result, val) {
			result = strings.ReplaceAll(result, val, Redacted)
		}
	}

	result = bearerRe.ReplaceAllString(result, "${1}"+Redacted)
	result = apiKeyRe.ReplaceAllString(result, "${1}"+Redacted)

	return result
}
