package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Defaults describes the wire conventions of a provider type: paths,
// auth header composition and timeout defaults.
type Defaults struct {
	ConnectTimeoutMS int
	ReadTimeoutMS    int
	TotalTimeoutMS   int
	HealthPath       string
	ChatPath         string
	AuthHeader       string
	AuthPrefix       string
	ExtraHeaders     map[string]string
}

func openAIDefaults() Defaults {
	return Defaults{
		ConnectTimeoutMS: 5000,
		ReadTimeoutMS:    60000,
		TotalTimeoutMS:   300000,
		HealthPath:       "/models",
		ChatPath:         "/chat/completions",
		AuthHeader:       "Authorization",
		AuthPrefix:       "Bearer",
	}
}

var providerDefaults = map[string]Defaults{
	"openai":            openAIDefaults(),
	"openai-compatible": openAIDefaults(),
	"openai_compat":     openAIDefaults(),
	"anthropic": {
		ConnectTimeoutMS: 5000,
		ReadTimeoutMS:    60000,
		TotalTimeoutMS:   300000,
		HealthPath:       "/messages",
		ChatPath:         "/messages",
		AuthHeader:       "x-api-key",
		AuthPrefix:       "",
		ExtraHeaders:     map[string]string{"anthropic-version": "2023-06-01"},
	},
}

// SupportedTypes returns the recognized provider types, sorted.
func SupportedTypes() []string {
	types := make([]string, 0, len(providerDefaults))
	for name := range providerDefaults {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func IsSupportedType(providerType string) bool {
	_, ok := providerDefaults[providerType]
	return ok
}

// DefaultsFor returns the defaults for a provider type, falling back to
// the openai conventions for unknown types.
func DefaultsFor(providerType string) Defaults {
	if d, ok := providerDefaults[providerType]; ok {
		return d
	}
	return openAIDefaults()
}

// Validate checks the fields every provider record must carry. Returns a
// list of human-readable problems; empty means valid.
func Validate(name, baseURL, apiKey, providerType string) []string {
	var errs []string
	if name == "" {
		errs = append(errs, "provider 'name' is required")
	}
	if baseURL == "" {
		errs = append(errs, "provider 'base_url' is required")
	}
	if apiKey == "" {
		errs = append(errs, "provider 'api_key' is required")
	}
	if providerType != "" && !IsSupportedType(providerType) {
		errs = append(errs, fmt.Sprintf("unknown provider type %q, supported: %v",
			providerType, SupportedTypes()))
	}
	return errs
}

// AuthHeaders composes the request headers for a provider type.
func AuthHeaders(providerType, apiKey string) map[string]string {
	defaults := DefaultsFor(providerType)
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if defaults.AuthPrefix != "" {
		headers[defaults.AuthHeader] = defaults.AuthPrefix + " " + apiKey
	} else {
		headers[defaults.AuthHeader] = apiKey
	}
	for key, value := range defaults.ExtraHeaders {
		headers[key] = value
	}
	return headers
}

// ChatURL joins a base URL and the chat path for a provider type.
func ChatURL(providerType, baseURL string) string {
	return strings.TrimRight(baseURL, "/") + DefaultsFor(providerType).ChatPath
}

// EstimateTokens gives a best-effort token count for plain text at roughly
// 3.5 characters per token, conservative for English.
func EstimateTokens(text string) int64 {
	return EstimateTokensForLength(len(text))
}

// EstimateTokensForLength is EstimateTokens for a known character count.
func EstimateTokensForLength(chars int) int64 {
	return int64(float64(chars) / 3.5)
}
