package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
)

// Interpolation tokens have the form {env:VAR} or {file:path}. Environment
// names must match the allowlist; file paths must resolve inside an allowed
// directory and pass ownership and permission checks.

var interpRe = regexp.MustCompile(`\{(env|file):([^}]+)\}`)

var coreEnvPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^LOA_`),
	regexp.MustCompile(`^OPENAI_API_KEY$`),
	regexp.MustCompile(`^ANTHROPIC_API_KEY$`),
	regexp.MustCompile(`^MOONSHOT_API_KEY$`),
	regexp.MustCompile(`^CHEVAL_`),
}

// ResolveOptions scopes interpolation for one config tree.
type ResolveOptions struct {
	ProjectRoot      string
	ExtraEnvPatterns []*regexp.Regexp
	AllowedFileDirs  []string
}

func (o ResolveOptions) root() string {
	if o.ProjectRoot == "" {
		return "."
	}
	return o.ProjectRoot
}

func envAllowed(name string, extra []*regexp.Regexp) bool {
	for _, p := range coreEnvPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	for _, p := range extra {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// checkFileAllowed validates a {file:...} target and returns the resolved
// absolute path. Symlinks are rejected both before and after resolution.
func checkFileAllowed(filePath string, opts ResolveOptions) (string, error) {
	path := filePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.root(), path)
	}

	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("secret file must not be a symlink: %s", filePath)
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve secret file path %s: %w", filePath, err)
	}

	allowed := []string{filepath.Join(opts.root(), ".loa.config.d")}
	allowed = append(allowed, opts.AllowedFileDirs...)

	inAllowed := false
	for _, dir := range allowed {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absDir, resolved)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			inAllowed = true
			break
		}
	}
	if !inAllowed {
		return "", fmt.Errorf("secret file %q not in allowed directories", filePath)
	}

	fi, err := os.Lstat(resolved)
	if err != nil {
		return "", fmt.Errorf("secret file not found: %s", resolved)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("secret file is a symlink (rejected): %s", resolved)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("secret file is not a regular file: %s", resolved)
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		if int(st.Uid) != os.Getuid() {
			return "", fmt.Errorf("secret file not owned by current user: %s", resolved)
		}
	}
	if mode := fi.Mode().Perm(); mode&0o137 != 0 {
		return "", fmt.Errorf("secret file has unsafe permissions (%#o): %s, must be <= 0640", mode, resolved)
	}

	return resolved, nil
}

// Interpolate resolves all tokens in a single string value.
func Interpolate(value string, opts ResolveOptions) (string, error) {
	var firstErr error
	out := interpRe.ReplaceAllStringFunc(value, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := interpRe.FindStringSubmatch(match)
		kind, ref := groups[1], groups[2]

		switch kind {
		case "env":
			if !envAllowed(ref, opts.ExtraEnvPatterns) {
				firstErr = fmt.Errorf("environment variable %q is not in the allowlist", ref)
				return match
			}
			val, ok := os.LookupEnv(ref)
			if !ok {
				firstErr = fmt.Errorf("environment variable %q is not set", ref)
				return match
			}
			return val
		case "file":
			resolved, err := checkFileAllowed(ref, opts)
			if err != nil {
				firstErr = err
				return match
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				firstErr = fmt.Errorf("cannot read secret file %s: %w", resolved, err)
				return match
			}
			return strings.TrimSpace(string(data))
		}
		firstErr = fmt.Errorf("unknown interpolation type: %s", kind)
		return match
	})
	return out, firstErr
}

// InterpolateMap resolves tokens through nested maps and slices,
// returning a new tree.
func InterpolateMap(cfg map[string]any, opts ResolveOptions) (map[string]any, error) {
	result := make(map[string]any, len(cfg))
	for key, value := range cfg {
		resolved, err := interpolateValue(value, opts)
		if err != nil {
			return nil, err
		}
		result[key] = resolved
	}
	return result, nil
}

func interpolateValue(value any, opts ResolveOptions) (any, error) {
	switch v := value.(type) {
	case string:
		if interpRe.MatchString(v) {
			return Interpolate(v, opts)
		}
		return v, nil
	case map[string]any:
		return InterpolateMap(v, opts)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := interpolateValue(item, opts)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}
