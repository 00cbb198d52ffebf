package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/logger"
)

// Entry is one append-only JSONL record. Entries are immutable once
// written; the ledger is observability and is never consulted for
// request decisions.
type Entry struct {
	TraceID         string `json:"trace_id"`
	Agent           string `json:"agent"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	InputTokens     int64  `json:"input_tokens"`
	OutputTokens    int64  `json:"output_tokens"`
	ReasoningTokens int64  `json:"reasoning_tokens"`
	CostMicroUSD    int64  `json:"cost_micro_usd"`
	PricingSource   string `json:"pricing_source"`
	LatencyMS       int64  `json:"latency_ms"`
	UsageSource     string `json:"usage_source"`
	TS              string `json:"ts"`
}

// Append writes one entry to the ledger file, creating parent directories
// as needed. Appends rely on the filesystem's atomic O_APPEND semantics;
// no lock is taken.
func Append(entry Entry, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return f.Sync()
}

// Read returns every parseable entry in insertion order. Malformed lines
// are skipped with a warning, never fatal.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Get().Warn("skipping malformed ledger line",
				zap.String("path", path),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan ledger: %w", err)
	}
	return entries, nil
}
