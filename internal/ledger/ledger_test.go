package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(traceID string, cost int64) Entry {
	return Entry{
		TraceID:       traceID,
		Agent:         "cheval",
		Provider:      "openai",
		Model:         "gpt-4o",
		InputTokens:   1000,
		OutputTokens:  500,
		CostMicroUSD:  cost,
		PricingSource: "default",
		UsageSource:   "actual",
		TS:            "2026-08-24T12:00:00Z",
	}
}

func TestAppendAndRead(t *testing.T) {
	t.Run("round trip preserves entries in order", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.jsonl")

		require.NoError(t, Append(sampleEntry("t1", 7500), path))
		require.NoError(t, Append(sampleEntry("t2", 100), path))

		entries, err := Read(path)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "t1", entries[0].TraceID)
		assert.Equal(t, int64(7500), entries[0].CostMicroUSD)
		assert.Equal(t, "t2", entries[1].TraceID)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deep", "nested", "ledger.jsonl")
		require.NoError(t, Append(sampleEntry("t1", 1), path))
		assert.FileExists(t, path)
	})

	t.Run("malformed lines are skipped not fatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.jsonl")
		require.NoError(t, Append(sampleEntry("t1", 1), path))

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("{corrupt line\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, Append(sampleEntry("t2", 2), path))

		entries, err := Read(path)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "t1", entries[0].TraceID)
		assert.Equal(t, "t2", entries[1].TraceID)
	})

	t.Run("missing file reads as empty", func(t *testing.T) {
		entries, err := Read(filepath.Join(t.TempDir(), "absent.jsonl"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("entries are one JSON object per line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.jsonl")
		require.NoError(t, Append(sampleEntry("t1", 1), path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		assert.Len(t, lines, 1)
		assert.True(t, strings.HasPrefix(lines[0], "{"))
		assert.Contains(t, lines[0], `"cost_micro_usd":1`)
	})
}

func TestDailySpend(t *testing.T) {
	t.Run("accumulates deltas", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "daily-spend.json")

		total, err := UpdateDailySpend(100, path)
		require.NoError(t, err)
		assert.Equal(t, int64(100), total)

		total, err = UpdateDailySpend(250, path)
		require.NoError(t, err)
		assert.Equal(t, int64(350), total)

		assert.Equal(t, int64(350), ReadDailySpend(path))
	})

	t.Run("corrupt counter degrades to zero", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "daily-spend.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

		assert.Zero(t, ReadDailySpend(path))

		total, err := UpdateDailySpend(10, path)
		require.NoError(t, err)
		assert.Equal(t, int64(10), total)
	})

	t.Run("path derives from the ledger location", func(t *testing.T) {
		assert.Equal(t, "/data/daily-spend.json", DailySpendPath("/data/cost-ledger.jsonl"))
	})
}
