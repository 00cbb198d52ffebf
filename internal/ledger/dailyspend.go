package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/logger"
)

// The daily-spend counter lives next to the ledger as daily-spend.json and
// holds a single running micro-USD integer. Unlike breaker state, the full
// read-modify-write happens under one exclusive lock: spend must be durable.

type dailySpend struct {
	TotalMicroUSD int64  `json:"total_micro_usd"`
	Date          string `json:"date,omitempty"`
}

// DailySpendPath returns the counter path for a given ledger path.
func DailySpendPath(ledgerPath string) string {
	return filepath.Join(filepath.Dir(ledgerPath), "daily-spend.json")
}

// UpdateDailySpend adds delta to the counter and returns the new total.
// A corrupt or missing file degrades to zero rather than failing.
func UpdateDailySpend(delta int64, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create spend directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock daily spend: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	current := readDailySpend(path)
	current.TotalMicroUSD += delta

	data, err := json.Marshal(current)
	if err != nil {
		return 0, fmt.Errorf("marshal daily spend: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("write daily spend: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("replace daily spend: %w", err)
	}

	return current.TotalMicroUSD, nil
}

// ReadDailySpend returns the current total, degrading to zero on any error.
func ReadDailySpend(path string) int64 {
	return readDailySpend(path).TotalMicroUSD
}

func readDailySpend(path string) dailySpend {
	data, err := os.ReadFile(path)
	if err != nil {
		return dailySpend{}
	}
	var spend dailySpend
	if err := json.Unmarshal(data, &spend); err != nil {
		logger.Get().Warn("corrupt daily-spend file, resetting to zero",
			zap.String("path", path), zap.Error(err))
		return dailySpend{}
	}
	return spend
}
