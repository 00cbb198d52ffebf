package breaker

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupStale removes circuit-breaker state files older than maxAge.
// Returns the number of files removed. Missing run dir is not an error.
func CleanupStale(runDir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "circuit-breaker-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(runDir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
