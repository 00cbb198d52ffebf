package pricing

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadOverrides reads a pricing override table from a JSON file mapping
// "provider:model" or bare model names to entries. An empty path yields
// an empty table.
func LoadOverrides(path string) (map[string]Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var table map[string]Entry
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	for key, entry := range table {
		if entry.InputMicroPerMillion < 0 || entry.OutputMicroPerMillion < 0 || entry.ReasoningMicroPerMillion < 0 {
			return nil, fmt.Errorf("negative rate for %q", key)
		}
	}
	return table, nil
}
