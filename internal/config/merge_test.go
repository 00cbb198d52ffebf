package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMerge(t *testing.T) {
	t.Run("nested maps merge recursively", func(t *testing.T) {
		base := map[string]any{
			"a": map[string]any{"x": 1, "y": 2},
			"b": "keep",
		}
		overlay := map[string]any{
			"a": map[string]any{"y": 3, "z": 4},
		}

		merged := DeepMerge(base, overlay)
		assert.Equal(t, map[string]any{
			"a": map[string]any{"x": 1, "y": 3, "z": 4},
			"b": "keep",
		}, merged)
	})

	t.Run("overlay wins for non-map values", func(t *testing.T) {
		base := map[string]any{"a": map[string]any{"x": 1}, "b": []any{1, 2}}
		overlay := map[string]any{"a": "scalar", "b": []any{3}}

		merged := DeepMerge(base, overlay)
		assert.Equal(t, "scalar", merged["a"])
		assert.Equal(t, []any{3}, merged["b"])
	})

	t.Run("associative when conflicts are maps", func(t *testing.T) {
		a := map[string]any{"m": map[string]any{"one": 1}}
		b := map[string]any{"m": map[string]any{"two": 2}}
		c := map[string]any{"m": map[string]any{"three": 3, "two": 22}}

		left := DeepMerge(DeepMerge(a, b), c)
		right := DeepMerge(a, DeepMerge(b, c))
		assert.Equal(t, left, right)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		base := map[string]any{"m": map[string]any{"x": 1}}
		overlay := map[string]any{"m": map[string]any{"y": 2}}

		merged := DeepMerge(base, overlay)
		merged["m"].(map[string]any)["x"] = 99

		assert.Equal(t, 1, base["m"].(map[string]any)["x"])
		assert.NotContains(t, base["m"].(map[string]any), "y")
	})
}
