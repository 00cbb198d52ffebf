package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hounfour/cheval/internal/cheval"
)

func TestManager(t *testing.T) {
	provider := cheval.Provider{Name: "openai", Type: "openai", BaseURL: "https://x", APIKey: "k"}

	t.Run("same provider name returns the same client", func(t *testing.T) {
		m := NewManager()
		first := m.GetOrCreate(provider)
		second := m.GetOrCreate(provider)
		assert.Same(t, first, second)
		assert.Equal(t, 1, m.Size())
	})

	t.Run("different providers get distinct clients", func(t *testing.T) {
		m := NewManager()
		a := m.GetOrCreate(provider)
		other := provider
		other.Name = "anthropic"
		b := m.GetOrCreate(other)
		assert.NotSame(t, a, b)
		assert.Equal(t, 2, m.Size())
	})

	t.Run("timeouts come from the provider record", func(t *testing.T) {
		m := NewManager()
		total := 5000
		custom := provider
		custom.Name = "custom"
		custom.TotalTimeoutMS = &total

		client := m.GetOrCreate(custom)
		assert.Equal(t, 5*time.Second, client.Timeout)
	})

	t.Run("defaults apply when the record is silent", func(t *testing.T) {
		m := NewManager()
		client := m.GetOrCreate(provider)
		assert.Equal(t, 300*time.Second, client.Timeout)
	})

	t.Run("concurrent lookups converge on one client", func(t *testing.T) {
		m := NewManager()
		var wg sync.WaitGroup
		clients := make([]any, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				clients[i] = m.GetOrCreate(provider)
			}(i)
		}
		wg.Wait()

		require.Equal(t, 1, m.Size())
		for i := 1; i < 16; i++ {
			assert.Same(t, clients[0], clients[i])
		}
	})

	t.Run("close all empties the pool", func(t *testing.T) {
		m := NewManager()
		m.GetOrCreate(provider)
		m.CloseAll()
		assert.Zero(t, m.Size())
	})
}
