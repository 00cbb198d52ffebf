// Package pool manages per-provider HTTP clients with keepalive pooling.
package pool

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hounfour/cheval/internal/cheval"
	"github.com/hounfour/cheval/internal/registry"
)

// Manager lazily creates one pooled client per provider name. Lookup uses
// double-checked locking so the hot path stays on a read lock.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*http.Client
}

func NewManager() *Manager {
	return &Manager{clients: make(map[string]*http.Client)}
}

// GetOrCreate returns the client for a provider, creating it on first use
// with timeouts derived from the provider record.
func (m *Manager) GetOrCreate(provider cheval.Provider) *http.Client {
	m.mu.RLock()
	client, ok := m.clients[provider.Name]
	m.mu.RUnlock()
	if ok {
		return client
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[provider.Name]; ok {
		return client
	}

	client = newClient(provider)
	m.clients[provider.Name] = client
	return client
}

func newClient(provider cheval.Provider) *http.Client {
	defaults := registry.DefaultsFor(provider.Type)

	connect := msOrDefault(provider.ConnectTimeoutMS, defaults.ConnectTimeoutMS)
	read := msOrDefault(provider.ReadTimeoutMS, defaults.ReadTimeoutMS)
	total := msOrDefault(provider.TotalTimeoutMS, defaults.TotalTimeoutMS)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: read,
		TLSHandshakeTimeout:   connect,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   total,
	}
}

func msOrDefault(value *int, fallback int) time.Duration {
	ms := fallback
	if value != nil && *value > 0 {
		ms = *value
	}
	return time.Duration(ms) * time.Millisecond
}

// Size reports the number of active clients.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll drops idle connections on every client, in parallel.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*http.Client)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c *http.Client) {
			defer wg.Done()
			c.CloseIdleConnections()
		}(client)
	}
	wg.Wait()
}
