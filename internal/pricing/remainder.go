package pricing

import "sync"

// RemainderAccumulator carries sub-micro-USD remainders per scope key
// (trace or day) so that fractional costs are never dropped across a long
// session. Each Add emits the whole-micro carry to bill immediately.
type RemainderAccumulator struct {
	mu     sync.Mutex
	scopes map[string]int64
}

func NewRemainderAccumulator() *RemainderAccumulator {
	return &RemainderAccumulator{scopes: make(map[string]int64)}
}

// Add folds a new remainder into the scope and returns the integer carry in
// whole micro-USD. The stored residue stays in [0, 1e6).
func (a *RemainderAccumulator) Add(scope string, remainder int64) int64 {
	if remainder < 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.scopes[scope] + remainder
	carry := total / microPerUnit
	a.scopes[scope] = total % microPerUnit
	return carry
}

// Residue returns the current fractional remainder for a scope.
func (a *RemainderAccumulator) Residue(scope string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scopes[scope]
}

// Reset drops a scope entirely (end of day, end of trace).
func (a *RemainderAccumulator) Reset(scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.scopes, scope)
}
