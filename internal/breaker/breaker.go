package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// File-persisted circuit breaker, one state file per provider under the run
// directory. Writes hold an exclusive advisory lock for the full
// truncate-and-rewrite; reads are lock-free and tolerate partial or corrupt
// files by falling back to CLOSED. The read-modify-write race between two
// concurrent transitions is tolerated: duplicate OPEN→HALF_OPEN transitions
// zero the probe count twice, extra probes are bounded by concurrency and
// re-open the breaker on the first failure.

type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

type Config struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	CountWindow       time.Duration
	HalfOpenMaxProbes int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		CountWindow:       300 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// persisted mirrors the on-disk JSON. Timestamps are unix seconds.
type persisted struct {
	Provider       string   `json:"provider"`
	State          State    `json:"state"`
	FailureCount   int      `json:"failure_count"`
	LastFailureTS  *float64 `json:"last_failure_ts"`
	OpenedAt       *float64 `json:"opened_at"`
	HalfOpenProbes int      `json:"half_open_probes"`
}

type Breaker struct {
	runDir string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	// onTransition, when set, observes every state change.
	onTransition func(provider string, from, to State)
}

func New(runDir string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if cfg.CountWindow <= 0 {
		cfg.CountWindow = DefaultConfig().CountWindow
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = DefaultConfig().HalfOpenMaxProbes
	}
	return &Breaker{runDir: runDir, cfg: cfg, logger: logger, now: time.Now}
}

// OnTransition registers a state-change observer (metrics hook).
func (b *Breaker) OnTransition(fn func(provider string, from, to State)) {
	b.onTransition = fn
}

func StateFilePath(runDir, provider string) string {
	return filepath.Join(runDir, "circuit-breaker-"+provider+".json")
}

func defaultState(provider string) persisted {
	return persisted{Provider: provider, State: Closed}
}

func (b *Breaker) readState(provider string) persisted {
	path := StateFilePath(b.runDir, provider)
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultState(provider)
	}
	var state persisted
	if err := json.Unmarshal(data, &state); err != nil {
		return defaultState(provider)
	}
	if state.Provider != provider || state.State == "" {
		return defaultState(provider)
	}
	return state
}

func (b *Breaker) writeState(state persisted) error {
	if err := os.MkdirAll(b.runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	path := StateFilePath(b.runDir, state.Provider)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock breaker state: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal breaker state: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open breaker state: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate breaker state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write breaker state: %w", err)
	}
	return nil
}

func (b *Breaker) transition(provider string, from, to State) {
	if b.onTransition != nil && from != to {
		b.onTransition(provider, from, to)
	}
}

// Check returns the effective state for a provider, applying the
// OPEN→HALF_OPEN transition when the reset timeout has elapsed.
func (b *Breaker) Check(provider string) State {
	state := b.readState(provider)
	now := float64(b.now().UnixNano()) / 1e9

	switch state.State {
	case Open:
		if state.OpenedAt != nil && now-*state.OpenedAt >= b.cfg.ResetTimeout.Seconds() {
			state.State = HalfOpen
			state.HalfOpenProbes = 0
			if err := b.writeState(state); err != nil {
				b.logger.Warn("failed to persist breaker transition",
					zap.String("provider", provider), zap.Error(err))
			}
			b.logger.Info("circuit breaker OPEN -> HALF_OPEN",
				zap.String("provider", provider))
			b.transition(provider, Open, HalfOpen)
			return HalfOpen
		}
		return Open

	case HalfOpen:
		if state.HalfOpenProbes >= b.cfg.HalfOpenMaxProbes {
			return Open
		}
		return HalfOpen
	}

	return Closed
}

// StartProbe increments the half-open probe counter before a probe request.
func (b *Breaker) StartProbe(provider string) {
	state := b.readState(provider)
	if state.State != HalfOpen {
		return
	}
	state.HalfOpenProbes++
	if err := b.writeState(state); err != nil {
		b.logger.Warn("failed to persist probe count",
			zap.String("provider", provider), zap.Error(err))
	}
}

// RecordFailure counts a failure and applies CLOSED→OPEN and
// HALF_OPEN→OPEN transitions. Returns the new state.
func (b *Breaker) RecordFailure(provider string) State {
	state := b.readState(provider)
	now := float64(b.now().UnixNano()) / 1e9

	switch state.State {
	case HalfOpen:
		state.State = Open
		state.OpenedAt = &now
		state.HalfOpenProbes = 0
		if err := b.writeState(state); err != nil {
			b.logger.Warn("failed to persist breaker state",
				zap.String("provider", provider), zap.Error(err))
		}
		b.logger.Warn("circuit breaker HALF_OPEN -> OPEN (probe failed)",
			zap.String("provider", provider))
		b.transition(provider, HalfOpen, Open)
		return Open

	case Closed:
		if state.LastFailureTS != nil && now-*state.LastFailureTS > b.cfg.CountWindow.Seconds() {
			state.FailureCount = 0
		}
		state.FailureCount++
		state.LastFailureTS = &now

		if state.FailureCount >= b.cfg.FailureThreshold {
			state.State = Open
			state.OpenedAt = &now
			if err := b.writeState(state); err != nil {
				b.logger.Warn("failed to persist breaker state",
					zap.String("provider", provider), zap.Error(err))
			}
			b.logger.Warn("circuit breaker CLOSED -> OPEN",
				zap.String("provider", provider),
				zap.Int("failures", state.FailureCount),
				zap.Int("threshold", b.cfg.FailureThreshold))
			b.transition(provider, Closed, Open)
			return Open
		}

		if err := b.writeState(state); err != nil {
			b.logger.Warn("failed to persist breaker state",
				zap.String("provider", provider), zap.Error(err))
		}
		return Closed
	}

	state.LastFailureTS = &now
	if err := b.writeState(state); err != nil {
		b.logger.Warn("failed to persist breaker state",
			zap.String("provider", provider), zap.Error(err))
	}
	return Open
}

// RecordSuccess resets the failure count when CLOSED and closes the
// breaker after a successful half-open probe. Returns the new state.
func (b *Breaker) RecordSuccess(provider string) State {
	state := b.readState(provider)

	switch state.State {
	case HalfOpen:
		fresh := defaultState(provider)
		if err := b.writeState(fresh); err != nil {
			b.logger.Warn("failed to persist breaker state",
				zap.String("provider", provider), zap.Error(err))
		}
		b.logger.Info("circuit breaker HALF_OPEN -> CLOSED (probe succeeded)",
			zap.String("provider", provider))
		b.transition(provider, HalfOpen, Closed)
		return Closed

	case Closed:
		if state.FailureCount > 0 {
			state.FailureCount = 0
			if err := b.writeState(state); err != nil {
				b.logger.Warn("failed to persist breaker state",
					zap.String("provider", provider), zap.Error(err))
			}
		}
		return Closed
	}

	return state.State
}
