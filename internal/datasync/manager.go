// Package datasync coordinates persistence between the widget layer and
// the storage provider.
//
// The Manager is the only component widgets should call directly: it
// validates payloads before they touch the store, retries failed saves
// with exponential backoff, keeps an in-memory cache for reads, fans out
// change notifications from the provider's watcher, and runs an automatic
// recovery loop after read failures.
package datasync

import (
	"fmt"
	"log"
	"maps"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/sidesync/sidesync/internal/audit"
	"github.com/sidesync/sidesync/internal/document"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

// RetryPolicy bounds the save retry loop. The zero value takes the
// defaults; negative fields are rejected at construction.
type RetryPolicy struct {
	// MaxAttempts is the total number of save attempts, including the
	// first one.
	MaxAttempts int

	// InitialDelay is the sleep before the second attempt.
	InitialDelay time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Jitter scales each sleep by a uniform random factor in [0.5, 1.0)
	// so synchronized retriers spread out.
	Jitter bool
}

// DefaultRetryPolicy returns the default retry settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Config holds the Manager dependencies.
type Config struct {
	// Provider is the storage backend. Required.
	Provider provider.Provider

	// Retry bounds the save retry loop. Zero fields take defaults.
	Retry RetryPolicy

	// Logger receives diagnostic output. Nil means a prefixed stderr
	// logger.
	Logger *log.Logger

	// Audit receives lifecycle and error events. Nil disables auditing.
	Audit *audit.Trail
}

// Manager is the synchronization coordinator.
type Manager struct {
	provider provider.Provider
	retry    RetryPolicy
	logger   *log.Logger
	audit    *audit.Trail

	mu          sync.Mutex
	state       State
	cache       map[string]any
	subscribers []changeSubscriber
	errorSubs   []errorSubscriber
	nextID      int
	closed      bool

	recovering   bool
	recoveryStop chan struct{}
	wg           sync.WaitGroup
}

// New creates a Manager and configures the provider's watcher. The
// caller must Close the manager to stop the watcher and the recovery
// loop.
func New(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter, "storage provider is required", nil)
	}

	var violations []string
	if cfg.Retry.MaxAttempts < 0 {
		violations = append(violations, fmt.Sprintf("max attempts must not be negative, got %d", cfg.Retry.MaxAttempts))
	}
	if cfg.Retry.InitialDelay < 0 {
		violations = append(violations, fmt.Sprintf("initial delay must not be negative, got %s", cfg.Retry.InitialDelay))
	}
	if cfg.Retry.MaxDelay < 0 {
		violations = append(violations, fmt.Sprintf("max delay must not be negative, got %s", cfg.Retry.MaxDelay))
	}
	if cfg.Retry.Multiplier < 0 {
		violations = append(violations, fmt.Sprintf("backoff multiplier must not be negative, got %g", cfg.Retry.Multiplier))
	}
	if len(violations) > 0 {
		return nil, syncerrors.NewValidation("datasync", violations)
	}

	def := DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = def.InitialDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = def.Multiplier
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.MaxDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[datasync] ", log.LstdFlags)
	}

	m := &Manager{
		provider: cfg.Provider,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
		audit:    cfg.Audit,
		state:    State{Status: StatusInactive},
	}

	if err := m.provider.Watch(m.handleChange); err != nil {
		return nil, syncerrors.NewSync(syncerrors.CodeTimeout, "failed to configure data observer", err)
	}

	m.logger.Printf("sync coordinator initialized (provider=%s, max attempts=%d)",
		m.provider.Kind(), m.retry.MaxAttempts)
	m.audit.Record(audit.EventSyncStarted, audit.SeverityInfo, "datasync", "sync coordinator initialized", map[string]any{
		"provider":      m.provider.Kind().String(),
		"max_attempts":  m.retry.MaxAttempts,
		"initial_delay": m.retry.InitialDelay.String(),
	})

	return m, nil
}

// Update validates data and saves it through the provider, retrying per
// the RetryPolicy. On success the cache and counters are updated; after
// the final failed attempt the error state is recorded, error subscribers
// are notified once, and a timeout-coded error is returned.
//
// Update blocks the caller for up to the sum of backoff delays in the
// worst case.
func (m *Manager) Update(data map[string]any) error {
	// Fail fast before any write is attempted.
	payload, err := document.ClonePayload(data)
	if err != nil {
		return syncerrors.NewSync(syncerrors.CodeInvalidFormat, "invalid payload", err)
	}

	delay := m.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		start := time.Now()
		err := m.provider.Save(payload)
		if err == nil {
			latency := time.Since(start)

			m.mu.Lock()
			m.cache = maps.Clone(payload)
			m.state.recordSuccess(latency)
			m.mu.Unlock()

			m.logger.Printf("data saved on attempt %d (%d keys, %s)", attempt, len(payload), latency.Round(time.Microsecond))
			m.audit.Record(audit.EventSyncSuccess, audit.SeverityInfo, "datasync",
				fmt.Sprintf("synchronized on attempt %d", attempt), map[string]any{
					"attempt":    attempt,
					"latency_ms": float64(latency) / float64(time.Millisecond),
					"keys":       len(payload),
				})
			return nil
		}

		lastErr = err
		m.logger.Printf("save attempt %d failed: %v (attempts left: %d)",
			attempt, lastErr, m.retry.MaxAttempts-attempt)

		if attempt < m.retry.MaxAttempts {
			sleep := delay
			if sleep > m.retry.MaxDelay {
				sleep = m.retry.MaxDelay
			}
			if m.retry.Jitter {
				sleep = time.Duration(float64(sleep) * (0.5 + rand.Float64()*0.5))
			}

			m.audit.Record(audit.EventSyncRetry, audit.SeverityWarning, "datasync",
				fmt.Sprintf("save attempt %d failed, retrying in %s", attempt, sleep.Round(time.Millisecond)), map[string]any{
					"attempt": attempt,
					"delay":   sleep.String(),
					"error":   lastErr.Error(),
				})

			m.mu.Lock()
			m.state.NextRetry = time.Now().Add(sleep)
			m.mu.Unlock()

			time.Sleep(sleep)
			delay = time.Duration(float64(delay) * m.retry.Multiplier)
		}
	}

	msg := fmt.Sprintf("failed to save data after %d attempts", m.retry.MaxAttempts)
	m.logger.Printf("%s: %v", msg, lastErr)
	m.audit.Record(audit.EventSyncError, audit.SeverityError, "datasync", msg, map[string]any{
		"max_attempts": m.retry.MaxAttempts,
		"last_error":   lastErr.Error(),
		"keys":         len(payload),
	})

	m.mu.Lock()
	m.state.recordError(msg, syncerrors.CodeTimeout)
	subs := append([]errorSubscriber(nil), m.errorSubs...)
	m.mu.Unlock()
	m.notifyError(subs, msg, syncerrors.CodeTimeout)

	return syncerrors.NewSync(syncerrors.CodeTimeout, msg, lastErr)
}

// Get returns the current payload: the in-memory cache when populated,
// otherwise a load through the provider that also populates the cache.
// Load failures are routed to error subscribers and may start the
// recovery loop before the wrapped error is returned.
func (m *Manager) Get() (map[string]any, error) {
	m.mu.Lock()
	if m.cache != nil {
		data := maps.Clone(m.cache)
		m.mu.Unlock()
		return data, nil
	}
	m.mu.Unlock()

	data, err := m.provider.Load()
	if err != nil {
		m.logger.Printf("failed to load data: %v", err)
		m.handleError(err.Error(), syncerrors.CodeFileNotFound)
		return nil, syncerrors.NewSync(syncerrors.CodeFileNotFound, "failed to load data", err)
	}

	m.mu.Lock()
	m.cache = maps.Clone(data)
	m.mu.Unlock()
	return data, nil
}

// UpdateSnapshot validates and saves a typed sidebar snapshot.
func (m *Manager) UpdateSnapshot(snap *document.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return syncerrors.NewSync(syncerrors.CodeInvalidFormat, "invalid snapshot", err)
	}
	payload, err := snap.ToPayload()
	if err != nil {
		return syncerrors.NewSync(syncerrors.CodeInvalidFormat, "invalid snapshot", err)
	}
	return m.Update(payload)
}

// GetSnapshot returns the current payload decoded as a sidebar snapshot,
// or nil when no data has been stored yet.
func (m *Manager) GetSnapshot() (*document.Snapshot, error) {
	data, err := m.Get()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return document.SnapshotFromPayload(data)
}

// ClearCache drops the in-memory cache; the next Get loads through the
// provider again.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = nil
	m.mu.Unlock()
	m.logger.Printf("data cache cleared")
}

// State returns a copy of the current synchronization state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns the synchronization counters as a flat map, ready for
// display. Latency keys appear only after a successful save, error keys
// only while the last attempt failed.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()

	stats := map[string]any{
		"status":               string(s.Status),
		"total_syncs":          s.TotalSyncs,
		"successful_syncs":     s.SuccessfulSyncs,
		"failed_syncs":         s.FailedSyncs,
		"consecutive_failures": s.ConsecutiveFailures,
		"success_rate":         s.SuccessRate(),
	}
	if !s.LastUpdate.IsZero() {
		stats["last_update"] = s.LastUpdate.Format(time.RFC3339)
	}
	if s.LastLatency > 0 {
		stats["last_latency_ms"] = float64(s.LastLatency) / float64(time.Millisecond)
		stats["avg_latency_ms"] = float64(s.AvgLatency) / float64(time.Millisecond)
	}
	if s.LastError != "" {
		stats["last_error"] = s.LastError
		stats["last_error_code"] = string(s.LastErrorCode)
	}
	return stats
}

// Pause suspends the automatic recovery loop and marks the state paused.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == StatusPaused {
		return
	}
	m.state.Status = StatusPaused
	m.stopRecoveryLocked()
	m.logger.Printf("synchronization paused")
}

// Resume reactivates a paused coordinator. It does nothing in any other
// state.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusPaused {
		return
	}
	m.state.Status = StatusActive
	m.logger.Printf("synchronization resumed")
}

// Close stops the recovery loop and the provider's watcher, clears all
// subscriber lists, and marks the state inactive. The provider itself is
// not closed; its owner does that. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopRecoveryLocked()
	m.mu.Unlock()

	// Bounded join: the recovery loop may be mid-load.
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.logger.Printf("recovery loop did not stop within 5s, abandoning it")
	}

	if err := m.provider.Unwatch(); err != nil {
		m.logger.Printf("failed to stop data observer: %v", err)
	}

	m.mu.Lock()
	m.subscribers = nil
	m.errorSubs = nil
	m.state.Status = StatusInactive
	m.mu.Unlock()

	m.logger.Printf("sync coordinator closed")
	return nil
}
