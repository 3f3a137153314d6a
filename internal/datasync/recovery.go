package datasync

import (
	"maps"
	"time"

	"github.com/sidesync/sidesync/internal/audit"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// handleError records a synchronization failure, notifies error
// subscribers, and starts the automatic recovery loop when the failure
// streak is still below the retry cap.
func (m *Manager) handleError(message string, code syncerrors.Code) {
	m.mu.Lock()
	m.state.recordError(message, code)
	subs := append([]errorSubscriber(nil), m.errorSubs...)
	m.startRecoveryLocked()
	m.mu.Unlock()

	m.notifyError(subs, message, code)
}

// startRecoveryLocked spawns the recovery goroutine unless one is
// already running, the coordinator is closed, or the failure streak has
// reached the retry cap. Caller holds m.mu.
func (m *Manager) startRecoveryLocked() {
	if m.recovering || m.closed {
		return
	}
	if m.state.ConsecutiveFailures >= m.retry.MaxAttempts {
		return
	}

	m.recovering = true
	m.recoveryStop = make(chan struct{})
	m.wg.Add(1)
	go m.recoverLoop(m.recoveryStop)
	m.logger.Printf("automatic recovery loop started")
}

// stopRecoveryLocked signals the running recovery loop, if any, to exit.
// Caller holds m.mu.
func (m *Manager) stopRecoveryLocked() {
	if m.recoveryStop != nil {
		close(m.recoveryStop)
		m.recoveryStop = nil
	}
}

// recoverLoop periodically retries loading through the provider with the
// same backoff schedule as saves. It exits on the first successful load,
// on stop, or once the failure streak reaches the retry cap. Load
// failures inside the loop are logged and backed off, never raised:
// there is no caller to receive them.
func (m *Manager) recoverLoop(stop chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.recoveryStop == stop {
			m.recoveryStop = nil
		}
		m.recovering = false
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Printf("automatic recovery loop finished")
	}()

	delay := m.retry.InitialDelay

	for {
		m.mu.Lock()
		active := m.state.Status == StatusError &&
			m.state.ConsecutiveFailures < m.retry.MaxAttempts
		failures := m.state.ConsecutiveFailures
		if active {
			m.state.NextRetry = time.Now().Add(delay)
		}
		m.mu.Unlock()

		if !active {
			return
		}

		m.logger.Printf("attempting automatic recovery in %s", delay.Round(time.Millisecond))

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		data, err := m.provider.Load()
		if err != nil {
			m.logger.Printf("recovery attempt failed: %v", err)
			delay = time.Duration(float64(delay) * m.retry.Multiplier)
			if delay > m.retry.MaxDelay {
				delay = m.retry.MaxDelay
			}
			continue
		}

		m.mu.Lock()
		m.cache = maps.Clone(data)
		m.state.recordSuccess(0)
		m.mu.Unlock()

		m.logger.Printf("automatic recovery succeeded")
		m.audit.Record(audit.EventSyncRecovered, audit.SeverityInfo, "datasync",
			"synchronization recovered automatically", map[string]any{
				"previous_failures": failures,
				"delay":             delay.String(),
				"keys":              len(data),
			})

		m.notifyChange(data)
		return
	}
}
