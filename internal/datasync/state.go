package datasync

import (
	"time"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// Status is the coordinator's synchronization status.
type Status string

const (
	// StatusInactive means the coordinator has not synchronized yet or
	// has been closed.
	StatusInactive Status = "inactive"

	// StatusActive means the last synchronization succeeded.
	StatusActive Status = "active"

	// StatusError means the last synchronization failed.
	StatusError Status = "error"

	// StatusPaused means automatic recovery is suspended.
	StatusPaused Status = "paused"
)

// State is a snapshot of the coordinator's synchronization state. It is
// in-memory only and never persisted. All fields are values, so the copy
// returned by Manager.State is safe to hold.
type State struct {
	Status     Status
	LastUpdate time.Time
	NextRetry  time.Time

	TotalSyncs          int
	SuccessfulSyncs     int
	FailedSyncs         int
	ConsecutiveFailures int

	LastError     string
	LastErrorCode syncerrors.Code

	// LastLatency is the duration of the most recent successful save.
	// AvgLatency smooths samples with weight 0.8 on the previous average
	// and 0.2 on the new sample, seeded to the first sample.
	LastLatency time.Duration
	AvgLatency  time.Duration
}

func (s *State) recordSuccess(latency time.Duration) {
	s.Status = StatusActive
	s.LastUpdate = time.Now()
	s.NextRetry = time.Time{}

	s.TotalSyncs++
	s.SuccessfulSyncs++
	s.ConsecutiveFailures = 0

	s.LastError = ""
	s.LastErrorCode = ""

	s.LastLatency = latency
	if s.SuccessfulSyncs == 1 {
		s.AvgLatency = latency
	} else {
		s.AvgLatency = time.Duration(float64(s.AvgLatency)*0.8 + float64(latency)*0.2)
	}
}

func (s *State) recordError(message string, code syncerrors.Code) {
	s.Status = StatusError
	s.LastUpdate = time.Now()

	s.TotalSyncs++
	s.FailedSyncs++
	s.ConsecutiveFailures++

	s.LastError = message
	s.LastErrorCode = code
}

// SuccessRate returns successful syncs over total syncs, 0.0 before any
// attempt.
func (s State) SuccessRate() float64 {
	if s.TotalSyncs == 0 {
		return 0.0
	}
	return float64(s.SuccessfulSyncs) / float64(s.TotalSyncs)
}

// Healthy reports whether the coordinator is in a usable state: active or
// paused, with no accumulated failure streak.
func (s State) Healthy() bool {
	return (s.Status == StatusActive || s.Status == StatusPaused) &&
		s.ConsecutiveFailures == 0
}
