package datasync

import (
	"fmt"
	"maps"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// ChangeFunc receives the new payload after the stored document changed.
// It runs on the provider's watcher goroutine, not the caller's.
type ChangeFunc func(data map[string]any)

// ErrorFunc receives the failure message and taxonomy code after a
// synchronization error.
type ErrorFunc func(message string, code syncerrors.Code)

type changeSubscriber struct {
	id int
	fn ChangeFunc
}

type errorSubscriber struct {
	id int
	fn ErrorFunc
}

// OnChange registers fn to be called with the new payload whenever the
// stored document changes, and returns an id for RemoveOnChange.
// Subscribers are invoked in registration order. A subscriber that
// panics is logged and permanently removed; it gets no further
// deliveries. Panics on a nil fn.
func (m *Manager) OnChange(fn ChangeFunc) int {
	if fn == nil {
		panic("datasync: OnChange called with nil callback")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.subscribers = append(m.subscribers, changeSubscriber{id: m.nextID, fn: fn})
	m.logger.Printf("change subscriber registered (total: %d)", len(m.subscribers))
	return m.nextID
}

// RemoveOnChange removes the subscriber with the given id. It reports
// whether the id was registered.
func (m *Manager) RemoveOnChange(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub.id == id {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			m.logger.Printf("change subscriber removed (total: %d)", len(m.subscribers))
			return true
		}
	}
	m.logger.Printf("attempted to remove unregistered change subscriber %d", id)
	return false
}

// OnError registers fn to be called with (message, code) after a
// synchronization failure. Panics from fn are logged, never propagated,
// and do not unsubscribe it. Panics on a nil fn.
func (m *Manager) OnError(fn ErrorFunc) int {
	if fn == nil {
		panic("datasync: OnError called with nil callback")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.errorSubs = append(m.errorSubs, errorSubscriber{id: m.nextID, fn: fn})
	m.logger.Printf("error subscriber registered (total: %d)", len(m.errorSubs))
	return m.nextID
}

// handleChange is the provider's watch callback: refresh the cache, then
// fan the payload out to every change subscriber.
func (m *Manager) handleChange(data map[string]any) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cache = maps.Clone(data)
	m.mu.Unlock()

	m.notifyChange(data)
}

// notifyChange invokes every change subscriber with data, outside the
// manager lock so subscribers may call back into the manager. Panicking
// subscribers are removed afterwards.
func (m *Manager) notifyChange(data map[string]any) {
	m.mu.Lock()
	subs := append([]changeSubscriber(nil), m.subscribers...)
	m.mu.Unlock()

	var failed []int
	for _, sub := range subs {
		if err := invoke(sub.fn, data); err != nil {
			m.logger.Printf("change subscriber %d failed: %v, removing it", sub.id, err)
			failed = append(failed, sub.id)
		}
	}

	if len(failed) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range failed {
		for i, sub := range m.subscribers {
			if sub.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
}

// notifyError invokes the given error subscribers with (message, code).
func (m *Manager) notifyError(subs []errorSubscriber, message string, code syncerrors.Code) {
	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Printf("error subscriber %d failed: %v", sub.id, r)
				}
			}()
			sub.fn(message, code)
		}()
	}
}

// invoke runs fn and converts a panic into an error.
func invoke(fn ChangeFunc, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fn(data)
	return nil
}
