// Package connectivity tracks whether the inventory service is reachable
// and whether local persistence or queue replay has lost data this session.
package connectivity

import (
	"sync"
	"time"

	"github.com/TheMichaelB/shopsync/internal/events"
)

// Status is a point-in-time view of the monitor's signals.
type Status struct {
	Online              bool      `json:"online"`
	PersistenceDegraded bool      `json:"persistence_degraded"`
	HadSyncDrop         bool      `json:"had_sync_drop"`
	LastPersistenceErr  string    `json:"last_persistence_error,omitempty"`
	LastSyncAt          time.Time `json:"last_sync_at,omitempty"`
	ChangedAt           time.Time `json:"changed_at"`
}

// Listener receives every status change.
type Listener func(Status)

// Monitor holds the connectivity and degradation signals.
type Monitor struct {
	mu        sync.Mutex
	status    Status
	listeners map[int]Listener
	nextID    int
	onOnline  []func()
	logger    *events.Logger
	now       func() time.Time
}

// NewMonitor creates a monitor with the given initial online state.
func NewMonitor(online bool, logger *events.Logger) *Monitor {
	m := &Monitor{
		listeners: make(map[int]Listener),
		logger:    logger.WithField("component", "connectivity"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	m.status.Online = online
	m.status.ChangedAt = m.now()
	return m
}

// Online reports whether the service is believed reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Online
}

// PersistenceDegraded reports whether a local write failed this session.
func (m *Monitor) PersistenceDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.PersistenceDegraded
}

// HadSyncDrop reports whether a queued action was discarded.
func (m *Monitor) HadSyncDrop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.HadSyncDrop
}

// Status returns a snapshot of every signal.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnOnline registers fn to run once per offline to online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Subscribe registers a listener and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SetOnline records a network change. Going online runs the OnOnline
// hooks; repeating the current state does nothing.
func (m *Monitor) SetOnline(online bool) {
	var hooks []func()

	changed := m.update(func(s *Status) bool {
		if s.Online == online {
			return false
		}
		s.Online = online
		return true
	})
	if !changed {
		return
	}

	m.logger.WithField("online", online).Info("Connectivity changed")

	if online {
		m.mu.Lock()
		hooks = append(hooks, m.onOnline...)
		m.mu.Unlock()

		for _, hook := range hooks {
			hook()
		}
	}
}

// ReportPersistenceFailure raises the persistence degraded flag.
func (m *Monitor) ReportPersistenceFailure(err error) {
	changed := m.update(func(s *Status) bool {
		if err != nil {
			s.LastPersistenceErr = err.Error()
		}
		if s.PersistenceDegraded {
			return false
		}
		s.PersistenceDegraded = true
		return true
	})

	if changed {
		m.logger.WithError(err).Warn("Local persistence degraded")
	}
}

// ReportSyncDrop raises the sync drop flag.
func (m *Monitor) ReportSyncDrop() {
	if m.update(func(s *Status) bool {
		if s.HadSyncDrop {
			return false
		}
		s.HadSyncDrop = true
		return true
	}) {
		m.logger.Warn("Queued changes were discarded")
	}
}

// ReportSyncSuccess records a successful replay.
func (m *Monitor) ReportSyncSuccess() {
	m.update(func(s *Status) bool {
		s.LastSyncAt = m.now()
		return false
	})
}

// AcknowledgeSyncDrop clears the sync drop flag once the user has seen it.
func (m *Monitor) AcknowledgeSyncDrop() {
	m.update(func(s *Status) bool {
		if !s.HadSyncDrop {
			return false
		}
		s.HadSyncDrop = false
		return true
	})
}

// update applies fn under the lock and notifies listeners when fn reports
// a change.
func (m *Monitor) update(fn func(*Status) bool) bool {
	m.mu.Lock()
	changed := fn(&m.status)
	if !changed {
		m.mu.Unlock()
		return false
	}

	m.status.ChangedAt = m.now()
	status := m.status
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(status)
	}
	return true
}
