package connectivity_test

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/shopsync/internal/connectivity"
	"github.com/TheMichaelB/shopsync/internal/events"
)

func newMonitor(online bool) (*connectivity.Monitor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	return connectivity.NewMonitor(online, logger), &buf
}

func TestMonitorInitialState(t *testing.T) {
	m, _ := newMonitor(true)

	assert.True(t, m.Online())
	assert.False(t, m.PersistenceDegraded())
	assert.False(t, m.HadSyncDrop())
}

func TestMonitorOnlineHookOncePerTransition(t *testing.T) {
	m, _ := newMonitor(false)

	var calls int32
	m.OnOnline(func() { atomic.AddInt32(&calls, 1) })

	m.SetOnline(true)
	m.SetOnline(true)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "online to online is not a transition")

	m.SetOnline(false)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "going offline runs no hook")

	m.SetOnline(true)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMonitorFlagsAreSticky(t *testing.T) {
	m, buf := newMonitor(true)

	m.ReportPersistenceFailure(errors.New("disk full"))
	m.ReportPersistenceFailure(errors.New("still full"))
	assert.True(t, m.PersistenceDegraded())
	assert.Equal(t, "still full", m.Status().LastPersistenceErr)
	assert.Contains(t, buf.String(), "Local persistence degraded")

	m.ReportSyncDrop()
	m.ReportSyncSuccess()
	assert.True(t, m.HadSyncDrop())
	assert.False(t, m.Status().LastSyncAt.IsZero())

	m.AcknowledgeSyncDrop()
	assert.False(t, m.HadSyncDrop())
}

func TestMonitorSubscribe(t *testing.T) {
	m, _ := newMonitor(true)

	var got []connectivity.Status
	unsubscribe := m.Subscribe(func(s connectivity.Status) {
		got = append(got, s)
	})

	m.SetOnline(false)
	m.ReportSyncDrop()
	m.ReportSyncDrop()
	require.Len(t, got, 2)
	assert.False(t, got[0].Online)
	assert.True(t, got[1].HadSyncDrop)

	unsubscribe()
	m.SetOnline(true)
	assert.Len(t, got, 2)
}

func TestMonitorConcurrentAccess(t *testing.T) {
	m, _ := newMonitor(false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.SetOnline(n%2 == 0)
			m.ReportSyncSuccess()
			_ = m.Status()
		}(i)
	}
	wg.Wait()
}
