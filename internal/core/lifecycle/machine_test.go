package lifecycle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Transition Table Tests
// =============================================================================

func TestMachine_InitialState(t *testing.T) {
	m := NewMachine(0)

	assert.Equal(t, StateUnknown, m.State())
}

func TestMachine_StartStopCycle(t *testing.T) {
	m := NewMachine(0)

	state, changed := m.Apply(SignalStartRequested, "deploy requested")
	assert.Equal(t, StateStarting, state)
	assert.True(t, changed)

	state, _ = m.Apply(SignalEngineStarted, "services started")
	assert.Equal(t, StateRunning, state)

	state, _ = m.Apply(SignalCheckingHealth, "checking health")
	assert.Equal(t, StateRunningCheckingHealth, state)

	state, _ = m.Apply(SignalServicesReady, "all services healthy")
	assert.Equal(t, StateRunningHealthy, state)

	state, _ = m.Apply(SignalStopRequested, "stop requested")
	assert.Equal(t, StateStopping, state)

	state, _ = m.Apply(SignalEngineStopped, "services stopped")
	assert.Equal(t, StateStopped, state)
}

func TestMachine_StoppedStartRequestedGoesToStarting(t *testing.T) {
	m := NewMachine(0)
	m.Apply(SignalEngineStopped, "")

	require.Equal(t, StateStopped, m.State())

	state, changed := m.Apply(SignalStartRequested, "restart")
	assert.Equal(t, StateStarting, state)
	assert.True(t, changed)
}

func TestMachine_ErrorReachableFromEveryState(t *testing.T) {
	for from := range transitions {
		t.Run(string(from), func(t *testing.T) {
			m := NewMachine(0)
			m.mu.Lock()
			m.state = from
			m.mu.Unlock()

			state, _ := m.Apply(SignalFailed, "boom")
			assert.Equal(t, StateError, state)
		})
	}
}

func TestMachine_ErrorIsNotTerminal(t *testing.T) {
	m := NewMachine(0)
	m.Apply(SignalFailed, "boom")
	require.Equal(t, StateError, m.State())

	state, changed := m.Apply(SignalStartRequested, "retry")

	assert.Equal(t, StateStarting, state)
	assert.True(t, changed)
	assert.Empty(t, m.Snapshot().LastError)
}

func TestMachine_ErrorEntryClearsHealthFlags(t *testing.T) {
	m := NewMachine(0)
	m.Apply(SignalStartRequested, "")
	m.Apply(SignalEngineStarted, "")
	m.Apply(SignalServicesReady, "all healthy")
	require.True(t, m.Snapshot().AllServicesHealthy)
	require.True(t, m.Snapshot().ProxyHealthy)

	m.Apply(SignalFailed, "engine crashed")

	snap := m.Snapshot()
	assert.False(t, snap.AllServicesHealthy)
	assert.False(t, snap.ProxyHealthy)
	assert.Equal(t, "engine crashed", snap.LastError)
}

func TestMachine_ServicesUnhealthyFromAnyRunningState(t *testing.T) {
	for _, from := range []State{StateRunning, StateRunningCheckingHealth, StateRunningHealthy} {
		t.Run(string(from), func(t *testing.T) {
			m := NewMachine(0)
			m.mu.Lock()
			m.state = from
			m.allServicesHealthy = true
			m.mu.Unlock()

			state, _ := m.Apply(SignalServicesUnhealthy, "db unhealthy")

			assert.Equal(t, StateRunningUnhealthy, state)
			assert.False(t, m.Snapshot().AllServicesHealthy)
		})
	}
}

func TestMachine_UnmatchedSignalKeepsStateAndAudits(t *testing.T) {
	m := NewMachine(0)

	// ServicesReady means nothing in Unknown.
	state, changed := m.Apply(SignalServicesReady, "spurious")

	assert.Equal(t, StateUnknown, state)
	assert.False(t, changed)
	assert.Contains(t, m.Snapshot().Logs[0], "spurious")
}

// =============================================================================
// Text Classification Tests
// =============================================================================

func TestClassifySignal(t *testing.T) {
	tests := []struct {
		text     string
		expected Signal
	}{
		{"Services STARTED successfully", SignalEngineStarted},
		{"starting containers", SignalStartRequested},
		{"all services healthy", SignalServicesReady},
		{"container db is unhealthy", SignalServicesUnhealthy},
		{"checking health of services", SignalCheckingHealth},
		{"stopping stack", SignalStopRequested},
		{"stack stopped", SignalEngineStopped},
		{"deployment failed: exit 1", SignalFailed},
		{"pulling images", SignalNone},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifySignal(tt.text))
		})
	}
}

func TestMachine_ObserveStartedTextDrivesStartingToRunning(t *testing.T) {
	m := NewMachine(0)
	m.Apply(SignalStartRequested, "")
	require.Equal(t, StateStarting, m.State())

	state, changed := m.Observe("Stack Started")

	assert.Equal(t, StateRunning, state)
	assert.True(t, changed)
}

func TestMachine_ObserveNonMatchingTextOnlyAudits(t *testing.T) {
	m := NewMachine(0)

	state, changed := m.Observe("pulling layer 3 of 7")

	assert.Equal(t, StateUnknown, state)
	assert.False(t, changed)

	logs := m.Snapshot().Logs
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "pulling layer 3 of 7")
}

// =============================================================================
// Ring Log Tests
// =============================================================================

func TestRingLog_EvictsOldestBeyondCapacity(t *testing.T) {
	l := NewRingLog(3)

	for i := 0; i < 5; i++ {
		l.Append(fmt.Sprintf("entry-%d", i))
	}

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []string{"entry-2", "entry-3", "entry-4"}, l.Entries())
}

func TestRingLog_UnderCapacity(t *testing.T) {
	l := NewRingLog(8)
	l.Append("a")
	l.Append("b")

	assert.Equal(t, []string{"a", "b"}, l.Entries())
}

func TestMachine_AuditTrailIsBounded(t *testing.T) {
	m := NewMachine(4)

	for i := 0; i < 100; i++ {
		m.Observe(fmt.Sprintf("pulling chunk %d", i))
	}

	assert.LessOrEqual(t, len(m.Snapshot().Logs), 4)
}
