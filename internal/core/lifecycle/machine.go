// Package lifecycle implements the deployment lifecycle state machine.
// The machine is pure state bookkeeping - observers feed it signals and
// read snapshots; it never performs I/O itself.
package lifecycle

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// States
// =============================================================================

// State is the coarse deployment lifecycle label exposed to observers.
type State string

const (
	StateUnknown               State = "unknown"
	StateStarting              State = "starting"
	StateRunning               State = "running"
	StateRunningCheckingHealth State = "running_checking_health"
	StateRunningHealthy        State = "running_healthy"
	StateRunningUnhealthy      State = "running_unhealthy"
	StateStopping              State = "stopping"
	StateStopped               State = "stopped"
	StateError                 State = "error"
)

// IsRunning reports whether the state is one of the Running* states.
func (s State) IsRunning() bool {
	switch s {
	case StateRunning, StateRunningCheckingHealth, StateRunningHealthy, StateRunningUnhealthy:
		return true
	}
	return false
}

// =============================================================================
// Signals
// =============================================================================

// Signal is an explicit lifecycle event. Events carry a Signal alongside
// their human-readable message; the message is never what drives a
// transition. ClassifySignal exists only to map legacy free-text status
// lines onto this enum.
type Signal string

const (
	SignalNone              Signal = ""
	SignalStartRequested    Signal = "start_requested"
	SignalStopRequested     Signal = "stop_requested"
	SignalEngineStarted     Signal = "engine_started"
	SignalEngineStopped     Signal = "engine_stopped"
	SignalCheckingHealth    Signal = "checking_health"
	SignalServicesReady     Signal = "services_ready"
	SignalServicesUnhealthy Signal = "services_unhealthy"
	SignalFailed            Signal = "failed"

	// SignalConfigUpdate marks a configuration-driven redeploy. It has
	// no transition of its own - the stop/start signals that follow
	// drive the state - but it lands in the audit trail so observers
	// can tell a reconfiguration from a plain restart.
	SignalConfigUpdate Signal = "config_update"
)

// transitions is the state transition table. A (state, signal) pair not
// present here leaves the state unchanged; the event still lands in the
// audit trail.
var transitions = map[State]map[Signal]State{
	StateUnknown: {
		SignalStartRequested: StateStarting,
		SignalEngineStopped:  StateStopped,
		SignalFailed:         StateError,
	},
	StateStarting: {
		SignalEngineStarted: StateRunning,
		SignalStopRequested: StateStopping,
		SignalFailed:        StateError,
	},
	StateRunning: {
		SignalCheckingHealth:    StateRunningCheckingHealth,
		SignalServicesReady:     StateRunningHealthy,
		SignalServicesUnhealthy: StateRunningUnhealthy,
		SignalStopRequested:     StateStopping,
		SignalEngineStopped:     StateStopped,
		SignalFailed:            StateError,
	},
	StateRunningCheckingHealth: {
		SignalServicesReady:     StateRunningHealthy,
		SignalServicesUnhealthy: StateRunningUnhealthy,
		SignalStopRequested:     StateStopping,
		SignalEngineStopped:     StateStopped,
		SignalFailed:            StateError,
	},
	StateRunningHealthy: {
		SignalCheckingHealth:    StateRunningCheckingHealth,
		SignalServicesUnhealthy: StateRunningUnhealthy,
		SignalStopRequested:     StateStopping,
		SignalEngineStopped:     StateStopped,
		SignalFailed:            StateError,
	},
	StateRunningUnhealthy: {
		SignalCheckingHealth: StateRunningCheckingHealth,
		SignalServicesReady:  StateRunningHealthy,
		SignalStopRequested:  StateStopping,
		SignalEngineStopped:  StateStopped,
		SignalFailed:         StateError,
	},
	StateStopping: {
		SignalEngineStopped: StateStopped,
		SignalFailed:        StateError,
	},
	StateStopped: {
		SignalStartRequested: StateStarting,
		SignalFailed:         StateError,
	},
	// Error is not terminal - a new start attempt leaves it.
	StateError: {
		SignalStartRequested: StateStarting,
		SignalFailed:         StateError,
	},
}

// =============================================================================
// Text Classification
// =============================================================================

// textPatterns maps case-insensitive substrings of human-readable status
// text onto signals. Order matters: "unhealthy" must win over "healthy",
// "stopping" over "stopped".
var textPatterns = []struct {
	substr string
	signal Signal
}{
	{"unhealthy", SignalServicesUnhealthy},
	{"all services healthy", SignalServicesReady},
	{"services ready", SignalServicesReady},
	{"healthy", SignalServicesReady},
	{"checking health", SignalCheckingHealth},
	{"stopping", SignalStopRequested},
	{"stopped", SignalEngineStopped},
	{"shutting down", SignalStopRequested},
	{"starting", SignalStartRequested},
	{"started", SignalEngineStarted},
	{"running", SignalEngineStarted},
	{"error", SignalFailed},
	{"failed", SignalFailed},
}

// ClassifySignal maps free-form status text to a lifecycle signal.
// Returns SignalNone when nothing matches; such text is audit-only.
func ClassifySignal(text string) Signal {
	lower := strings.ToLower(text)
	for _, p := range textPatterns {
		if strings.Contains(lower, p.substr) {
			return p.signal
		}
	}
	return SignalNone
}

// =============================================================================
// Machine
// =============================================================================

// Snapshot is a read-only copy of the machine's observable state.
type Snapshot struct {
	State              State     `json:"state"`
	DisplayStatus      string    `json:"display_status"`
	ProxyHealthy       bool      `json:"proxy_healthy"`
	AllServicesHealthy bool      `json:"all_services_healthy"`
	LastError          string    `json:"last_error,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
	Logs               []string  `json:"logs"`
}

// Machine tracks exactly one current lifecycle state. It is safe for
// concurrent use.
type Machine struct {
	mu                 sync.Mutex
	state              State
	displayStatus      string
	proxyHealthy       bool
	allServicesHealthy bool
	lastError          string
	updatedAt          time.Time
	log                *RingLog
	now                func() time.Time
}

// NewMachine creates a machine in StateUnknown with a bounded audit trail.
func NewMachine(logCapacity int) *Machine {
	return &Machine{
		state: StateUnknown,
		log:   NewRingLog(logCapacity),
		now:   time.Now,
	}
}

// Apply feeds an explicit signal plus its message to the machine.
// It returns the resulting state and whether the state changed.
// Non-matching signals only append to the audit trail.
func (m *Machine) Apply(signal Signal, message string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if message != "" {
		m.log.Append(fmt.Sprintf("%s [%s] %s", now.UTC().Format(time.RFC3339), signal, message))
		m.displayStatus = message
	}

	next, ok := transitions[m.state][signal]
	if !ok || signal == SignalNone {
		return m.state, false
	}

	prev := m.state
	m.state = next
	m.updatedAt = now

	switch signal {
	case SignalServicesReady:
		m.allServicesHealthy = true
		m.proxyHealthy = true
	case SignalServicesUnhealthy:
		m.allServicesHealthy = false
	case SignalEngineStopped, SignalStopRequested:
		m.allServicesHealthy = false
		m.proxyHealthy = false
	case SignalFailed:
		// Error entry clears the health flags.
		m.allServicesHealthy = false
		m.proxyHealthy = false
		m.lastError = message
	case SignalStartRequested:
		if prev == StateError || prev == StateStopped {
			m.lastError = ""
		}
	}

	m.log.Append(fmt.Sprintf("%s transition %s -> %s", now.UTC().Format(time.RFC3339), prev, next))
	return m.state, prev != next
}

// Observe classifies free-form status text and applies the derived signal.
// Text that matches no pattern is appended to the audit trail only.
func (m *Machine) Observe(text string) (State, bool) {
	return m.Apply(ClassifySignal(text), text)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the observable machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:              m.state,
		DisplayStatus:      m.displayStatus,
		ProxyHealthy:       m.proxyHealthy,
		AllServicesHealthy: m.allServicesHealthy,
		LastError:          m.lastError,
		UpdatedAt:          m.updatedAt,
		Logs:               m.log.Entries(),
	}
}
