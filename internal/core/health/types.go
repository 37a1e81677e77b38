// Package health contains pure types and aggregation logic for the
// health probe battery. No I/O lives here - probes run in the shell and
// hand their results to Aggregate.
package health

import "time"

// =============================================================================
// Check Types
// =============================================================================

// CheckStatus is the verdict of a single probe.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
	CheckSkip CheckStatus = "skip"
)

// Priority weighs a check's contribution to the overall score.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Category groups checks by the aspect of the system they probe.
type Category string

const (
	CategoryInstallation  Category = "installation"
	CategoryRuntime       Category = "runtime"
	CategoryConfiguration Category = "configuration"
	CategoryServices      Category = "services"
	CategoryStorage       Category = "storage"
)

// Check is one probe result. Checks are ephemeral - the battery regenerates
// them every cycle.
type Check struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   CheckStatus       `json:"status"`
	Message  string            `json:"message"`
	Priority Priority          `json:"priority"`
	Category Category          `json:"category"`
	Duration time.Duration     `json:"duration,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// =============================================================================
// Aggregated Status
// =============================================================================

// OverallStatus is the tiered verdict over a whole check set.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusWarning  OverallStatus = "warning"
	StatusCritical OverallStatus = "critical"
	StatusUnknown  OverallStatus = "unknown"
)

// Status is the outcome of one probe cycle. The engine caches the last
// value to answer rate-limited re-queries without re-probing.
type Status struct {
	Status        OverallStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	Checks        []Check       `json:"checks"`
	OverallHealth int           `json:"overall_health"` // 0-100
}

// =============================================================================
// Service Health
// =============================================================================

// ServiceState is the per-service status enum. Values are closed - the
// engine adapter maps whatever the CLI reports onto these four.
type ServiceState string

const (
	ServiceHealthy   ServiceState = "healthy"
	ServiceUnhealthy ServiceState = "unhealthy"
	ServiceStarting  ServiceState = "starting"
	ServiceStopped   ServiceState = "stopped"
)

// ServiceHealth is one required service's health, recomputed every poll cycle.
type ServiceHealth struct {
	ServiceName string       `json:"service_name"`
	Status      ServiceState `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastCheck   time.Time    `json:"last_check"`
}

// AllHealthy reports whether every entry in the map is healthy.
// An empty map is not healthy - there is nothing to vouch for.
func AllHealthy(services map[string]ServiceHealth) bool {
	if len(services) == 0 {
		return false
	}
	for _, s := range services {
		if s.Status != ServiceHealthy {
			return false
		}
	}
	return true
}
