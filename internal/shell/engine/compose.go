package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stackpilot/stackpilot/internal/core/health"
)

// =============================================================================
// Compose - Engine Verb Surface
// =============================================================================

// Compose drives a deployment descriptor through the engine's compose
// subcommand. One instance is bound to one descriptor path and project.
type Compose struct {
	runner      *Runner
	projectName string
	descriptor  string // absolute path to the deployment descriptor
}

// NewCompose creates a compose surface for a descriptor.
func NewCompose(runner *Runner, projectName, descriptorPath string) *Compose {
	return &Compose{
		runner:      runner,
		projectName: projectName,
		descriptor:  descriptorPath,
	}
}

// SetDescriptor repoints the surface at a new descriptor path. The
// coordinator calls this after a configuration update changes the
// deploy dir.
func (c *Compose) SetDescriptor(projectName, descriptorPath string) {
	c.projectName = projectName
	c.descriptor = descriptorPath
}

func (c *Compose) baseArgs() []string {
	return []string{"compose", "-p", c.projectName, "-f", c.descriptor}
}

// Pull pulls all images declared in the descriptor.
func (c *Compose) Pull(ctx context.Context) error {
	_, err := c.runner.Run(ctx, "pull", append(c.baseArgs(), "pull")...)
	return err
}

// Up starts the stack detached.
func (c *Compose) Up(ctx context.Context) error {
	_, err := c.runner.Run(ctx, "up", append(c.baseArgs(), "up", "-d", "--remove-orphans")...)
	return err
}

// Down stops and removes the stack. deleteVolumes also removes named
// volumes - data loss, callers must mean it.
func (c *Compose) Down(ctx context.Context, deleteVolumes bool) error {
	args := append(c.baseArgs(), "down")
	if deleteVolumes {
		args = append(args, "--volumes")
	}
	_, err := c.runner.Run(ctx, "down", args...)
	return err
}

// Logs returns service logs bounded by the requested line count.
// An empty service means all services.
func (c *Compose) Logs(ctx context.Context, service string, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	args := append(c.baseArgs(), "logs", "--no-color", "--tail", strconv.Itoa(lines))
	if service != "" {
		args = append(args, service)
	}
	return c.runner.Run(ctx, "logs", args...)
}

// Exec runs a command inside a service container and returns its output.
func (c *Compose) Exec(ctx context.Context, service string, command []string) (string, error) {
	if service == "" || len(command) == 0 {
		return "", fmt.Errorf("exec requires a service and a command")
	}
	args := append(c.baseArgs(), "exec", "-T", service)
	args = append(args, command...)
	return c.runner.Run(ctx, "exec", args...)
}

// ExecRaw runs a raw shell command on the host and returns its output.
func (c *Compose) ExecRaw(ctx context.Context, shellCommand string) (string, error) {
	return c.runner.RunShell(ctx, "exec-raw", shellCommand)
}

// =============================================================================
// Service State Polling
// =============================================================================

// psRow mirrors one line of `compose ps --format json` output.
type psRow struct {
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
}

// ServiceStates returns the current per-service health map. Services
// declared in the descriptor but absent from ps output report stopped.
func (c *Compose) ServiceStates(ctx context.Context, required []string) (map[string]health.ServiceHealth, error) {
	out, err := c.runner.Run(ctx, "ps", append(c.baseArgs(), "ps", "--all", "--format", "json")...)
	if err != nil {
		return nil, err
	}

	rows, err := parsePSOutput(out)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	states := make(map[string]health.ServiceHealth, len(required))
	for _, name := range required {
		states[name] = health.ServiceHealth{
			ServiceName: name,
			Status:      health.ServiceStopped,
			Message:     "no container",
			LastCheck:   now,
		}
	}
	for _, row := range rows {
		if _, ok := states[row.Service]; !ok && len(required) > 0 {
			continue // not one of ours
		}
		states[row.Service] = health.ServiceHealth{
			ServiceName: row.Service,
			Status:      MapServiceState(row.State, row.Health),
			Message:     describeState(row.State, row.Health),
			LastCheck:   now,
		}
	}
	return states, nil
}

// parsePSOutput parses ps output: one JSON object per line on current
// engines, a JSON array on older ones.
func parsePSOutput(out string) ([]psRow, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var rows []psRow
		if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
			return nil, fmt.Errorf("parse ps output: %w", err)
		}
		return rows, nil
	}

	var rows []psRow
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row psRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("parse ps output line: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MapServiceState folds the engine's container state and health-check
// verdict into the closed ServiceState enum.
func MapServiceState(state, healthCheck string) health.ServiceState {
	switch strings.ToLower(state) {
	case "running":
		switch strings.ToLower(healthCheck) {
		case "unhealthy":
			return health.ServiceUnhealthy
		case "starting":
			return health.ServiceStarting
		default:
			// healthy, or no health check configured
			return health.ServiceHealthy
		}
	case "restarting", "created":
		return health.ServiceStarting
	case "paused", "dead", "exited", "removing", "stopped":
		return health.ServiceStopped
	default:
		return health.ServiceUnhealthy
	}
}

func describeState(state, healthCheck string) string {
	if healthCheck != "" {
		return state + " (" + healthCheck + ")"
	}
	return state
}
