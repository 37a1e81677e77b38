package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/internal/core/health"
)

// =============================================================================
// Argument Construction Tests
// =============================================================================

func TestCompose_BaseArgs(t *testing.T) {
	c := NewCompose(NewRunner(nil, nil, nil), "myapp", "/var/lib/app/deploy.yaml")

	assert.Equal(t,
		[]string{"compose", "-p", "myapp", "-f", "/var/lib/app/deploy.yaml"},
		c.baseArgs())
}

func TestCompose_SetDescriptorRepoints(t *testing.T) {
	c := NewCompose(NewRunner(nil, nil, nil), "old", "/old/deploy.yaml")

	c.SetDescriptor("new", "/new/deploy.yaml")

	assert.Equal(t,
		[]string{"compose", "-p", "new", "-f", "/new/deploy.yaml"},
		c.baseArgs())
}

// =============================================================================
// PS Output Parsing Tests
// =============================================================================

func TestParsePSOutput_LineDelimited(t *testing.T) {
	out := `{"Service":"postgres","State":"running","Health":"healthy"}
{"Service":"server","State":"running","Health":"starting"}
{"Service":"web","State":"exited","Health":""}`

	rows, err := parsePSOutput(out)

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, psRow{Service: "postgres", State: "running", Health: "healthy"}, rows[0])
	assert.Equal(t, psRow{Service: "web", State: "exited"}, rows[2])
}

func TestParsePSOutput_ArrayForm(t *testing.T) {
	out := `[{"Service":"proxy","State":"running","Health":""}]`

	rows, err := parsePSOutput(out)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "proxy", rows[0].Service)
}

func TestParsePSOutput_Empty(t *testing.T) {
	rows, err := parsePSOutput("   \n  ")

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParsePSOutput_Malformed(t *testing.T) {
	_, err := parsePSOutput(`{"Service": not-json}`)

	assert.Error(t, err)
}

// =============================================================================
// State Mapping Tests
// =============================================================================

func TestMapServiceState(t *testing.T) {
	tests := []struct {
		name        string
		state       string
		healthCheck string
		want        health.ServiceState
	}{
		{"running healthy", "running", "healthy", health.ServiceHealthy},
		{"running no healthcheck", "running", "", health.ServiceHealthy},
		{"running unhealthy", "running", "unhealthy", health.ServiceUnhealthy},
		{"running starting", "running", "starting", health.ServiceStarting},
		{"restarting", "restarting", "", health.ServiceStarting},
		{"created", "created", "", health.ServiceStarting},
		{"exited", "exited", "", health.ServiceStopped},
		{"paused", "paused", "", health.ServiceStopped},
		{"dead", "dead", "", health.ServiceStopped},
		{"unknown state", "weird", "", health.ServiceUnhealthy},
		{"case insensitive", "Running", "Healthy", health.ServiceHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapServiceState(tt.state, tt.healthCheck))
		})
	}
}

func TestDescribeState(t *testing.T) {
	assert.Equal(t, "running (healthy)", describeState("running", "healthy"))
	assert.Equal(t, "exited", describeState("exited", ""))
}
