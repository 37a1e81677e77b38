package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/core/health"
	"github.com/stackpilot/stackpilot/internal/core/lifecycle"
	"github.com/stackpilot/stackpilot/internal/shell/coordinator"
	"github.com/stackpilot/stackpilot/internal/shell/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeLifecycle struct {
	deployErr  error
	stopErr    error
	restartErr error
	updateErr  error
	logsOut    string
	lastOp     string
	partial    config.Partial
}

func (f *fakeLifecycle) Deploy(context.Context) error  { f.lastOp = "deploy"; return f.deployErr }
func (f *fakeLifecycle) Stop(context.Context) error    { f.lastOp = "stop"; return f.stopErr }
func (f *fakeLifecycle) Restart(context.Context) error { f.lastOp = "restart"; return f.restartErr }

func (f *fakeLifecycle) UpdateConfiguration(_ context.Context, partial config.Partial) error {
	f.lastOp = "update"
	f.partial = partial
	return f.updateErr
}

func (f *fakeLifecycle) Logs(_ context.Context, service string, lines int) (string, error) {
	return f.logsOut, nil
}

func (f *fakeLifecycle) Status() coordinator.Status {
	cfg := config.Default()
	cfg.Database.Password = "super-secret"
	return coordinator.Status{
		Lifecycle: lifecycle.Snapshot{State: lifecycle.StateRunningHealthy},
		Services: map[string]health.ServiceHealth{
			"postgres": {ServiceName: "postgres", Status: health.ServiceHealthy},
		},
		Config: cfg,
	}
}

type fakeProbes struct {
	triggered bool
}

func (f *fakeProbes) Status() health.Status {
	return health.Status{Status: health.StatusHealthy, OverallHealth: 100}
}

func (f *fakeProbes) TriggerCheck(context.Context) health.Status {
	f.triggered = true
	return f.Status()
}

type fakeJournal struct {
	entries []store.Entry
	err     error
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]store.Entry, error) {
	return f.entries, f.err
}

func newTestServer(t *testing.T, lc *fakeLifecycle, probes *fakeProbes, journal EventReader) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(lc, probes, journal, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// =============================================================================
// Read Endpoint Tests
// =============================================================================

func TestGetStatus_RedactsPassword(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/status", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := body["config"].(map[string]any)
	db := cfg["database"].(map[string]any)
	assert.Empty(t, db["password"])
}

func TestLifecycleOps_RedactPassword(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	for _, path := range []string{"/api/deploy", "/api/stop", "/api/restart"} {
		resp, body := doJSON(t, http.MethodPost, srv.URL+path, "")

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		cfg := body["config"].(map[string]any)
		db := cfg["database"].(map[string]any)
		assert.Empty(t, db["password"], path)
	}
}

func TestGetHealth(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(100), body["overall_health"])
}

func TestGetLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/lifecycle", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running_healthy", body["state"])
}

func TestGetLogs(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{logsOut: "line one\nline two"}, &fakeProbes{}, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/logs?service=server&lines=50", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "line one\nline two", body["logs"])
}

func TestGetLogs_RejectsBadLines(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/logs?lines=banana", "")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetEvents(t *testing.T) {
	journal := &fakeJournal{entries: []store.Entry{
		{ID: "1", Event: "status-changed", Message: "deployment requested"},
	}}
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, journal)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/events", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.Len(t, events, 1)
}

func TestGetEvents_NoJournal(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/events", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// Lifecycle Endpoint Tests
// =============================================================================

func TestPostDeploy(t *testing.T) {
	lc := &fakeLifecycle{}
	srv := newTestServer(t, lc, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/deploy", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deploy", lc.lastOp)
}

func TestPostDeploy_HealthTimeoutMapsToGatewayTimeout(t *testing.T) {
	lc := &fakeLifecycle{deployErr: coordinator.ErrHealthTimeout}
	srv := newTestServer(t, lc, &fakeProbes{}, nil)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/deploy", "")

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Contains(t, errObj["detail"], "healthy")
}

func TestPostStopAndRestart(t *testing.T) {
	lc := &fakeLifecycle{}
	srv := newTestServer(t, lc, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stop", lc.lastOp)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/restart", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "restart", lc.lastOp)
}

func TestPostHealthRefresh(t *testing.T) {
	probes := &fakeProbes{}
	srv := newTestServer(t, &fakeLifecycle{}, probes, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/health/refresh", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, probes.triggered)
}

func TestPatchConfig(t *testing.T) {
	lc := &fakeLifecycle{}
	srv := newTestServer(t, lc, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/config", `{"project_name":"renamed"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, lc.partial.ProjectName)
	assert.Equal(t, "renamed", *lc.partial.ProjectName)
}

func TestPatchConfig_InvalidBody(t *testing.T) {
	srv := newTestServer(t, &fakeLifecycle{}, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/config", `{not json`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatchConfig_ValidationFailureMapsTo422(t *testing.T) {
	valErr := &config.ValidationError{Field: "project_name", Message: "bad", Err: config.ErrInvalidField}
	lc := &fakeLifecycle{updateErr: errors.Join(errors.New("staged configuration invalid"), valErr)}
	srv := newTestServer(t, lc, &fakeProbes{}, nil)

	resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/config", `{"project_name":"BAD NAME"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
