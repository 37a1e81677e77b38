package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/shell/events"
)

func newTestJournal(t *testing.T, maxRows int) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"), maxRows, nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndRecent(t *testing.T) {
	j := newTestJournal(t, 0)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, "status-changed", "deployment requested", map[string]string{"state": "starting"}))
	require.NoError(t, j.Append(ctx, "status-changed", "services started", nil))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "services started", entries[0].Message, "newest first")
	assert.Equal(t, "deployment requested", entries[1].Message)
	assert.NotEmpty(t, entries[0].ID)
	assert.Contains(t, entries[1].Payload, "starting")
}

func TestJournal_PrunesToBound(t *testing.T) {
	j := newTestJournal(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, j.Append(ctx, "output", fmt.Sprintf("line %d", i), nil))
	}

	entries, err := j.Recent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5, "journal must not grow past the bound")
	assert.Equal(t, "line 11", entries[0].Message)
	assert.Equal(t, "line 7", entries[4].Message)
}

func TestJournal_RecentLimitDefaults(t *testing.T) {
	j := newTestJournal(t, 0)

	entries, err := j.Recent(context.Background(), -1)

	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_AttachBusJournalsPublishedEvents(t *testing.T) {
	j := newTestJournal(t, 0)
	bus := events.NewBus(nil)
	j.AttachBus(bus)

	bus.Publish(events.StatusChanged, events.StatusPayload{Message: "stop requested"})

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status-changed", entries[0].Event)
	assert.Equal(t, "stop requested", entries[0].Message)
}

func TestJournal_ConfigRoundTrip(t *testing.T) {
	j := newTestJournal(t, 0)
	ctx := context.Background()

	_, err := j.LoadConfig(ctx)
	assert.ErrorIs(t, err, ErrNoConfig)

	cfg := config.Default()
	cfg.Database.Password = "secret"
	cfg.ProjectName = "roundtrip"
	require.NoError(t, j.SaveConfig(ctx, cfg))

	loaded, err := j.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	// Second save overwrites the single row.
	cfg.ProjectName = "again"
	require.NoError(t, j.SaveConfig(ctx, cfg))
	loaded, err = j.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "again", loaded.ProjectName)
}
