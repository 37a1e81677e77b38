package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/shell/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMaxRows bounds the journal. Oldest entries are pruned after
// each append so the table never grows past this.
const DefaultMaxRows = 1000

// =============================================================================
// Entry
// =============================================================================

// Entry is one journaled event.
type Entry struct {
	ID        string    `db:"id" json:"id"`
	Event     string    `db:"event" json:"event"`
	Message   string    `db:"message" json:"message,omitempty"`
	Payload   string    `db:"payload" json:"payload,omitempty"` // JSON
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// =============================================================================
// Journal
// =============================================================================

// Journal is the SQLite-backed event sink with size-based eviction.
type Journal struct {
	db      *sqlx.DB
	maxRows int
	logger  *slog.Logger
}

// NewJournal opens (or creates) the journal database and runs
// migrations. maxRows <= 0 selects the default bound.
func NewJournal(dsn string, maxRows int, logger *slog.Logger) (*Journal, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewJournal", "failed to open database", ErrConnectionFailed)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewJournal", "failed to ping database", ErrConnectionFailed)
	}
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewJournal", err.Error(), ErrMigrationFailed)
	}

	return &Journal{db: db, maxRows: maxRows, logger: logger.With("component", "journal")}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append journals one event and prunes past the row bound.
func (j *Journal) Append(ctx context.Context, event, message string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return NewStoreError("Append", "marshal payload", ErrInvalidData)
	}

	entry := Entry{
		ID:        uuid.New().String(),
		Event:     event,
		Message:   message,
		Payload:   string(raw),
		CreatedAt: time.Now().UTC(),
	}
	_, err = j.db.NamedExecContext(ctx, `
		INSERT INTO events (id, event, message, payload, created_at)
		VALUES (:id, :event, :message, :payload, :created_at)`, entry)
	if err != nil {
		return NewStoreError("Append", err.Error(), err)
	}

	return j.prune(ctx)
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > DefaultMaxRows {
		limit = 100
	}
	var entries []Entry
	err := j.db.SelectContext(ctx, &entries, `
		SELECT id, event, message, payload, created_at
		FROM events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, NewStoreError("Recent", err.Error(), err)
	}
	return entries, nil
}

// prune evicts the oldest rows beyond the bound.
func (j *Journal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE rowid NOT IN (
			SELECT rowid FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, j.maxRows)
	if err != nil {
		return NewStoreError("prune", err.Error(), err)
	}
	return nil
}

// AttachBus journals every published event. Append failures are logged,
// never propagated back to publishers.
func (j *Journal) AttachBus(bus *events.Bus) {
	bus.SubscribeAll(func(evt events.Event) {
		message := ""
		if p, ok := evt.Payload.(events.StatusPayload); ok {
			message = p.Message
		}
		if err := j.Append(context.Background(), string(evt.Name), message, evt.Payload); err != nil {
			j.logger.Error("journal append failed", "event", evt.Name, "error", err)
		}
	})
}

// =============================================================================
// Config Persistence
// =============================================================================

// SaveConfig commits the configuration as the single stored row.
func (j *Journal) SaveConfig(ctx context.Context, cfg config.DeploymentConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return NewStoreError("SaveConfig", "marshal config", ErrInvalidData)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO deployment_config (id, payload, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(raw), time.Now().UTC())
	if err != nil {
		return NewStoreError("SaveConfig", err.Error(), err)
	}
	return nil
}

// Save satisfies the coordinator's ConfigStore interface.
func (j *Journal) Save(ctx context.Context, cfg config.DeploymentConfig) error {
	return j.SaveConfig(ctx, cfg)
}

// LoadConfig returns the committed configuration, or ErrNoConfig when
// none has been stored.
func (j *Journal) LoadConfig(ctx context.Context) (config.DeploymentConfig, error) {
	var raw string
	err := j.db.GetContext(ctx, &raw, `SELECT payload FROM deployment_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return config.DeploymentConfig{}, ErrNoConfig
	}
	if err != nil {
		return config.DeploymentConfig{}, NewStoreError("LoadConfig", err.Error(), err)
	}
	var cfg config.DeploymentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return config.DeploymentConfig{}, NewStoreError("LoadConfig", "unmarshal config", ErrInvalidData)
	}
	return cfg, nil
}
