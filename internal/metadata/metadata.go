// Package metadata keeps a queryable SQLite snapshot of every series' latest run.
//
// One row per series id is upserted after each run. The database is configured with
// WAL mode, NORMAL synchronous and a busy timeout; the schema is embedded and
// migrated through PRAGMA user_version.
package metadata

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added revision_overwrites column
const currentSchemaVersion = 1

// Record is the latest known state of one series.
type Record struct {
	SeriesID            string
	Provider            string
	ProviderSymbol      string
	Category            string
	FrequencyTarget     string
	Timezone            string
	Units               string
	Transform           string
	Notes               string
	Enabled             bool
	Status              string
	Message             string
	LastRunAt           time.Time
	LastOKAt            *time.Time
	LastObservationDate *time.Time
	StoredPath          string
	NewPoints           int
	RevisionOverwrites  int
}

// DB wraps the metadata database.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at path, applying pragmas and migrations.
// Safe to call repeatedly on the same file.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("metadata: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Upsert inserts or replaces the record for r.SeriesID.
func (d *DB) Upsert(ctx context.Context, r Record) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO series_metadata (
			series_id, provider, provider_symbol, category, frequency_target,
			timezone, units, transform, notes, enabled, status, message,
			last_run_at, last_ok_at, last_observation_date, stored_path,
			new_points, revision_overwrites
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id) DO UPDATE SET
			provider = excluded.provider,
			provider_symbol = excluded.provider_symbol,
			category = excluded.category,
			frequency_target = excluded.frequency_target,
			timezone = excluded.timezone,
			units = excluded.units,
			transform = excluded.transform,
			notes = excluded.notes,
			enabled = excluded.enabled,
			status = excluded.status,
			message = excluded.message,
			last_run_at = excluded.last_run_at,
			last_ok_at = COALESCE(excluded.last_ok_at, series_metadata.last_ok_at),
			last_observation_date = COALESCE(excluded.last_observation_date, series_metadata.last_observation_date),
			stored_path = excluded.stored_path,
			new_points = excluded.new_points,
			revision_overwrites = excluded.revision_overwrites
	`,
		r.SeriesID, r.Provider, r.ProviderSymbol, r.Category, r.FrequencyTarget,
		r.Timezone, r.Units, r.Transform, r.Notes, boolToInt(r.Enabled), r.Status, r.Message,
		r.LastRunAt.UTC().Format(time.RFC3339Nano),
		formatTime(r.LastOKAt, time.RFC3339Nano),
		formatTime(r.LastObservationDate, time.DateOnly),
		nullString(r.StoredPath),
		r.NewPoints, r.RevisionOverwrites,
	)
	if err != nil {
		return fmt.Errorf("upsert series metadata %s: %w", r.SeriesID, err)
	}
	return nil
}

// Get returns the record for id, or ok=false when none exists.
func (d *DB) Get(ctx context.Context, id string) (Record, bool, error) {
	rows, err := d.db.QueryContext(ctx, selectColumns+` WHERE series_id = ?`, id)
	if err != nil {
		return Record{}, false, fmt.Errorf("get series metadata %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Record{}, false, rows.Err()
	}
	r, err := scanRecord(rows)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// List returns all records ordered by series id.
func (d *DB) List(ctx context.Context) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, selectColumns+` ORDER BY series_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list series metadata: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT series_id, provider, provider_symbol, category, frequency_target,
		timezone, units, transform, notes, enabled, status, message,
		last_run_at, last_ok_at, last_observation_date, stored_path,
		new_points, revision_overwrites
	FROM series_metadata`

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                          Record
		enabled                    int
		lastRunAt                  string
		lastOK, lastObs, storedPth sql.NullString
	)
	err := rows.Scan(
		&r.SeriesID, &r.Provider, &r.ProviderSymbol, &r.Category, &r.FrequencyTarget,
		&r.Timezone, &r.Units, &r.Transform, &r.Notes, &enabled, &r.Status, &r.Message,
		&lastRunAt, &lastOK, &lastObs, &storedPth,
		&r.NewPoints, &r.RevisionOverwrites,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan series metadata: %w", err)
	}

	r.Enabled = enabled != 0
	r.StoredPath = storedPth.String
	if r.LastRunAt, err = time.Parse(time.RFC3339Nano, lastRunAt); err != nil {
		return Record{}, fmt.Errorf("parse last_run_at for %s: %w", r.SeriesID, err)
	}
	if r.LastOKAt, err = parseTime(lastOK, time.RFC3339Nano); err != nil {
		return Record{}, fmt.Errorf("parse last_ok_at for %s: %w", r.SeriesID, err)
	}
	if r.LastObservationDate, err = parseTime(lastObs, time.DateOnly); err != nil {
		return Record{}, fmt.Errorf("parse last_observation_date for %s: %w", r.SeriesID, err)
	}
	return r, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the revision_overwrites counter.
func migrateToV1(db *sql.DB) error {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('series_metadata') WHERE name = 'revision_overwrites'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE series_metadata ADD COLUMN revision_overwrites INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t *time.Time, layout string) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(layout)
}

func parseTime(s sql.NullString, layout string) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(layout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
