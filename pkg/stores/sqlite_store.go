package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", s.cfg.Path)
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateHost inserts a host. The IP address must be unique.
func (s *SQLiteStore) CreateHost(ctx context.Context, host *Host) error {
	query := `
		INSERT INTO hosts (id, name, username, ip, os, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		host.ID,
		host.Name,
		host.Username,
		host.IP,
		host.OS,
		host.Active,
		host.CreatedAt.UTC(),
		host.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("host with ip %s: %w", host.IP, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create host: %w", err)
	}

	return nil
}

// GetHost retrieves a host by ID
func (s *SQLiteStore) GetHost(ctx context.Context, id string) (*Host, error) {
	query := `
		SELECT id, name, username, ip, os, active, created_at, updated_at
		FROM hosts
		WHERE id = ?
	`

	host, err := scanHost(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	return host, nil
}

// ListHosts returns all hosts ordered by creation time.
func (s *SQLiteStore) ListHosts(ctx context.Context) ([]*Host, error) {
	query := `
		SELECT id, name, username, ip, os, active, created_at, updated_at
		FROM hosts
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	hosts := []*Host{}
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}

	return hosts, nil
}

// UpdateHost writes the mutable host fields.
func (s *SQLiteStore) UpdateHost(ctx context.Context, host *Host) error {
	query := `
		UPDATE hosts
		SET name = ?, username = ?, os = ?, active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		host.Name,
		host.Username,
		host.OS,
		host.Active,
		host.UpdatedAt.UTC(),
		host.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update host: %w", err)
	}

	return expectRow(result, "host", host.ID)
}

// DeleteHost deletes a host
func (s *SQLiteStore) DeleteHost(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM hosts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}

	return expectRow(result, "host", id)
}

// CreateScript inserts a catalog entry.
func (s *SQLiteStore) CreateScript(ctx context.Context, script *Script) error {
	query := `
		INSERT INTO scripts (id, name, description, filename, path, type, tasks, sections, created_at, last_run_at, last_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	sections := script.Sections
	if sections == "" {
		sections = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		script.ID,
		script.Name,
		script.Description,
		script.Filename,
		script.Path,
		script.Type,
		script.Tasks,
		sections,
		script.CreatedAt.UTC(),
		utcPtr(script.LastRunAt),
		script.LastStatus,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("script %s: %w", script.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create script: %w", err)
	}

	return nil
}

// GetScript retrieves a script by ID
func (s *SQLiteStore) GetScript(ctx context.Context, id string) (*Script, error) {
	query := `
		SELECT id, name, description, filename, path, type, tasks, sections, created_at, last_run_at, last_status
		FROM scripts
		WHERE id = ?
	`

	script, err := scanScript(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get script: %w", err)
	}

	return script, nil
}

// ListScripts returns all scripts, newest first.
func (s *SQLiteStore) ListScripts(ctx context.Context) ([]*Script, error) {
	query := `
		SELECT id, name, description, filename, path, type, tasks, sections, created_at, last_run_at, last_status
		FROM scripts
		ORDER BY created_at DESC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	scripts := []*Script{}
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		scripts = append(scripts, script)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scripts: %w", err)
	}

	return scripts, nil
}

// UpdateScriptRun records the outcome of the latest execution of a script.
func (s *SQLiteStore) UpdateScriptRun(ctx context.Context, id, status string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE scripts SET last_run_at = ?, last_status = ? WHERE id = ?",
		at.UTC(), status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update script run: %w", err)
	}

	return expectRow(result, "script", id)
}

// DeleteScript deletes a catalog entry. The file on disk is left alone.
func (s *SQLiteStore) DeleteScript(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete script: %w", err)
	}

	return expectRow(result, "script", id)
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, with an optional
// action filter.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// PruneAuditEntries deletes entries older than before and returns how many
// were removed.
func (s *SQLiteStore) PruneAuditEntries(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}

	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*Host, error) {
	host := &Host{}
	err := row.Scan(
		&host.ID,
		&host.Name,
		&host.Username,
		&host.IP,
		&host.OS,
		&host.Active,
		&host.CreatedAt,
		&host.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return host, nil
}

func scanScript(row rowScanner) (*Script, error) {
	script := &Script{}
	err := row.Scan(
		&script.ID,
		&script.Name,
		&script.Description,
		&script.Filename,
		&script.Path,
		&script.Type,
		&script.Tasks,
		&script.Sections,
		&script.CreatedAt,
		&script.LastRunAt,
		&script.LastStatus,
	)
	if err != nil {
		return nil, err
	}
	return script, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
