// Package storage persists users, projects, test cases, attachments and run
// outcomes in SQLite.
package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// Store manages SQLite database operations
type Store struct {
	db         *sql.DB
	observers  []Observer
	observerMu sync.RWMutex
	now        func() time.Time
}

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrStoreClosed indicates the underlying database connection is unavailable.
	ErrStoreClosed = errors.New("storage: closed")
)

// New creates a new store and initializes the database
func New(dbPath string) (*Store, error) {
	filePath, onDisk := sqliteFilePathFromDSN(dbPath)
	if onDisk {
		// Stored definitions carry credentials; keep the file private.
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if err := ensurePrivateSQLiteFile(filePath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil || !strings.EqualFold(strings.TrimSpace(u.Scheme), "file") {
			return "", false
		}
		path := strings.TrimSpace(u.Path)
		if path == "" {
			path = strings.TrimSpace(u.Opaque)
		}
		if path == "" || path == ":memory:" {
			return "", false
		}
		return path, true
	}
	if strings.Contains(dsn, "://") {
		return "", false
	}
	return dsn, true
}

func ensurePrivateSQLiteFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat db path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create db file: %w", err)
	}
	return f.Close()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// AddObserver registers a new observer that will receive storage events.
func (s *Store) AddObserver(observer Observer) {
	s.observerMu.Lock()
	s.observers = append(s.observers, observer)
	s.observerMu.Unlock()
}

// notify fans out events to observers without blocking the writer.
func (s *Store) notify(event Event) {
	s.observerMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.observerMu.RUnlock()

	for _, observer := range observers {
		go observer.HandleStorageEvent(event)
	}
}

func newID() string {
	return ulid.Make().String()
}

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

// migrations is the ordered list of all migrations
var migrations = []Migration{
	{1, "initial_schema", func(db *sql.DB) error { return nil }}, // Base schema from schemaSQL
	{2, "test_runs_case_index", ensureRunsIndex},
	{3, "test_cases_display_id", func(db *sql.DB) error {
		return ensureColumn(db, "test_cases", "display_id", `TEXT NOT NULL DEFAULT ''`)
	}},
}

// runMigrations runs the schema migrations with version tracking
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := m.Apply(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if err := recordMigration(db, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version (0 if no migrations applied)
func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func recordMigration(db *sql.DB, version int, name string) error {
	_, err := db.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		version, name,
	)
	return err
}

// GetSchemaVersion returns the current schema version for external use
func (s *Store) GetSchemaVersion() (int, error) {
	return getSchemaVersion(s.db)
}

// MigrationRecord is one applied row of schema_migrations.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt string
}

// GetMigrationHistory returns the list of applied migrations
func (s *Store) GetMigrationHistory() ([]MigrationRecord, error) {
	rows, err := s.db.Query("SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []MigrationRecord
	for rows.Next() {
		var h MigrationRecord
		if err := rows.Scan(&h.Version, &h.Name, &h.AppliedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func ensureRunsIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_test_runs_case ON test_runs(test_case_id, created_at)`)
	return err
}

func ensureColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return fmt.Errorf("%s pragma: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan %s pragma: %w", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if cols[column] {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// execWithRetry retries transient SQLITE_BUSY/LOCKED failures with exponential backoff.
func (s *Store) execWithRetry(query string, args ...any) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err = s.db.Exec(query, args...)
		if err == nil {
			return nil
		}
		if isBusyError(err) && attempt < maxRetries {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		return err
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
