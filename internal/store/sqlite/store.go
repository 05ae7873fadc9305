package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/roach88/mestor/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on messages(category, position)
const currentSchemaVersion = 1

// Store is a SQLite-backed store.Backend.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	closed atomic.Bool
}

var _ store.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for schema and transaction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - IMMEDIATE transactions so Update takes the write lock up front
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
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

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("sqlite store opened", "path", path, "schema_version", currentSchemaVersion)
	return s, nil
}

// dsn appends the driver parameters the store relies on.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

// Close closes the database connection. Later calls return store.ErrClosed
// and a second Close is a no-op.
func (s *Store) Close() error {
	if s.closed.Swap(true) || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// direct returns Ops that run outside a transaction.
func (s *Store) direct() (ops, error) {
	if s.db == nil || s.closed.Load() {
		return ops{}, store.ErrClosed
	}
	return ops{q: s.db}, nil
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Update implements store.Backend. fn runs inside one IMMEDIATE transaction.
func (s *Store) Update(ctx context.Context, fn func(store.Ops) error) error {
	if s.db == nil || s.closed.Load() {
		return store.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(ctx, "update: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(ops{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(ctx, "update: commit", err)
	}
	return nil
}

// IncrementCounter implements store.Ops.
func (s *Store) IncrementCounter(ctx context.Context, key string) (int64, error) {
	o, err := s.direct()
	if err != nil {
		return 0, err
	}
	return o.IncrementCounter(ctx, key)
}

// Counter implements store.Ops.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	o, err := s.direct()
	if err != nil {
		return 0, err
	}
	return o.Counter(ctx, key)
}

// Insert implements store.Ops.
func (s *Store) Insert(ctx context.Context, rec store.Record) error {
	o, err := s.direct()
	if err != nil {
		return err
	}
	return o.Insert(ctx, rec)
}

// FindOne implements store.Ops.
func (s *Store) FindOne(ctx context.Context, f store.Filter, srt store.Sort) (store.Record, bool, error) {
	o, err := s.direct()
	if err != nil {
		return store.Record{}, false, err
	}
	return o.FindOne(ctx, f, srt)
}

// FindMany implements store.Ops.
func (s *Store) FindMany(ctx context.Context, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	o, err := s.direct()
	if err != nil {
		return nil, err
	}
	return o.FindMany(ctx, f, srt, limit)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
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

// migrateToV1 adds the index used by position-ordered category reads.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_category_position
		ON messages(category, position)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
