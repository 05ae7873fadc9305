package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/mestor/internal/store"
)

// dbtx is implemented by both *sql.DB and *sql.Tx so the same operations
// serve direct calls and Update callbacks.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ dbtx = (*sql.DB)(nil)
	_ dbtx = (*sql.Tx)(nil)
)

// ops implements store.Ops over a dbtx.
type ops struct {
	q dbtx
}

// IncrementCounter creates the counter at 1 or adds one, in one statement.
// The upsert is atomic in SQLite, so concurrent callers never share a value.
func (o ops) IncrementCounter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := o.q.QueryRowContext(ctx, `
		INSERT INTO counters (key, value)
		VALUES (?, 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, wrapErr(ctx, "increment counter", err)
	}
	return value, nil
}

// Counter returns the counter's value, 0 if it was never created.
func (o ops) Counter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := o.q.QueryRowContext(ctx, `SELECT value FROM counters WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr(ctx, "read counter", err)
	}
	return value, nil
}

// Insert writes a message record. A second record with the same id fails
// with store.ErrDuplicateID.
func (o ops) Insert(ctx context.Context, rec store.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("insert: empty id")
	}

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO messages
		(id, type, stream_name, category, position, global_position, time, data, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Type,
		rec.StreamName,
		rec.Category,
		rec.Position,
		rec.GlobalPosition,
		rec.Time.UnixNano(),
		nullableText(rec.Data),
		nullableText(rec.Metadata),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("insert %q: %w", rec.ID, store.ErrDuplicateID)
		}
		return wrapErr(ctx, "insert", err)
	}
	return nil
}

func nullableText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// wrapErr reports context errors as-is and everything else as the store
// being unavailable.
func wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return store.Unavailable(op, err)
}
