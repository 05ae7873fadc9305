package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/mestor/internal/store"
)

// FindOne returns the first matching record in sort order.
func (o ops) FindOne(ctx context.Context, f store.Filter, srt store.Sort) (store.Record, bool, error) {
	recs, err := o.FindMany(ctx, f, srt, 1)
	if err != nil {
		return store.Record{}, false, err
	}
	if len(recs) == 0 {
		return store.Record{}, false, nil
	}
	return recs[0], true, nil
}

// FindMany returns up to limit matching records in sort order.
// Returns an empty slice (not nil) if nothing matches.
func (o ops) FindMany(ctx context.Context, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	query, params, err := compileSelect(f, srt, limit)
	if err != nil {
		return nil, err
	}

	rows, err := o.q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, wrapErr(ctx, "query messages", err)
	}
	defer rows.Close()

	recs := []store.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr(ctx, "iterate messages", err)
	}

	return recs, nil
}

// scanRecord scans a row produced by selectColumns.
func scanRecord(rows *sql.Rows) (store.Record, error) {
	var rec store.Record
	var nanos int64
	var data, metadata sql.NullString

	if err := rows.Scan(
		&rec.ID, &rec.Type, &rec.StreamName, &rec.Category,
		&rec.Position, &rec.GlobalPosition, &nanos, &data, &metadata,
	); err != nil {
		return store.Record{}, fmt.Errorf("scan message: %w", err)
	}

	rec.Time = time.Unix(0, nanos).UTC()
	if data.Valid {
		rec.Data = []byte(data.String)
	}
	if metadata.Valid {
		rec.Metadata = []byte(metadata.String)
	}
	return rec, nil
}
