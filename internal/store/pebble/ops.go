package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/mestor/internal/store"
)

// reader is satisfied by *pebble.DB and by an indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// ops implements store.Ops. w is nil outside Update.
type ops struct {
	r reader
	w *pebble.Batch
}

var errReadOnly = errors.New("pebble: write outside update")

func (o ops) get(key []byte) ([]byte, bool, error) {
	val, closer, err := o.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("pebble get", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// Counter returns the counter's value, 0 if it was never created.
func (o ops) Counter(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	val, ok, err := o.get(counterKey(key))
	if err != nil || !ok {
		return 0, err
	}
	v, err := decodeInt(val)
	if err != nil {
		return 0, fmt.Errorf("counter %q: %w", key, err)
	}
	return v, nil
}

// IncrementCounter reads and rewrites the counter inside the batch. The
// store mutex makes the pair atomic.
func (o ops) IncrementCounter(ctx context.Context, key string) (int64, error) {
	if o.w == nil {
		return 0, errReadOnly
	}
	cur, err := o.Counter(ctx, key)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	if err := o.w.Set(counterKey(key), encodeInt(next), nil); err != nil {
		return 0, store.Unavailable("pebble set counter", err)
	}
	return next, nil
}

// Insert stages the record and its index entries.
func (o ops) Insert(ctx context.Context, rec store.Record) error {
	if o.w == nil {
		return errReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("insert: empty id")
	}

	if _, exists, err := o.get(idKey(rec.ID)); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("insert %q: %w", rec.ID, store.ErrDuplicateID)
	}

	mkey := messageKey(rec.GlobalPosition)
	if _, exists, err := o.get(mkey); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("insert %q: global position %d already stored", rec.ID, rec.GlobalPosition)
	}

	rec.Time = rec.Time.UTC()
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("insert %q: encode: %w", rec.ID, err)
	}

	writes := []struct{ k, v []byte }{
		{mkey, val},
		{idKey(rec.ID), encodeInt(rec.GlobalPosition)},
		{indexKey(prefixCategory, rec.Category, rec.GlobalPosition), nil},
		{indexKey(prefixStream, rec.StreamName, rec.GlobalPosition), nil},
	}
	for _, kv := range writes {
		if err := o.w.Set(kv.k, kv.v, nil); err != nil {
			return store.Unavailable("pebble set", err)
		}
	}
	return nil
}

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

// FindMany scans the narrowest key range for the filter in global position
// order and applies the full filter to every candidate.
func (o ops) FindMany(ctx context.Context, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := plan(f, srt)
	if err != nil {
		return nil, err
	}

	iter, err := o.r.NewIter(&pebble.IterOptions{LowerBound: p.lower, UpperBound: p.upper})
	if err != nil {
		return nil, store.Unavailable("pebble iter", err)
	}
	defer iter.Close()

	step, valid := iter.Next, iter.First()
	if srt.Descending {
		step, valid = iter.Prev, iter.Last()
	}

	recs := []store.Record{}
	for ; valid; valid = step() {
		rec, err := o.decode(iter, p.indexed)
		if err != nil {
			return nil, err
		}
		if !f.Matches(rec) {
			continue
		}
		recs = append(recs, rec)
		if limit > 0 && len(recs) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, store.Unavailable("pebble iterate", err)
	}
	return recs, nil
}

func (o ops) decode(iter *pebble.Iterator, indexed bool) (store.Record, error) {
	val := iter.Value()
	if indexed {
		gp, err := gpFromKey(iter.Key())
		if err != nil {
			return store.Record{}, err
		}
		v, ok, err := o.get(messageKey(gp))
		if err != nil {
			return store.Record{}, err
		}
		if !ok {
			return store.Record{}, fmt.Errorf("index entry for missing message at global position %d", gp)
		}
		val = v
	}

	var rec store.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return store.Record{}, fmt.Errorf("decode message: %w", err)
	}
	return rec, nil
}

// scan is the key range a query iterates.
type scan struct {
	lower, upper []byte
	indexed      bool
}

// plan picks the stream index, then the category index, then the full log.
// Keys are global-position ordered, so a position sort is only honoured when
// the scan stays inside one category, where the two orders agree.
func plan(f store.Filter, srt store.Sort) (scan, error) {
	if err := f.Validate(); err != nil {
		return scan{}, err
	}
	if err := srt.Validate(); err != nil {
		return scan{}, err
	}

	var prefix []byte
	indexed := true
	if name, ok := f.Equal(store.FieldStreamName); ok {
		prefix = indexPrefix(prefixStream, name)
	} else if name, ok := f.Equal(store.FieldCategory); ok {
		prefix = indexPrefix(prefixCategory, name)
	} else {
		if srt.Field == store.FieldPosition {
			return scan{}, fmt.Errorf("%w: position sort needs a category or stream filter", store.ErrUnsupportedQuery)
		}
		prefix = append([]byte(nil), prefixMessage...)
		indexed = false
	}

	lower := prefix
	if from := minGlobalPosition(f); from > 0 {
		lower = appendGP(append([]byte(nil), prefix...), from)
	}
	return scan{lower: lower, upper: prefixEnd(prefix), indexed: indexed}, nil
}

func minGlobalPosition(f store.Filter) int64 {
	var from int64
	for _, p := range f {
		if al, ok := p.(store.AtLeast); ok && al.Field == store.FieldGlobalPosition && al.Value > from {
			from = al.Value
		}
	}
	return from
}
