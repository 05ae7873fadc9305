// Package memory provides an in-process Backend for tests and demos.
//
// Records are kept as deep copies so callers can never mutate persisted
// state. A single mutex serializes every operation; Update holds it for the
// whole callback, which makes Update trivially atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/mestor/internal/store"
)

// Store is an in-memory store.Backend.
type Store struct {
	mu       sync.Mutex
	closed   bool
	records  []store.Record
	ids      map[string]struct{}
	counters map[string]int64
}

var _ store.Backend = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		ids:      make(map[string]struct{}),
		counters: make(map[string]int64),
	}
}

// Close marks the store closed. Further operations return store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// IncrementCounter implements store.Ops.
func (s *Store) IncrementCounter(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.Update(ctx, func(ops store.Ops) error {
		var err error
		v, err = ops.IncrementCounter(ctx, key)
		return err
	})
	return v, err
}

// Counter implements store.Ops.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.counters[key], nil
}

// Insert implements store.Ops.
func (s *Store) Insert(ctx context.Context, rec store.Record) error {
	return s.Update(ctx, func(ops store.Ops) error {
		return ops.Insert(ctx, rec)
	})
}

// FindOne implements store.Ops.
func (s *Store) FindOne(ctx context.Context, f store.Filter, srt store.Sort) (store.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return store.Record{}, false, err
	}
	recs, err := query(s.records, nil, f, srt, 1)
	if err != nil || len(recs) == 0 {
		return store.Record{}, false, err
	}
	return recs[0], true, nil
}

// FindMany implements store.Ops.
func (s *Store) FindMany(ctx context.Context, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return query(s.records, nil, f, srt, limit)
}

// Update implements store.Backend. fn must only use the Ops it is given;
// calling methods on s from inside fn deadlocks.
func (s *Store) Update(ctx context.Context, fn func(store.Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	tx := &txOps{s: s, counters: make(map[string]int64), ids: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit
	for k, v := range tx.counters {
		s.counters[k] = v
	}
	for _, rec := range tx.records {
		s.records = append(s.records, rec)
		s.ids[rec.ID] = struct{}{}
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return store.ErrClosed
	}
	return ctx.Err()
}

// txOps stages writes until Update commits them. The parent mutex is held
// for its whole lifetime.
type txOps struct {
	s        *Store
	counters map[string]int64
	records  []store.Record
	ids      map[string]struct{}
}

func (t *txOps) IncrementCounter(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, ok := t.counters[key]
	if !ok {
		v = t.s.counters[key]
	}
	v++
	t.counters[key] = v
	return v, nil
}

func (t *txOps) Counter(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if v, ok := t.counters[key]; ok {
		return v, nil
	}
	return t.s.counters[key], nil
}

func (t *txOps) Insert(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("insert: empty id")
	}
	if _, ok := t.s.ids[rec.ID]; ok {
		return fmt.Errorf("insert %q: %w", rec.ID, store.ErrDuplicateID)
	}
	if _, ok := t.ids[rec.ID]; ok {
		return fmt.Errorf("insert %q: %w", rec.ID, store.ErrDuplicateID)
	}
	t.records = append(t.records, rec.Clone())
	t.ids[rec.ID] = struct{}{}
	return nil
}

func (t *txOps) FindOne(ctx context.Context, f store.Filter, srt store.Sort) (store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, false, err
	}
	recs, err := query(t.s.records, t.records, f, srt, 1)
	if err != nil || len(recs) == 0 {
		return store.Record{}, false, err
	}
	return recs[0], true, nil
}

func (t *txOps) FindMany(ctx context.Context, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return query(t.s.records, t.records, f, srt, limit)
}

// query filters base and pending records, sorts and limits the result.
// Returned records are copies.
func query(base, pending []store.Record, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := srt.Validate(); err != nil {
		return nil, err
	}

	matched := []store.Record{}
	for _, set := range [][]store.Record{base, pending} {
		for _, rec := range set {
			if f.Matches(rec) {
				matched = append(matched, rec)
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool { return srt.Less(matched[i], matched[j]) })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	for i := range matched {
		matched[i] = matched[i].Clone()
	}
	return matched, nil
}
