package pebblestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/mestor/internal/store"
)

// FsyncMode defines durability behavior for committed updates.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeInterval syncs on every commit but lets Pebble coalesce syncs
	// that land within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves WAL syncing to Pebble. A crash can lose
	// acknowledged writes.
	FsyncModeNever
)

// ParseFsyncMode maps "always", "interval" and "never" to a mode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "interval":
		return FsyncModeInterval, nil
	case "always":
		return FsyncModeAlways, nil
	case "never":
		return FsyncModeNever, nil
	}
	return FsyncModeUnspecified, errors.New("pebble: unknown fsync mode " + s)
}

// Options configures the Pebble store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Logger receives open/close diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a Pebble-backed store.Backend.
//
// Updates hold mu exclusively and stage their work in an indexed batch, so
// a callback sees its own writes and nothing else commits underneath it.
// Plain reads share mu and go straight to the database.
type Store struct {
	mu        sync.RWMutex
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    *slog.Logger
	closed    bool
}

var _ store.Backend = (*Store)(nil)

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	writeOpts := pebble.Sync
	switch opts.Fsync {
	case FsyncModeAlways:
		// WALMinSyncInterval left at default (0).
	case FsyncModeNever:
		writeOpts = pebble.NoSync
	default:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, store.Unavailable("pebble open", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("pebble store opened", "dir", opts.DataDir, "fsync", opts.Fsync)

	return &Store{db: db, writeOpts: writeOpts, logger: logger}, nil
}

// Close closes the Pebble database. Later calls return store.ErrClosed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return store.Unavailable("pebble close", err)
	}
	return nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, fn func(store.Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()

	if err := fn(ops{r: b, w: b}); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return store.Unavailable("pebble commit", err)
	}
	return nil
}

// IncrementCounter implements store.Ops.
func (s *Store) IncrementCounter(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.Update(ctx, func(o store.Ops) error {
		var err error
		v, err = o.IncrementCounter(ctx, key)
		return err
	})
	return v, err
}

// Insert implements store.Ops.
func (s *Store) Insert(ctx context.Context, rec store.Record) error {
	return s.Update(ctx, func(o store.Ops) error {
		return o.Insert(ctx, rec)
	})
}

// Counter implements store.Ops.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.view(func(o ops) error {
		var err error
		v, err = o.Counter(ctx, key)
		return err
	})
	return v, err
}

// FindOne implements store.Ops.
func (s *Store) FindOne(ctx context.Context, f store.Filter, srt store.Sort) (store.Record, bool, error) {
	var (
		rec   store.Record
		found bool
	)
	err := s.view(func(o ops) error {
		var err error
		rec, found, err = o.FindOne(ctx, f, srt)
		return err
	})
	return rec, found, err
}

// FindMany implements store.Ops.
func (s *Store) FindMany(ctx context.Context, f store.Filter, srt store.Sort, limit int) ([]store.Record, error) {
	var recs []store.Record
	err := s.view(func(o ops) error {
		var err error
		recs, err = o.FindMany(ctx, f, srt, limit)
		return err
	})
	return recs, err
}

func (s *Store) view(fn func(ops) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return fn(ops{r: s.db})
}
