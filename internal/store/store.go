package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateID is returned by Insert when a record with the same ID
	// already exists.
	ErrDuplicateID = errors.New("duplicate message id")

	// ErrUnavailable wraps failures of the underlying storage engine.
	ErrUnavailable = errors.New("store unavailable")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("store closed")

	// ErrUnsupportedQuery is returned when a backend cannot serve a filter
	// or sort combination.
	ErrUnsupportedQuery = errors.New("unsupported query")
)

// Unavailable wraps a driver error so callers can match ErrUnavailable
// while keeping the original cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Record is the persisted form of a message.
// Data and Metadata hold canonical JSON, nil when absent.
type Record struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	StreamName     string    `json:"stream_name"`
	Category       string    `json:"category"`
	Position       int64     `json:"position"`
	GlobalPosition int64     `json:"global_position"`
	Time           time.Time `json:"time"`
	Data           []byte    `json:"data,omitempty"`
	Metadata       []byte    `json:"metadata,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Data != nil {
		out.Data = append([]byte(nil), r.Data...)
	}
	if r.Metadata != nil {
		out.Metadata = append([]byte(nil), r.Metadata...)
	}
	return out
}

// Ops is the primitive surface of a backend.
type Ops interface {
	// IncrementCounter atomically increments the counter for key and returns
	// the new value. A missing counter is created with value 1.
	IncrementCounter(ctx context.Context, key string) (int64, error)

	// Counter returns the current value for key, or 0 if it was never created.
	Counter(ctx context.Context, key string) (int64, error)

	// Insert persists a new record. Returns ErrDuplicateID if the ID exists.
	Insert(ctx context.Context, rec Record) error

	// FindOne returns the first record matching f in sort order.
	// The bool is false when nothing matches.
	FindOne(ctx context.Context, f Filter, s Sort) (Record, bool, error)

	// FindMany returns up to limit records matching f in sort order.
	// A limit <= 0 means no limit. Returns an empty slice when nothing matches.
	FindMany(ctx context.Context, f Filter, s Sort, limit int) ([]Record, error)
}

// Backend is a storage engine for the message store.
type Backend interface {
	Ops

	// Update runs fn as one atomic unit. Operations performed through the
	// Ops passed to fn commit together when fn returns nil and are discarded
	// otherwise. Concurrent Updates never interleave.
	Update(ctx context.Context, fn func(Ops) error) error

	// Close releases the backend's resources.
	Close() error
}
