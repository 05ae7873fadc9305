// Package writer appends messages to streams with optional optimistic
// concurrency.
//
// The expected version check, the position allocation and the insert run
// inside a single store.Backend.Update, so concurrent writers to one stream
// cannot both pass the check, and a failed write leaves no gap in the
// counters.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/mestor/internal/message"
	"github.com/roach88/mestor/internal/metrics"
	"github.com/roach88/mestor/internal/position"
	"github.com/roach88/mestor/internal/store"
	"github.com/roach88/mestor/internal/stream"
)

// Writer appends messages to a backend.
type Writer struct {
	backend store.Backend
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = l
	}
}

// WithClock sets the source of message timestamps. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// WithMetrics enables write instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// New creates a Writer over backend.
func New(backend store.Backend, opts ...Option) *Writer {
	w := &Writer{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write appends msg to streamName and returns the persisted message with
// its positions and time filled in.
//
// Errors:
//   - *ValidationError if msg has no ID or no Type, or expected is a
//     negative exact version
//   - *VersionConflictError if expected is exact and the stream's last
//     position differs
//   - store.ErrDuplicateID if a message with the same ID exists
//   - store.ErrUnavailable on storage failure
func (w *Writer) Write(ctx context.Context, streamName string, msg message.Message, expected ExpectedVersion) (message.Message, error) {
	if msg.ID == "" {
		return message.Message{}, &ValidationError{Field: "id"}
	}
	if msg.Type == "" {
		return message.Message{}, &ValidationError{Field: "type"}
	}
	if err := expected.Validate(); err != nil {
		return message.Message{}, err
	}

	start := time.Now()
	category := stream.Category(streamName)

	var persisted message.Message
	err := w.backend.Update(ctx, func(ops store.Ops) error {
		if !expected.IsAny() {
			actual, err := streamVersion(ctx, ops, streamName)
			if err != nil {
				return err
			}
			if actual != expected.Value() {
				return &VersionConflictError{
					StreamName: streamName,
					Expected:   expected.Value(),
					Actual:     actual,
				}
			}
		}

		pos, err := position.New(ops).IncrementAndGetPositions(ctx, streamName)
		if err != nil {
			return err
		}

		out := msg
		out.StreamName = streamName
		out.Position = pos.Position
		out.GlobalPosition = pos.GlobalPosition
		out.Time = w.now().UTC()

		rec, err := message.ToRecord(out)
		if err != nil {
			return err
		}
		if err := ops.Insert(ctx, rec); err != nil {
			return err
		}
		persisted = out
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			w.metrics.ObserveVersionConflict(category)
			w.logger.Debug("write rejected", "stream", streamName, "error", err)
			return message.Message{}, err
		}
		return message.Message{}, fmt.Errorf("write %q: %w", streamName, err)
	}

	w.metrics.ObserveWrite(category, time.Since(start))
	w.logger.Debug("message written",
		"stream", streamName,
		"type", persisted.Type,
		"position", persisted.Position,
		"global_position", persisted.GlobalPosition,
	)
	return persisted, nil
}

// streamVersion returns the position of the last message in streamName, or
// 0 for an empty stream.
func streamVersion(ctx context.Context, ops store.Ops, streamName string) (int64, error) {
	last, ok, err := ops.FindOne(ctx, store.ForStream(streamName), store.Sort{Field: store.FieldGlobalPosition, Descending: true})
	if err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return last.Position, nil
}
