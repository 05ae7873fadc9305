// Package reader queries streams and folds them into entity state.
//
// Reads never fail for streams that were never written: they return an
// empty slice, or false for ReadLastMessage.
package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/mestor/internal/message"
	"github.com/roach88/mestor/internal/metrics"
	"github.com/roach88/mestor/internal/position"
	"github.com/roach88/mestor/internal/store"
	"github.com/roach88/mestor/internal/stream"
)

// DefaultMaxMessages bounds a Read when the caller passes no limit.
const DefaultMaxMessages = 1000

// Reader reads messages from a backend.
type Reader struct {
	ops     store.Ops
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = l
	}
}

// WithMetrics enables read instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reader) {
		r.metrics = m
	}
}

// New creates a Reader over ops.
func New(ops store.Ops, opts ...Option) *Reader {
	r := &Reader{
		ops:    ops,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns up to maxMessages messages of streamName with a global
// position of at least fromGlobalPosition, in ascending global position.
// A maxMessages <= 0 reads DefaultMaxMessages.
func (r *Reader) Read(ctx context.Context, streamName string, fromGlobalPosition int64, maxMessages int) ([]message.Message, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	f := store.ForStream(streamName)
	if fromGlobalPosition > 0 {
		f = append(f, store.AtLeast{Field: store.FieldGlobalPosition, Value: fromGlobalPosition})
	}

	recs, err := r.ops.FindMany(ctx, f, store.Sort{Field: store.FieldGlobalPosition}, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", streamName, err)
	}
	msgs, err := message.FromRecords(recs)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", streamName, err)
	}

	r.metrics.ObserveRead(stream.Category(streamName), len(msgs))
	r.logger.Debug("stream read",
		"stream", streamName,
		"from", fromGlobalPosition,
		"count", len(msgs),
	)
	return msgs, nil
}

// ReadLastMessage returns the most recent message of streamName. The bool
// is false when the stream is empty.
func (r *Reader) ReadLastMessage(ctx context.Context, streamName string) (message.Message, bool, error) {
	rec, ok, err := r.ops.FindOne(ctx, store.ForStream(streamName), store.Sort{Field: store.FieldGlobalPosition, Descending: true})
	if err != nil {
		return message.Message{}, false, fmt.Errorf("read last %q: %w", streamName, err)
	}
	if !ok {
		return message.Message{}, false, nil
	}
	msg, err := message.FromRecord(rec)
	if err != nil {
		return message.Message{}, false, fmt.Errorf("read last %q: %w", streamName, err)
	}
	return msg, true, nil
}

// CurrentPosition returns the category position counter for streamName,
// 0 if the category was never written.
func (r *Reader) CurrentPosition(ctx context.Context, streamName string) (int64, error) {
	return position.New(r.ops).CurrentPosition(ctx, streamName)
}

// ReadAll returns every message of streamName, paging through it in
// DefaultMaxMessages batches.
func (r *Reader) ReadAll(ctx context.Context, streamName string) ([]message.Message, error) {
	all := []message.Message{}
	var from int64
	for {
		batch, err := r.Read(ctx, streamName, from, DefaultMaxMessages)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < DefaultMaxMessages {
			return all, nil
		}
		from = batch[len(batch)-1].GlobalPosition + 1
	}
}
