// Package subscription implements checkpointed polling consumers.
//
// A Subscription reads its stream in batches, dispatches each message to a
// handler strictly in global position order, and periodically records its
// progress as a ReadPosition message on its own checkpoint stream. Delivery
// is at-least-once: after a crash up to PositionUpdateInterval-1 handled
// messages are delivered again.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/mestor/internal/message"
	"github.com/roach88/mestor/internal/metrics"
	"github.com/roach88/mestor/internal/writer"
)

const (
	// CheckpointStreamPrefix prefixes the subscriber id to name its
	// checkpoint stream.
	CheckpointStreamPrefix = "subscriberPosition-"

	// CheckpointType is the type of checkpoint messages.
	CheckpointType = "ReadPosition"

	// checkpointField holds the global position in checkpoint data.
	checkpointField = "position"
)

// ErrAlreadyRunning is returned by Start on a subscription that is polling.
var ErrAlreadyRunning = errors.New("subscription already running")

// CheckpointStream returns the checkpoint stream for subscriberID.
func CheckpointStream(subscriberID string) string {
	return CheckpointStreamPrefix + subscriberID
}

// Handler processes one message. A returned error stops the subscription.
type Handler func(ctx context.Context, msg message.Message) error

// Handlers routes messages by type. Any, when set, receives messages with
// no type-specific handler; otherwise they are skipped.
type Handlers struct {
	ByType map[string]Handler
	Any    Handler
}

func (h Handlers) lookup(typ string) Handler {
	if fn, ok := h.ByType[typ]; ok {
		return fn
	}
	return h.Any
}

// MessageReader is the read side a subscription consumes.
type MessageReader interface {
	Read(ctx context.Context, streamName string, fromGlobalPosition int64, maxMessages int) ([]message.Message, error)
	ReadLastMessage(ctx context.Context, streamName string) (message.Message, bool, error)
}

// MessageWriter is the write side used for checkpoints.
type MessageWriter interface {
	Write(ctx context.Context, streamName string, msg message.Message, expected writer.ExpectedVersion) (message.Message, error)
}

// State is a subscription's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StatePolling
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Subscription is a polling consumer of one stream.
type Subscription struct {
	cfg      Config
	handlers Handlers
	reader   MessageReader
	writer   MessageWriter
	ids      message.IDGenerator
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state State
	stop  chan struct{}
	// stopRequested records a Stop that arrived while not polling. The
	// next Start consumes it and returns at once.
	stopRequested bool

	// current is written only by the polling goroutine.
	current atomic.Int64
	pending int
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscription) {
		s.logger = l
	}
}

// WithMetrics enables subscription instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Subscription) {
		s.metrics = m
	}
}

// WithIDGenerator sets the id source for checkpoint messages. Defaults to
// message.UUIDv7Generator.
func WithIDGenerator(g message.IDGenerator) Option {
	return func(s *Subscription) {
		s.ids = g
	}
}

// New creates a stopped subscription. Zero tuning fields in cfg take their
// defaults.
func New(r MessageReader, w MessageWriter, cfg Config, handlers Handlers, opts ...Option) (*Subscription, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r == nil || w == nil {
		return nil, errors.New("subscription needs a reader and a writer")
	}

	s := &Subscription{
		cfg:      cfg,
		handlers: handlers,
		reader:   r,
		writer:   w,
		ids:      message.UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("subscriber", cfg.SubscriberID, "stream", cfg.StreamName)
	return s, nil
}

// Config returns the effective configuration.
func (s *Subscription) Config() Config {
	return s.cfg
}

// State reports whether the subscription is polling.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the global position of the last handled message.
func (s *Subscription) Position() int64 {
	return s.current.Load()
}

// Start resumes from the latest checkpoint and polls until Stop is called,
// ctx is done, or a read, handler or checkpoint write fails. It blocks for
// the life of the subscription and returns nil on Stop or cancellation.
//
// Starting a polling subscription returns ErrAlreadyRunning. A stopped
// subscription may be started again and resumes from its checkpoint.
func (s *Subscription) Start(ctx context.Context) error {
	stop, err := s.begin()
	if err != nil {
		return err
	}
	defer s.end()

	from, err := s.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	s.current.Store(from)
	s.pending = 0
	s.logger.Info("subscription started", "from_global_position", from)

	err = s.poll(ctx, stop)
	if !errors.Is(err, errCheckpoint) {
		s.flush(ctx)
	}
	if err != nil {
		s.logger.Error("subscription stopped", "error", err, "global_position", s.current.Load())
		return err
	}
	s.logger.Info("subscription stopped", "global_position", s.current.Load())
	return nil
}

// Stop asks the polling loop to exit. It takes effect between ticks and
// never interrupts a handler. A Stop that arrives before Start is polling
// is kept, so the next Start returns nil without handling anything.
func (s *Subscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePolling {
		s.stopRequested = true
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *Subscription) begin() (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePolling {
		return nil, ErrAlreadyRunning
	}
	s.state = StatePolling
	s.stop = make(chan struct{})
	if s.stopRequested {
		s.stopRequested = false
		close(s.stop)
	}
	s.metrics.SetPolling(s.cfg.SubscriberID, true)
	return s.stop, nil
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	s.metrics.SetPolling(s.cfg.SubscriberID, false)
}

var errCheckpoint = errors.New("checkpoint write failed")

func (s *Subscription) poll(ctx context.Context, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.tick(ctx)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, errHandler) {
				return nil
			}
			return err
		}
		if n > 0 {
			continue
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-stop:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

var errHandler = errors.New("handler failed")

// tick reads one batch and handles it in order. It returns how many
// messages were read.
func (s *Subscription) tick(ctx context.Context) (int, error) {
	msgs, err := s.reader.Read(ctx, s.cfg.StreamName, s.current.Load()+1, s.cfg.MaxMessagesPerTick)
	if err != nil {
		return 0, fmt.Errorf("subscription %q: %w", s.cfg.SubscriberID, err)
	}

	for _, msg := range msgs {
		if h := s.handlers.lookup(msg.Type); h != nil {
			if err := h(ctx, msg); err != nil {
				s.metrics.ObserveHandled(s.cfg.SubscriberID, false)
				return 0, fmt.Errorf("subscription %q: %w: %s at global position %d: %w",
					s.cfg.SubscriberID, errHandler, msg.Type, msg.GlobalPosition, err)
			}
			s.metrics.ObserveHandled(s.cfg.SubscriberID, true)
		}

		s.current.Store(msg.GlobalPosition)
		s.pending++
		if s.pending >= s.cfg.PositionUpdateInterval {
			if err := s.checkpoint(ctx); err != nil {
				return 0, err
			}
		}
	}
	return len(msgs), nil
}

// checkpoint persists the current position and resets the pending count.
func (s *Subscription) checkpoint(ctx context.Context) error {
	pos := s.current.Load()
	msg := message.Message{
		ID:   s.ids.Generate(),
		Type: CheckpointType,
		Data: message.Payload{checkpointField: pos},
	}
	if _, err := s.writer.Write(ctx, CheckpointStream(s.cfg.SubscriberID), msg, writer.AnyVersion()); err != nil {
		return fmt.Errorf("subscription %q: %w at global position %d: %w", s.cfg.SubscriberID, errCheckpoint, pos, err)
	}
	s.pending = 0
	s.metrics.ObserveCheckpoint(s.cfg.SubscriberID)
	s.logger.Debug("checkpoint written", "global_position", pos)
	return nil
}

// flush writes a checkpoint for handled messages not yet recorded. It runs
// on the way out, so it ignores cancellation of ctx and only logs failure.
func (s *Subscription) flush(ctx context.Context) {
	if s.pending == 0 {
		return
	}
	if err := s.checkpoint(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("final checkpoint failed", "error", err)
	}
}

// loadCheckpoint returns the position in the latest checkpoint, 0 if the
// subscriber has none.
func (s *Subscription) loadCheckpoint(ctx context.Context) (int64, error) {
	stream := CheckpointStream(s.cfg.SubscriberID)
	msg, ok, err := s.reader.ReadLastMessage(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("subscription %q: read checkpoint: %w", s.cfg.SubscriberID, err)
	}
	if !ok {
		return 0, nil
	}
	pos, ok := msg.Data.Int64(checkpointField)
	if !ok {
		return 0, fmt.Errorf("subscription %q: checkpoint %s has no %s", s.cfg.SubscriberID, msg.ID, checkpointField)
	}
	return pos, nil
}
