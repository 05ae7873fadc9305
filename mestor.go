// Package mestor is a minimal event-sourcing message store.
//
// Messages are appended to named streams with optional optimistic
// concurrency, read back in global order, folded into entity state with
// projections, and consumed by checkpointed polling subscriptions.
//
//	client, err := mestor.Open(cfg)
//	if err != nil { ... }
//	defer client.Close()
//
//	_, err = client.Write(ctx, "orders-42", mestor.Message{
//		ID:   client.NewID(),
//		Type: "OrderPlaced",
//		Data: mestor.Payload{"total": 1200},
//	}, mestor.AnyVersion())
package mestor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/mestor/internal/config"
	"github.com/roach88/mestor/internal/message"
	"github.com/roach88/mestor/internal/metrics"
	"github.com/roach88/mestor/internal/reader"
	"github.com/roach88/mestor/internal/store"
	"github.com/roach88/mestor/internal/store/memory"
	pebblestore "github.com/roach88/mestor/internal/store/pebble"
	"github.com/roach88/mestor/internal/store/sqlite"
	"github.com/roach88/mestor/internal/subscription"
	"github.com/roach88/mestor/internal/writer"
)

type (
	Message            = message.Message
	Payload            = message.Payload
	IDGenerator        = message.IDGenerator
	ExpectedVersion    = writer.ExpectedVersion
	Projection[S any]  = reader.Projection[S]
	Reducer[S any]     = reader.Reducer[S]
	Handler            = subscription.Handler
	Handlers           = subscription.Handlers
	Subscription       = subscription.Subscription
	SubscriptionConfig = subscription.Config
	Config             = config.Config
	Metrics            = metrics.Metrics
	Backend            = store.Backend

	ValidationError      = writer.ValidationError
	VersionConflictError = writer.VersionConflictError
)

var (
	ErrValidation      = writer.ErrValidation
	ErrVersionConflict = writer.ErrVersionConflict
	ErrDuplicateID     = store.ErrDuplicateID
	ErrUnavailable     = store.ErrUnavailable
	ErrClosed          = store.ErrClosed
	ErrAlreadyRunning  = subscription.ErrAlreadyRunning
)

// AnyVersion skips the optimistic concurrency check.
func AnyVersion() ExpectedVersion { return writer.AnyVersion() }

// Exact requires the stream's last position to equal version. Exact(0)
// requires an empty stream. Write rejects a negative version with
// ErrValidation.
func Exact(version int64) ExpectedVersion { return writer.Exact(version) }

// LoadConfig reads configuration from defaults, the YAML file at path and
// MESTOR_* environment variables.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// NewMetrics registers mestor collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) { return metrics.New(reg) }

// Client bundles a writer and a reader over one backend.
type Client struct {
	backend     store.Backend
	writer      *writer.Writer
	reader      *reader.Reader
	logger      *slog.Logger
	metrics     *metrics.Metrics
	ids         message.IDGenerator
	now         func() time.Time
	subDefaults subscription.Config
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithIDGenerator sets the source of NewID and checkpoint ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		c.ids = g
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a Client over backend. The client owns backend and closes it
// on Close.
func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		logger:  slog.Default(),
		ids:     message.UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.wire()
	return c
}

func (c *Client) wire() {
	c.writer = writer.New(c.backend,
		writer.WithLogger(c.logger),
		writer.WithClock(c.now),
		writer.WithMetrics(c.metrics),
	)
	c.reader = reader.New(c.backend,
		reader.WithLogger(c.logger),
		reader.WithMetrics(c.metrics),
	)
}

// Open validates cfg, opens the backend it names and returns a Client over
// it. Subscription tuning in cfg becomes the default for CreateSubscription.
func Open(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		logger: slog.Default(),
		ids:    message.UUIDv7Generator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	backend, err := openBackend(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	c.subDefaults = cfg.Subscription.Apply(subscription.Config{})
	c.wire()
	return c, nil
}

func openBackend(cfg Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return s, nil
	case config.BackendPebble:
		mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		s, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.Path, Fsync: mode, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open pebble %s: %w", cfg.Path, err)
		}
		return s, nil
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// NewID returns a fresh message id.
func (c *Client) NewID() string {
	return c.ids.Generate()
}

// Write appends msg to streamName. See writer.Writer.Write for the error
// contract.
func (c *Client) Write(ctx context.Context, streamName string, msg Message, expected ExpectedVersion) (Message, error) {
	return c.writer.Write(ctx, streamName, msg, expected)
}

// Read returns up to maxMessages messages of streamName with global
// position at least fromGlobalPosition, in global order.
func (c *Client) Read(ctx context.Context, streamName string, fromGlobalPosition int64, maxMessages int) ([]Message, error) {
	return c.reader.Read(ctx, streamName, fromGlobalPosition, maxMessages)
}

// ReadAll returns every message of streamName.
func (c *Client) ReadAll(ctx context.Context, streamName string) ([]Message, error) {
	return c.reader.ReadAll(ctx, streamName)
}

// ReadLastMessage returns the message with the highest global position in
// streamName. The bool is false for an empty stream.
func (c *Client) ReadLastMessage(ctx context.Context, streamName string) (Message, bool, error) {
	return c.reader.ReadLastMessage(ctx, streamName)
}

// CurrentPosition returns the category counter of streamName, 0 if the
// category was never written.
func (c *Client) CurrentPosition(ctx context.Context, streamName string) (int64, error) {
	return c.reader.CurrentPosition(ctx, streamName)
}

// CreateSubscription builds a stopped subscription. Zero tuning fields in
// cfg take the client's defaults.
func (c *Client) CreateSubscription(cfg SubscriptionConfig, handlers Handlers) (*Subscription, error) {
	if cfg.MaxMessagesPerTick == 0 {
		cfg.MaxMessagesPerTick = c.subDefaults.MaxMessagesPerTick
	}
	if cfg.PositionUpdateInterval == 0 {
		cfg.PositionUpdateInterval = c.subDefaults.PositionUpdateInterval
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = c.subDefaults.PollInterval
	}
	return subscription.New(c.reader, c.writer, cfg, handlers,
		subscription.WithLogger(c.logger),
		subscription.WithMetrics(c.metrics),
		subscription.WithIDGenerator(c.ids),
	)
}

// RunSubscriptions runs subs until ctx is done or one fails.
func (c *Client) RunSubscriptions(ctx context.Context, subs ...*Subscription) error {
	return subscription.NewRunner(c.logger).Run(ctx, subs...)
}

// Close closes the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

// LoadEntity folds every message of streamName through p.
func LoadEntity[S any](ctx context.Context, c *Client, streamName string, p Projection[S]) (S, error) {
	return reader.LoadEntity(ctx, c.reader, streamName, p)
}
