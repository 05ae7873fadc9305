package subscription

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxMessagesPerTick bounds one read.
	DefaultMaxMessagesPerTick = 100

	// DefaultPositionUpdateInterval is the number of handled messages
	// between checkpoints.
	DefaultPositionUpdateInterval = 100

	// DefaultPollInterval is the idle wait after an empty read.
	DefaultPollInterval = 100 * time.Millisecond
)

// Config configures a Subscription.
type Config struct {
	// StreamName is the category or entity stream to follow.
	StreamName string `yaml:"stream_name"`

	// SubscriberID names the checkpoint stream. Two subscriptions with the
	// same id share progress.
	SubscriberID string `yaml:"subscriber_id"`

	MaxMessagesPerTick     int           `yaml:"max_messages_per_tick"`
	PositionUpdateInterval int           `yaml:"position_update_interval"`
	PollInterval           time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the tuning defaults with no stream or subscriber.
func DefaultConfig() Config {
	return Config{
		MaxMessagesPerTick:     DefaultMaxMessagesPerTick,
		PositionUpdateInterval: DefaultPositionUpdateInterval,
		PollInterval:           DefaultPollInterval,
	}
}

// WithDefaults fills zero tuning fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessagesPerTick == 0 {
		c.MaxMessagesPerTick = d.MaxMessagesPerTick
	}
	if c.PositionUpdateInterval == 0 {
		c.PositionUpdateInterval = d.PositionUpdateInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Validate checks that c can drive a subscription.
func (c Config) Validate() error {
	var errs []error
	if c.StreamName == "" {
		errs = append(errs, errors.New("stream name is required"))
	}
	if c.SubscriberID == "" {
		errs = append(errs, errors.New("subscriber id is required"))
	}
	if c.MaxMessagesPerTick <= 0 {
		errs = append(errs, fmt.Errorf("max messages per tick must be positive, got %d", c.MaxMessagesPerTick))
	}
	if c.PositionUpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("position update interval must be positive, got %d", c.PositionUpdateInterval))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid subscription config: %w", errors.Join(errs...))
	}
	return nil
}
