package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ErrNoSubscriptions is returned by Run when given nothing to run.
var ErrNoSubscriptions = errors.New("no subscriptions provided")

// Runner runs several subscriptions concurrently.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a Runner. A nil logger means slog.Default().
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run starts every subscription and blocks until all have stopped. The
// first failure cancels the others and is returned. Cancelling ctx stops
// them all and Run returns nil.
func (r *Runner) Run(ctx context.Context, subs ...*Subscription) error {
	if len(subs) == 0 {
		return ErrNoSubscriptions
	}
	for i, sub := range subs {
		if sub == nil {
			return fmt.Errorf("subscription at index %d is nil", i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			return sub.Start(gctx)
		})
	}

	r.logger.Info("subscriptions running", "count", len(subs))
	return g.Wait()
}
