package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/mestor"
)

// SubscribeOptions holds flags for the subscribe command.
type SubscribeOptions struct {
	*RootOptions
	SubscriberID   string
	MaxPerTick     int
	UpdateInterval int
	Poll           time.Duration
	MetricsAddr    string
}

// NewSubscribeCommand creates the subscribe command.
func NewSubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubscribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "subscribe <stream>...",
		Short: "Follow streams and print every message until interrupted",
		Long: `Run a checkpointed subscription per stream and print each handled message.

Progress is recorded on subscriberPosition-<subscriber>, so a restarted
subscriber resumes where it left off. With several streams each one gets
the subscriber id <subscriber>:<stream>.

Examples:
  mestor subscribe orders --subscriber printer
  mestor subscribe orders payments --subscriber audit --poll 1s --metrics-addr :9090`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSubscribe(ctx, opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.SubscriberID, "subscriber", "", "subscriber id (required)")
	_ = cmd.MarkFlagRequired("subscriber")
	cmd.Flags().IntVar(&opts.MaxPerTick, "max-per-tick", 0, "messages read per poll (defaults to config)")
	cmd.Flags().IntVar(&opts.UpdateInterval, "update-interval", 0, "handled messages between checkpoints (defaults to config)")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 0, "wait between empty polls (defaults to config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runSubscribe(ctx context.Context, opts *SubscribeOptions, cmd *cobra.Command, streams []string) error {
	reg := prometheus.NewRegistry()
	m, err := mestor.NewMetrics(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	client, cfg, err := opts.openClient(cmd, mestor.WithMetrics(m))
	if err != nil {
		return err
	}
	defer client.Close()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		shutdown := serveMetrics(addr, reg, opts.formatter(cmd))
		defer shutdown()
	}

	var mu sync.Mutex
	out := opts.formatter(cmd)
	enc := json.NewEncoder(out.Writer)
	printMessage := func(ctx context.Context, msg mestor.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if out.Format == "json" {
			return enc.Encode(msg)
		}
		return writeMessage(out.Writer, msg)
	}

	subs := make([]*mestor.Subscription, 0, len(streams))
	for _, streamName := range streams {
		id := opts.SubscriberID
		if len(streams) > 1 {
			id = opts.SubscriberID + ":" + streamName
		}
		sub, err := client.CreateSubscription(mestor.SubscriptionConfig{
			StreamName:             streamName,
			SubscriberID:           id,
			MaxMessagesPerTick:     opts.MaxPerTick,
			PositionUpdateInterval: opts.UpdateInterval,
			PollInterval:           opts.Poll,
		}, mestor.Handlers{Any: printMessage})
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid subscription for "+streamName, err)
		}
		subs = append(subs, sub)
	}

	out.VerboseLog("subscribed to %v as %s", streams, opts.SubscriberID)
	if err := client.RunSubscriptions(ctx, subs...); err != nil {
		return WrapExitError(ExitFailure, "subscription failed", err)
	}
	return nil
}

// serveMetrics exposes reg on addr/metrics and returns a shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, out *OutputFormatter) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(out.GetErrWriter(), "metrics server on %s: %v\n", addr, err)
		}
	}()
	out.VerboseLog("serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(out.GetErrWriter(), "metrics server shutdown: %v\n", err)
		}
	}
}
