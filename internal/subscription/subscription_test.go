package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mestor/internal/message"
	"github.com/roach88/mestor/internal/metrics"
	"github.com/roach88/mestor/internal/reader"
	"github.com/roach88/mestor/internal/store/memory"
	"github.com/roach88/mestor/internal/testutil"
	"github.com/roach88/mestor/internal/writer"
)

const waitFor = 2 * time.Second

type env struct {
	w *writer.Writer
	r *reader.Reader
}

func newEnv(t *testing.T) env {
	t.Helper()
	backend := memory.New()
	t.Cleanup(func() { backend.Close() })
	logger := testutil.DiscardLogger()
	return env{
		w: writer.New(backend, writer.WithLogger(logger)),
		r: reader.New(backend, reader.WithLogger(logger)),
	}
}

func (e env) write(t *testing.T, streamName, id, typ string) message.Message {
	t.Helper()
	msg, err := e.w.Write(context.Background(), streamName, message.Message{ID: id, Type: typ}, writer.AnyVersion())
	require.NoError(t, err)
	return msg
}

func (e env) checkpoints(t *testing.T, subscriberID string) []int64 {
	t.Helper()
	msgs, err := e.r.Read(context.Background(), CheckpointStream(subscriberID), 0, 0)
	require.NoError(t, err)
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		assert.Equal(t, CheckpointType, m.Type)
		pos, ok := m.Data.Int64("position")
		require.True(t, ok)
		out = append(out, pos)
	}
	return out
}

func (e env) newSubscription(t *testing.T, cfg Config, h Handlers, opts ...Option) *Subscription {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	opts = append([]Option{
		WithLogger(testutil.DiscardLogger()),
		WithIDGenerator(testutil.NewSequentialIDs("cp")),
	}, opts...)
	sub, err := New(e.r, e.w, cfg, h, opts...)
	require.NoError(t, err)
	return sub
}

// run starts sub in the background and returns a function that stops it
// and returns Start's result.
func run(t *testing.T, sub *Subscription) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sub.Start(context.Background()) }()
	require.Eventually(t, func() bool { return sub.State() == StatePolling }, waitFor, time.Millisecond)

	return func() error {
		sub.Stop()
		select {
		case err := <-done:
			return err
		case <-time.After(waitFor):
			t.Fatal("subscription did not stop")
			return nil
		}
	}
}

func TestSubscription_CountsEventsOnCategory(t *testing.T) {
	e := newEnv(t)
	var count atomic.Int64

	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "counter"}, Handlers{
		ByType: map[string]Handler{
			"EventHappened": func(context.Context, message.Message) error {
				count.Add(1)
				return nil
			},
		},
	})
	stop := run(t, sub)

	var last message.Message
	for i := 1; i <= 3; i++ {
		last = e.write(t, "orders-42", fmt.Sprintf("m%d", i), "EventHappened")
	}
	e.write(t, "payments-1", "p1", "EventHappened")

	require.Eventually(t, func() bool { return sub.Position() == last.GlobalPosition }, waitFor, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, int64(3), count.Load())
	assert.Equal(t, StateStopped, sub.State())

	cps := e.checkpoints(t, "counter")
	require.NotEmpty(t, cps, "pending position is flushed on stop")
	assert.LessOrEqual(t, cps[len(cps)-1], last.GlobalPosition)
}

func TestSubscription_CheckpointsMonotonicAcrossRestarts(t *testing.T) {
	e := newEnv(t)
	var (
		mu   sync.Mutex
		seen []int64
	)
	h := Handlers{Any: func(_ context.Context, msg message.Message) error {
		mu.Lock()
		seen = append(seen, msg.GlobalPosition)
		mu.Unlock()
		return nil
	}}
	cfg := Config{StreamName: "orders", SubscriberID: "proj", PositionUpdateInterval: 2}

	for i := 1; i <= 5; i++ {
		e.write(t, "orders-1", fmt.Sprintf("a%d", i), "X")
	}

	sub := e.newSubscription(t, cfg, h)
	stop := run(t, sub)
	require.Eventually(t, func() bool { return sub.Position() == 5 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	first := e.checkpoints(t, "proj")
	assert.Equal(t, []int64{2, 4, 5}, first)

	var more []message.Message
	for i := 1; i <= 3; i++ {
		more = append(more, e.write(t, "orders-2", fmt.Sprintf("b%d", i), "X"))
	}
	lastGP := more[len(more)-1].GlobalPosition

	// Restart resumes from the checkpoint: nothing is delivered twice.
	stop = run(t, sub)
	require.Eventually(t, func() bool { return sub.Position() == lastGP }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	all := e.checkpoints(t, "proj")
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i], all[i-1], "checkpoints never move backwards")
	}
	assert.Equal(t, lastGP, all[len(all)-1])

	mu.Lock()
	defer mu.Unlock()
	want := []int64{1, 2, 3, 4, 5}
	for _, m := range more {
		want = append(want, m.GlobalPosition)
	}
	assert.Equal(t, want, seen)
}

func TestSubscription_DispatchIsOrdered(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 50; i++ {
		e.write(t, fmt.Sprintf("orders-%d", i%4), fmt.Sprintf("m%d", i), "X")
	}

	var (
		mu     sync.Mutex
		order  []int64
		active atomic.Int32
	)
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "ordered", MaxMessagesPerTick: 7}, Handlers{
		Any: func(_ context.Context, msg message.Message) error {
			if active.Add(1) != 1 {
				t.Error("handlers overlapped")
			}
			time.Sleep(100 * time.Microsecond)
			mu.Lock()
			order = append(order, msg.GlobalPosition)
			mu.Unlock()
			active.Add(-1)
			return nil
		},
	})
	stop := run(t, sub)
	require.Eventually(t, func() bool { return sub.Position() == 50 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, gp := range order {
		assert.Equal(t, int64(i+1), gp)
	}
}

func TestSubscription_TypeHandlerBeatsAny(t *testing.T) {
	e := newEnv(t)
	e.write(t, "orders-1", "a", "Placed")
	e.write(t, "orders-1", "b", "Shipped")

	var placed, other atomic.Int64
	sub := e.newSubscription(t, Config{StreamName: "orders-1", SubscriberID: "route"}, Handlers{
		ByType: map[string]Handler{
			"Placed": func(context.Context, message.Message) error { placed.Add(1); return nil },
		},
		Any: func(context.Context, message.Message) error { other.Add(1); return nil },
	})
	stop := run(t, sub)
	require.Eventually(t, func() bool { return sub.Position() == 2 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, int64(1), placed.Load())
	assert.Equal(t, int64(1), other.Load())
}

func TestSubscription_UnhandledTypesStillAdvance(t *testing.T) {
	e := newEnv(t)
	e.write(t, "orders-1", "a", "Ignored")

	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "skip"}, Handlers{})
	stop := run(t, sub)
	require.Eventually(t, func() bool { return sub.Position() == 1 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []int64{1}, e.checkpoints(t, "skip"))
}

func TestSubscription_HandlerErrorStops(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 3; i++ {
		e.write(t, "orders-1", fmt.Sprintf("m%d", i), "X")
	}

	boom := errors.New("boom")
	var calls atomic.Int64
	h := Handlers{Any: func(_ context.Context, msg message.Message) error {
		calls.Add(1)
		if msg.ID == "m2" {
			return boom
		}
		return nil
	}}
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "fail"}, h)

	err := sub.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, sub.State())
	assert.Equal(t, int64(2), calls.Load(), "remaining messages are abandoned")
	assert.Equal(t, int64(1), sub.Position())

	// The handled prefix was flushed, so a restart redelivers from m2.
	assert.Equal(t, []int64{1}, e.checkpoints(t, "fail"))
	err = sub.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), calls.Load())
}

type failingWriter struct{ err error }

func (f failingWriter) Write(context.Context, string, message.Message, writer.ExpectedVersion) (message.Message, error) {
	return message.Message{}, f.err
}

func TestSubscription_CheckpointFailureStops(t *testing.T) {
	e := newEnv(t)
	e.write(t, "orders-1", "m1", "X")
	e.write(t, "orders-1", "m2", "X")

	diskGone := errors.New("disk gone")
	var calls atomic.Int64
	sub, err := New(e.r, failingWriter{err: diskGone},
		Config{StreamName: "orders", SubscriberID: "cp", PositionUpdateInterval: 1, PollInterval: time.Millisecond},
		Handlers{Any: func(context.Context, message.Message) error { calls.Add(1); return nil }},
		WithLogger(testutil.DiscardLogger()),
	)
	require.NoError(t, err)

	err = sub.Start(context.Background())
	require.ErrorIs(t, err, diskGone)
	assert.Equal(t, int64(1), calls.Load(), "no message is handled after a failed checkpoint")
}

func TestSubscription_AlreadyRunning(t *testing.T) {
	e := newEnv(t)
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "dup"}, Handlers{})
	stop := run(t, sub)

	assert.ErrorIs(t, sub.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, stop())
}

func TestSubscription_ContextCancelStops(t *testing.T) {
	e := newEnv(t)
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "ctx"}, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Start(ctx) }()
	require.Eventually(t, func() bool { return sub.State() == StatePolling }, waitFor, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("subscription ignored cancellation")
	}
}

func TestSubscription_StopBeforeStart(t *testing.T) {
	e := newEnv(t)
	e.write(t, "orders-1", "m1", "EventHappened")

	var handled atomic.Int64
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "early"}, Handlers{
		Any: func(context.Context, message.Message) error {
			handled.Add(1)
			return nil
		},
	})

	assert.NotPanics(t, func() {
		sub.Stop()
		sub.Stop()
	})
	assert.Equal(t, StateStopped, sub.State())

	done := make(chan error, 1)
	go func() { done <- sub.Start(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Start ignored a Stop issued before it")
	}
	assert.Equal(t, int64(0), handled.Load())
	assert.Equal(t, StateStopped, sub.State())

	// The pending stop is consumed; the next run polls normally.
	stop := run(t, sub)
	require.Eventually(t, func() bool { return handled.Load() == 1 }, waitFor, time.Millisecond)
	require.NoError(t, stop())
}

func TestSubscription_StopRacingStart(t *testing.T) {
	e := newEnv(t)
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "racer"}, Handlers{})

	done := make(chan error, 1)
	go func() { done <- sub.Start(context.Background()) }()
	sub.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatalf("Start still running after Stop; state=%s", sub.State())
	}
}

func TestSubscription_CorruptCheckpoint(t *testing.T) {
	e := newEnv(t)
	e.write(t, CheckpointStream("bad"), "cp-x", CheckpointType)

	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "bad"}, Handlers{})
	err := sub.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position")
}

func TestSubscription_Metrics(t *testing.T) {
	e := newEnv(t)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	e.write(t, "orders-1", "m1", "X")
	sub := e.newSubscription(t, Config{StreamName: "orders", SubscriberID: "obs"}, Handlers{
		Any: func(context.Context, message.Message) error { return nil },
	}, WithMetrics(m))

	stop := run(t, sub)
	assert.Equal(t, 1.0, prom.ToFloat64(m.SubscriptionState.WithLabelValues("obs")))
	require.Eventually(t, func() bool { return sub.Position() == 1 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, 0.0, prom.ToFloat64(m.SubscriptionState.WithLabelValues("obs")))
	assert.Equal(t, 1.0, prom.ToFloat64(m.MessagesHandled.WithLabelValues("obs", "ok")))
	assert.Equal(t, 1.0, prom.ToFloat64(m.Checkpoints.WithLabelValues("obs")))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	e := newEnv(t)

	_, err := New(e.r, e.w, Config{SubscriberID: "x"}, Handlers{})
	assert.Error(t, err)

	_, err = New(e.r, e.w, Config{StreamName: "orders"}, Handlers{})
	assert.Error(t, err)

	_, err = New(nil, e.w, Config{StreamName: "orders", SubscriberID: "x"}, Handlers{})
	assert.Error(t, err)
}
