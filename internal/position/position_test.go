package position

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mestor/internal/store"
	"github.com/roach88/mestor/internal/store/memory"
	"github.com/roach88/mestor/internal/stream"
)

func TestGlobalKeyCannotBeACategory(t *testing.T) {
	assert.True(t, stream.IsEntity(GlobalKey))
	assert.NotEqual(t, GlobalKey, stream.Category(GlobalKey))
}

func TestIncrementAndGet_StartsAtOne(t *testing.T) {
	a := New(memory.New())
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := a.IncrementAndGet(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIncrementAndGetPositions(t *testing.T) {
	a := New(memory.New())
	ctx := context.Background()

	p, err := a.IncrementAndGetPositions(ctx, "orders-1")
	require.NoError(t, err)
	assert.Equal(t, Positions{Position: 1, GlobalPosition: 1}, p)

	p, err = a.IncrementAndGetPositions(ctx, "payments-7")
	require.NoError(t, err)
	assert.Equal(t, Positions{Position: 1, GlobalPosition: 2}, p)

	// Entity streams share their category's counter.
	p, err = a.IncrementAndGetPositions(ctx, "orders-2")
	require.NoError(t, err)
	assert.Equal(t, Positions{Position: 2, GlobalPosition: 3}, p)

	p, err = a.IncrementAndGetPositions(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, Positions{Position: 3, GlobalPosition: 4}, p)
}

func TestCurrentPosition(t *testing.T) {
	a := New(memory.New())
	ctx := context.Background()

	cur, err := a.CurrentPosition(ctx, "orders-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur, "never-written stream reports 0")

	_, err = a.IncrementAndGetPositions(ctx, "orders-1")
	require.NoError(t, err)
	_, err = a.IncrementAndGetPositions(ctx, "orders-2")
	require.NoError(t, err)

	cur, err = a.CurrentPosition(ctx, "orders-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur)

	// Reading does not increment.
	cur, err = a.CurrentPosition(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur)
}

func TestIncrementAndGetPositions_Concurrent(t *testing.T) {
	a := New(memory.New())
	ctx := context.Background()
	const n = 50

	var (
		mu  sync.Mutex
		pos = map[int64]bool{}
		gps = map[int64]bool{}
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.IncrementAndGetPositions(ctx, "orders-1")
			assert.NoError(t, err)
			mu.Lock()
			pos[p.Position] = true
			gps[p.GlobalPosition] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i := int64(1); i <= n; i++ {
		assert.True(t, pos[i], "missing position %d", i)
		assert.True(t, gps[i], "missing global position %d", i)
	}
}

type failingOps struct {
	store.Ops
	err error
}

func (f failingOps) IncrementCounter(context.Context, string) (int64, error) { return 0, f.err }
func (f failingOps) Counter(context.Context, string) (int64, error)          { return 0, f.err }

func TestStoreErrorsPropagate(t *testing.T) {
	boom := store.Unavailable("test", errors.New("disk gone"))
	a := New(failingOps{err: boom})
	ctx := context.Background()

	_, err := a.IncrementAndGetPositions(ctx, "orders-1")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = a.CurrentPosition(ctx, "orders-1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
