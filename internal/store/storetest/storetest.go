// Package storetest holds the behavioural contract every store.Backend must
// satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mestor/internal/store"
)

// Factory returns a fresh, empty backend. It should register cleanup on t.
type Factory func(t *testing.T) store.Backend

// Run executes the contract suite against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CounterAbsentIsZero", func(t *testing.T) { testCounterAbsent(t, newBackend(t)) })
	t.Run("IncrementCounterSequence", func(t *testing.T) { testIncrementSequence(t, newBackend(t)) })
	t.Run("IncrementCounterConcurrent", func(t *testing.T) { testIncrementConcurrent(t, newBackend(t)) })
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newBackend(t)) })
	t.Run("FindManyFilters", func(t *testing.T) { testFindManyFilters(t, newBackend(t)) })
	t.Run("FindManyEmpty", func(t *testing.T) { testFindManyEmpty(t, newBackend(t)) })
	t.Run("FindOneDescending", func(t *testing.T) { testFindOneDescending(t, newBackend(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, newBackend(t)) })
	t.Run("PayloadRoundTrip", func(t *testing.T) { testPayloadRoundTrip(t, newBackend(t)) })
	t.Run("UpdateCommits", func(t *testing.T) { testUpdateCommits(t, newBackend(t)) })
	t.Run("UpdateRollsBack", func(t *testing.T) { testUpdateRollsBack(t, newBackend(t)) })
	t.Run("UpdateReadsOwnWrites", func(t *testing.T) { testUpdateReadsOwnWrites(t, newBackend(t)) })
	t.Run("UpdateSerializes", func(t *testing.T) { testUpdateSerializes(t, newBackend(t)) })
	t.Run("UnsupportedSort", func(t *testing.T) { testUnsupportedSort(t, newBackend(t)) })
}

// NewRecord builds a record in category with the given positions.
func NewRecord(id, streamName, category string, position, globalPosition int64) store.Record {
	return store.Record{
		ID:             id,
		Type:           "EventHappened",
		StreamName:     streamName,
		Category:       category,
		Position:       position,
		GlobalPosition: globalPosition,
		Time:           time.Date(2024, 1, 2, 3, 4, 5, int(globalPosition)*1000, time.UTC),
	}
}

func byGlobal() store.Sort { return store.Sort{Field: store.FieldGlobalPosition} }

func seed(t *testing.T, b store.Backend) {
	t.Helper()
	ctx := context.Background()
	recs := []store.Record{
		NewRecord("m1", "orders-1", "orders", 1, 1),
		NewRecord("m2", "payments-9", "payments", 1, 2),
		NewRecord("m3", "orders-2", "orders", 2, 3),
		NewRecord("m4", "orders-1", "orders", 3, 4),
		NewRecord("m5", "orders", "orders", 4, 5),
	}
	for _, r := range recs {
		require.NoError(t, b.Insert(ctx, r))
	}
}

func recordIDs(recs []store.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func testCounterAbsent(t *testing.T, b store.Backend) {
	v, err := b.Counter(context.Background(), "never")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func testIncrementSequence(t *testing.T, b store.Backend) {
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := b.IncrementCounter(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := b.IncrementCounter(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "counters are independent per key")

	cur, err := b.Counter(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)
}

func testIncrementConcurrent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	const workers, perWorker = 8, 25

	var (
		mu   sync.Mutex
		seen []int64
		wg   sync.WaitGroup
	)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v, err := b.IncrementCounter(ctx, "hot")
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				seen = append(seen, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	require.Len(t, seen, workers*perWorker)
	for i, v := range seen {
		assert.Equal(t, int64(i+1), v, "values must be gap-free and unique")
	}
}

func testInsertAndFind(t *testing.T, b store.Backend) {
	ctx := context.Background()
	rec := NewRecord("m1", "orders-1", "orders", 1, 1)
	require.NoError(t, b.Insert(ctx, rec))

	got, ok, err := b.FindOne(ctx, store.Filter{store.Equals{Field: store.FieldCategory, Value: "orders"}}, byGlobal())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.StreamName, got.StreamName)
	assert.Equal(t, rec.Category, got.Category)
	assert.Equal(t, rec.Position, got.Position)
	assert.Equal(t, rec.GlobalPosition, got.GlobalPosition)
	assert.True(t, rec.Time.Equal(got.Time), "time = %v, want %v", got.Time, rec.Time)

	_, ok, err = b.FindOne(ctx, store.Filter{store.Equals{Field: store.FieldCategory, Value: "missing"}}, byGlobal())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFindManyFilters(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b)

	category := store.Equals{Field: store.FieldCategory, Value: "orders"}

	recs, err := b.FindMany(ctx, store.Filter{category}, byGlobal(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3", "m4", "m5"}, recordIDs(recs))

	recs, err = b.FindMany(ctx, store.Filter{category, store.Equals{Field: store.FieldStreamName, Value: "orders-1"}}, byGlobal(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m4"}, recordIDs(recs))

	recs, err = b.FindMany(ctx, store.Filter{category, store.AtLeast{Field: store.FieldGlobalPosition, Value: 3}}, byGlobal(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5"}, recordIDs(recs))

	recs, err = b.FindMany(ctx, store.Filter{category}, byGlobal(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3"}, recordIDs(recs))

	recs, err = b.FindMany(ctx, store.Filter{category}, store.Sort{Field: store.FieldPosition}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3", "m4", "m5"}, recordIDs(recs))

	recs, err = b.FindMany(ctx, nil, byGlobal(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, recordIDs(recs))
}

func testFindManyEmpty(t *testing.T, b store.Backend) {
	recs, err := b.FindMany(context.Background(), store.Filter{store.Equals{Field: store.FieldCategory, Value: "nothing"}}, byGlobal(), 10)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func testFindOneDescending(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b)

	desc := store.Sort{Field: store.FieldGlobalPosition, Descending: true}
	got, ok, err := b.FindOne(ctx, store.Filter{store.Equals{Field: store.FieldCategory, Value: "orders"}}, desc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m5", got.ID)

	got, ok, err = b.FindOne(ctx, store.Filter{
		store.Equals{Field: store.FieldCategory, Value: "orders"},
		store.Equals{Field: store.FieldStreamName, Value: "orders-2"},
	}, desc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m3", got.ID)
}

func testDuplicateID(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, NewRecord("dup", "orders-1", "orders", 1, 1)))

	err := b.Insert(ctx, NewRecord("dup", "orders-1", "orders", 2, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicateID), "got %v", err)
}

func testPayloadRoundTrip(t *testing.T, b store.Backend) {
	ctx := context.Background()

	with := NewRecord("with", "orders-1", "orders", 1, 1)
	with.Data = []byte(`{"amount":12}`)
	with.Metadata = []byte(`{"trace":"abc"}`)
	require.NoError(t, b.Insert(ctx, with))
	require.NoError(t, b.Insert(ctx, NewRecord("without", "orders-1", "orders", 2, 2)))

	recs, err := b.FindMany(ctx, store.Filter{store.Equals{Field: store.FieldCategory, Value: "orders"}}, byGlobal(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.JSONEq(t, `{"amount":12}`, string(recs[0].Data))
	assert.JSONEq(t, `{"trace":"abc"}`, string(recs[0].Metadata))
	assert.Nil(t, recs[1].Data)
	assert.Nil(t, recs[1].Metadata)
}

func testUpdateCommits(t *testing.T, b store.Backend) {
	ctx := context.Background()

	err := b.Update(ctx, func(ops store.Ops) error {
		pos, err := ops.IncrementCounter(ctx, "orders")
		if err != nil {
			return err
		}
		gp, err := ops.IncrementCounter(ctx, "global-position")
		if err != nil {
			return err
		}
		return ops.Insert(ctx, NewRecord("m1", "orders-1", "orders", pos, gp))
	})
	require.NoError(t, err)

	v, err := b.Counter(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, ok, err := b.FindOne(ctx, store.Filter{store.Equals{Field: store.FieldCategory, Value: "orders"}}, byGlobal())
	require.NoError(t, err)
	assert.True(t, ok)
}

func testUpdateRollsBack(t *testing.T, b store.Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.Update(ctx, func(ops store.Ops) error {
		if _, err := ops.IncrementCounter(ctx, "orders"); err != nil {
			return err
		}
		if err := ops.Insert(ctx, NewRecord("m1", "orders-1", "orders", 1, 1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := b.Counter(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "counter increment must be discarded")

	recs, err := b.FindMany(ctx, nil, byGlobal(), 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "insert must be discarded")

	// Same id is free again after rollback.
	require.NoError(t, b.Insert(ctx, NewRecord("m1", "orders-1", "orders", 1, 1)))
}

func testUpdateReadsOwnWrites(t *testing.T, b store.Backend) {
	ctx := context.Background()

	err := b.Update(ctx, func(ops store.Ops) error {
		if _, err := ops.IncrementCounter(ctx, "orders"); err != nil {
			return err
		}
		v, err := ops.Counter(ctx, "orders")
		if err != nil {
			return err
		}
		if v != 1 {
			return fmt.Errorf("counter inside update = %d, want 1", v)
		}

		if err := ops.Insert(ctx, NewRecord("m1", "orders-1", "orders", 1, 1)); err != nil {
			return err
		}
		_, ok, err := ops.FindOne(ctx, store.Filter{store.Equals{Field: store.FieldStreamName, Value: "orders-1"}}, byGlobal())
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("inserted record not visible inside update")
		}
		return nil
	})
	require.NoError(t, err)
}

func testUpdateSerializes(t *testing.T, b store.Backend) {
	ctx := context.Background()
	const writers = 10

	// Each writer does a conditional insert: only proceed if the category
	// counter is still 0. Exactly one must win.
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- b.Update(ctx, func(ops store.Ops) error {
				cur, err := ops.Counter(ctx, "race")
				if err != nil {
					return err
				}
				if cur != 0 {
					return errConflict
				}
				pos, err := ops.IncrementCounter(ctx, "race")
				if err != nil {
					return err
				}
				return ops.Insert(ctx, NewRecord(fmt.Sprintf("w%d", i), "race-1", "race", pos, pos))
			})
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, errConflict)
	}
	assert.Equal(t, 1, wins)
}

var errConflict = errors.New("conflict")

func testUnsupportedSort(t *testing.T, b store.Backend) {
	_, err := b.FindMany(context.Background(), nil, store.Sort{Field: store.FieldCategory}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnsupportedQuery)
}
