// Package position hands out stream-local and global sequence numbers.
//
// Every value comes from one atomic IncrementCounter call on the store.
// Nothing is cached between calls.
package position

import (
	"context"
	"fmt"

	"github.com/roach88/mestor/internal/store"
	"github.com/roach88/mestor/internal/stream"
)

// GlobalKey is the counter key for global positions. It contains the
// stream separator, so no category name can ever collide with it.
const GlobalKey = "global" + stream.Separator + "position"

// Positions is the pair assigned to one written message.
type Positions struct {
	Position       int64
	GlobalPosition int64
}

// Allocator owns the position counters.
type Allocator struct {
	ops store.Ops
}

// New returns an Allocator over ops. Inside store.Backend.Update, pass the
// callback's Ops so allocations commit or roll back with the write.
func New(ops store.Ops) *Allocator {
	return &Allocator{ops: ops}
}

// IncrementAndGet atomically increments the counter for key and returns the
// new value. A counter that does not exist yet starts at 1.
func (a *Allocator) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	v, err := a.ops.IncrementCounter(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("increment %q: %w", key, err)
	}
	return v, nil
}

// IncrementAndGetPositions allocates the category position for streamName
// and the next global position.
func (a *Allocator) IncrementAndGetPositions(ctx context.Context, streamName string) (Positions, error) {
	pos, err := a.IncrementAndGet(ctx, stream.Category(streamName))
	if err != nil {
		return Positions{}, err
	}
	gp, err := a.IncrementAndGet(ctx, GlobalKey)
	if err != nil {
		return Positions{}, err
	}
	return Positions{Position: pos, GlobalPosition: gp}, nil
}

// CurrentPosition returns the category counter for streamName without
// incrementing it. A never-written category reports 0.
func (a *Allocator) CurrentPosition(ctx context.Context, streamName string) (int64, error) {
	key := stream.Category(streamName)
	v, err := a.ops.Counter(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read counter %q: %w", key, err)
	}
	return v, nil
}
