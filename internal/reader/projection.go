package reader

import (
	"context"

	"github.com/roach88/mestor/internal/message"
)

// Reducer folds one message into state. Reducers must be pure.
type Reducer[S any] func(state S, msg message.Message) S

// Projection rebuilds entity state from its messages.
type Projection[S any] struct {
	// Init returns the initial state. Nil means the zero value of S.
	Init func() S

	// Reducers maps message types to reducers. Messages of other types
	// leave state unchanged.
	Reducers map[string]Reducer[S]
}

// Project folds msgs in order through p.
func Project[S any](msgs []message.Message, p Projection[S]) S {
	var state S
	if p.Init != nil {
		state = p.Init()
	}
	for _, msg := range msgs {
		if reduce, ok := p.Reducers[msg.Type]; ok {
			state = reduce(state, msg)
		}
	}
	return state
}

// LoadEntity reads the whole of streamName and projects it.
func LoadEntity[S any](ctx context.Context, r *Reader, streamName string, p Projection[S]) (S, error) {
	msgs, err := r.ReadAll(ctx, streamName)
	if err != nil {
		var zero S
		return zero, err
	}
	return Project(msgs, p), nil
}
