package message

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	id := gen.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7GeneratorUnique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("m-1", "m-2")
	assert.Equal(t, "m-1", gen.Generate())
	assert.Equal(t, "m-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestFixedGeneratorConcurrent(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = string(rune('A' + i%26))
	}
	gen := NewFixedGenerator(ids...)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen.Generate()
		}()
	}
	wg.Wait()

	assert.Panics(t, func() { gen.Generate() })
}

var _ IDGenerator = UUIDv7Generator{}
var _ IDGenerator = (*FixedGenerator)(nil)
