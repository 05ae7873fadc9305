package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		want Type
	}{
		{"orders", CategoryType},
		{"orders-42", EntityType},
		{"orders-42-extra", EntityType},
		{"-", EntityType},
		{"", CategoryType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.name))
		})
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"orders", "orders"},
		{"orders-42", "orders"},
		{"orders-42-extra", "orders"},
		{"subscriberPosition-worker-1", "subscriberPosition"},
		{"-42", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.name))
		})
	}
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "", EntityID("orders"))
	assert.Equal(t, "42", EntityID("orders-42"))
	assert.Equal(t, "worker-1", EntityID("subscriberPosition-worker-1"))
}

func TestParse(t *testing.T) {
	n := Parse("orders-42")
	assert.Equal(t, Name{Raw: "orders-42", Category: "orders", EntityID: "42", Type: EntityType}, n)

	n = Parse("orders")
	assert.Equal(t, Name{Raw: "orders", Category: "orders", Type: CategoryType}, n)
}

func TestEntity_RoundTrip(t *testing.T) {
	name := Entity("orders", "42")
	assert.Equal(t, "orders-42", name)
	assert.True(t, IsEntity(name))
	assert.Equal(t, "orders", Category(name))
	assert.Equal(t, "42", EntityID(name))
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "category", CategoryType.String())
	assert.Equal(t, "entity", EntityType.String())
	assert.Equal(t, "unknown", Type(0).String())
}
