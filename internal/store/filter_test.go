package store

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Matches(t *testing.T) {
	rec := Record{ID: "a", Category: "orders", StreamName: "orders-42", Type: "Placed", Position: 3, GlobalPosition: 7}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", nil, true},
		{"category", Filter{Equals{FieldCategory, "orders"}}, true},
		{"wrong category", Filter{Equals{FieldCategory, "payments"}}, false},
		{"stream and category", Filter{Equals{FieldCategory, "orders"}, Equals{FieldStreamName, "orders-42"}}, true},
		{"other entity", Filter{Equals{FieldCategory, "orders"}, Equals{FieldStreamName, "orders-43"}}, false},
		{"global lower bound inclusive", Filter{AtLeast{FieldGlobalPosition, 7}}, true},
		{"global lower bound above", Filter{AtLeast{FieldGlobalPosition, 8}}, false},
		{"position bound", Filter{AtLeast{FieldPosition, 1}}, true},
		{"equals on integer field never matches", Filter{Equals{FieldPosition, "3"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(rec))
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	require.NoError(t, Filter{Equals{FieldCategory, "x"}, AtLeast{FieldGlobalPosition, 0}}.Validate())

	err := Filter{Equals{FieldPosition, "1"}}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedQuery))

	err = Filter{AtLeast{FieldType, 1}}.Validate()
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
}

func TestFilter_Equal(t *testing.T) {
	f := Filter{AtLeast{FieldGlobalPosition, 1}, Equals{FieldCategory, "orders"}}

	v, ok := f.Equal(FieldCategory)
	assert.True(t, ok)
	assert.Equal(t, "orders", v)

	_, ok = f.Equal(FieldStreamName)
	assert.False(t, ok)
}

func TestSort_Less(t *testing.T) {
	recs := []Record{
		{ID: "c", GlobalPosition: 3},
		{ID: "a", GlobalPosition: 1},
		{ID: "b", GlobalPosition: 2},
	}

	asc := Sort{Field: FieldGlobalPosition}
	sort.Slice(recs, func(i, j int) bool { return asc.Less(recs[i], recs[j]) })
	assert.Equal(t, []string{"a", "b", "c"}, ids(recs))

	desc := Sort{Field: FieldGlobalPosition, Descending: true}
	sort.Slice(recs, func(i, j int) bool { return desc.Less(recs[i], recs[j]) })
	assert.Equal(t, []string{"c", "b", "a"}, ids(recs))
}

func TestSort_Validate(t *testing.T) {
	assert.NoError(t, Sort{Field: FieldPosition}.Validate())
	assert.ErrorIs(t, Sort{Field: FieldCategory}.Validate(), ErrUnsupportedQuery)
}

func TestRecord_Clone(t *testing.T) {
	r := Record{ID: "a", Data: []byte(`{"k":1}`)}
	c := r.Clone()
	c.Data[0] = 'x'
	assert.Equal(t, byte('{'), r.Data[0])
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Unavailable("insert", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert")
}

func ids(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestForStream(t *testing.T) {
	assert.Equal(t,
		Filter{Equals{FieldCategory, "orders"}},
		ForStream("orders"))
	assert.Equal(t,
		Filter{Equals{FieldCategory, "orders"}, Equals{FieldStreamName, "orders-42"}},
		ForStream("orders-42"))

	rec := Record{Category: "orders", StreamName: "orders-42"}
	assert.True(t, ForStream("orders").Matches(rec))
	assert.True(t, ForStream("orders-42").Matches(rec))
	assert.False(t, ForStream("orders-43").Matches(rec))
}
