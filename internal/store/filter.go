package store

import (
	"fmt"

	"github.com/roach88/mestor/internal/stream"
)

// Field names a queryable record column.
type Field string

const (
	FieldCategory       Field = "category"
	FieldStreamName     Field = "stream_name"
	FieldType           Field = "type"
	FieldPosition       Field = "position"
	FieldGlobalPosition Field = "global_position"
)

// IsString reports whether the field holds text.
func (f Field) IsString() bool {
	switch f {
	case FieldCategory, FieldStreamName, FieldType:
		return true
	}
	return false
}

// IsInteger reports whether the field holds an integer.
func (f Field) IsInteger() bool {
	return f == FieldPosition || f == FieldGlobalPosition
}

// Predicate is a single filter condition.
//
// This is a sealed interface: only Equals and AtLeast implement it, so
// backends can switch over it exhaustively.
type Predicate interface {
	predicateNode()
	matches(r Record) bool
}

// Equals matches records whose text field equals Value.
type Equals struct {
	Field Field
	Value string
}

func (Equals) predicateNode() {}

func (p Equals) matches(r Record) bool {
	v, ok := stringValue(r, p.Field)
	return ok && v == p.Value
}

// AtLeast matches records whose integer field is >= Value.
type AtLeast struct {
	Field Field
	Value int64
}

func (AtLeast) predicateNode() {}

func (p AtLeast) matches(r Record) bool {
	v, ok := intValue(r, p.Field)
	return ok && v >= p.Value
}

// Filter is a conjunction of predicates. An empty filter matches everything.
type Filter []Predicate

// Matches reports whether r satisfies every predicate.
func (f Filter) Matches(r Record) bool {
	for _, p := range f {
		if !p.matches(r) {
			return false
		}
	}
	return true
}

// Equal returns the value of the first Equals predicate on field.
func (f Filter) Equal(field Field) (string, bool) {
	for _, p := range f {
		if eq, ok := p.(Equals); ok && eq.Field == field {
			return eq.Value, true
		}
	}
	return "", false
}

// ForStream selects the messages of streamName: the whole category for a
// category stream, the exact stream for an entity stream.
func ForStream(streamName string) Filter {
	f := Filter{Equals{Field: FieldCategory, Value: stream.Category(streamName)}}
	if stream.IsEntity(streamName) {
		f = append(f, Equals{Field: FieldStreamName, Value: streamName})
	}
	return f
}

// Validate checks that each predicate targets a field of the right kind.
func (f Filter) Validate() error {
	for i, p := range f {
		switch pred := p.(type) {
		case Equals:
			if !pred.Field.IsString() {
				return fmt.Errorf("%w: predicate %d: equals on non-text field %q", ErrUnsupportedQuery, i, pred.Field)
			}
		case AtLeast:
			if !pred.Field.IsInteger() {
				return fmt.Errorf("%w: predicate %d: range on non-integer field %q", ErrUnsupportedQuery, i, pred.Field)
			}
		default:
			return fmt.Errorf("%w: predicate %d: %T", ErrUnsupportedQuery, i, p)
		}
	}
	return nil
}

// Sort orders results by an integer field.
type Sort struct {
	Field      Field
	Descending bool
}

// Validate checks that the sort field is an integer column.
func (s Sort) Validate() error {
	if !s.Field.IsInteger() {
		return fmt.Errorf("%w: sort on non-integer field %q", ErrUnsupportedQuery, s.Field)
	}
	return nil
}

// Less reports whether a sorts before b. Ties break on ID so results are
// deterministic.
func (s Sort) Less(a, b Record) bool {
	av, _ := intValue(a, s.Field)
	bv, _ := intValue(b, s.Field)
	if av != bv {
		if s.Descending {
			return av > bv
		}
		return av < bv
	}
	return a.ID < b.ID
}

func stringValue(r Record, f Field) (string, bool) {
	switch f {
	case FieldCategory:
		return r.Category, true
	case FieldStreamName:
		return r.StreamName, true
	case FieldType:
		return r.Type, true
	}
	return "", false
}

func intValue(r Record, f Field) (int64, bool) {
	switch f {
	case FieldPosition:
		return r.Position, true
	case FieldGlobalPosition:
		return r.GlobalPosition, true
	}
	return 0, false
}
