package stream

import "strings"

// Separator splits a stream name into category and entity id.
const Separator = "-"

// Type distinguishes category streams from entity streams.
type Type int

const (
	// CategoryType is a stream name without a separator ("orders").
	CategoryType Type = iota + 1
	// EntityType is a stream name containing a separator ("orders-42").
	EntityType
)

// String returns the type name used in CLI output.
func (t Type) String() string {
	switch t {
	case CategoryType:
		return "category"
	case EntityType:
		return "entity"
	default:
		return "unknown"
	}
}

// TypeOf returns EntityType if name contains the separator, else CategoryType.
func TypeOf(name string) Type {
	if strings.Contains(name, Separator) {
		return EntityType
	}
	return CategoryType
}

// IsEntity reports whether name denotes a single entity's stream.
func IsEntity(name string) bool {
	return TypeOf(name) == EntityType
}

// Category returns the text before the first separator for entity streams,
// and the name unchanged for category streams.
func Category(name string) string {
	category, _, found := strings.Cut(name, Separator)
	if !found {
		return name
	}
	return category
}

// EntityID returns the text after the first separator, or "" for category
// streams. Further separators belong to the id: "a-b-c" has id "b-c".
func EntityID(name string) string {
	_, id, _ := strings.Cut(name, Separator)
	return id
}

// Name is a parsed stream name.
type Name struct {
	Raw      string `json:"raw"`
	Category string `json:"category"`
	EntityID string `json:"entity_id,omitempty"`
	Type     Type   `json:"-"`
}

// Parse splits name into its parts.
func Parse(name string) Name {
	return Name{
		Raw:      name,
		Category: Category(name),
		EntityID: EntityID(name),
		Type:     TypeOf(name),
	}
}

// Entity builds an entity stream name from a category and id.
func Entity(category, id string) string {
	return category + Separator + id
}
