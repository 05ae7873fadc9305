// Package stream parses stream names.
//
// A stream name is either a category ("orders") or an entity stream
// ("orders-42"). The category of an entity stream is the text before the
// first separator, so category names can never contain the separator.
//
// Parsing is pure and total: no I/O and no validation. Malformed or empty
// names pass through unchanged.
package stream
