// Package store defines the storage contract the message store is built on.
//
// A backend provides exactly two capability groups:
//   - Atomic counters: IncrementCounter creates a counter with value 1 or adds
//     one to it, as a single linearizable operation.
//   - Documents: Insert, FindOne and FindMany over message records, with
//     equality and numeric lower-bound filters, ordering by an integer field
//     and a result limit.
//
// Update groups several operations into one indivisible unit. Writers use it
// so that the expected-version check, position allocation and insert either
// all happen or none do, and no concurrent Update can interleave.
//
// Implementations live in sub-packages: sqlite (durable, multi-process),
// pebble (embedded key-value) and memory (tests and demos).
package store
