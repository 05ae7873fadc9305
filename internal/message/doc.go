// Package message defines the immutable Message stored in the log, its
// opaque Payload, and the canonical encoding payloads are persisted with.
package message
