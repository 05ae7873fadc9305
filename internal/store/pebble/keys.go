package pebblestore

import (
	"encoding/binary"
	"fmt"
)

var (
	prefixMessage  = []byte("m/")
	prefixID       = []byte("i/")
	prefixCategory = []byte("c/")
	prefixStream   = []byte("s/")
	prefixCounter  = []byte("k/")
)

const gpLen = 8

func appendGP(b []byte, gp int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(gp))
}

func messageKey(gp int64) []byte {
	b := make([]byte, 0, len(prefixMessage)+gpLen)
	b = append(b, prefixMessage...)
	return appendGP(b, gp)
}

func idKey(id string) []byte {
	b := make([]byte, 0, len(prefixID)+len(id))
	b = append(b, prefixID...)
	return append(b, id...)
}

func counterKey(key string) []byte {
	b := make([]byte, 0, len(prefixCounter)+len(key))
	b = append(b, prefixCounter...)
	return append(b, key...)
}

// indexPrefix returns prefix+name+NUL. The terminator keeps "orders" from
// matching entries for "orders/x".
func indexPrefix(prefix []byte, name string) []byte {
	b := make([]byte, 0, len(prefix)+len(name)+1+gpLen)
	b = append(b, prefix...)
	b = append(b, name...)
	return append(b, 0)
}

func indexKey(prefix []byte, name string, gp int64) []byte {
	return appendGP(indexPrefix(prefix, name), gp)
}

// gpFromKey decodes the trailing global position of a message or index key.
func gpFromKey(key []byte) (int64, error) {
	if len(key) < gpLen {
		return 0, fmt.Errorf("short key %q", key)
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-gpLen:])), nil
}

// prefixEnd returns the smallest key greater than every key starting with p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func encodeInt(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeInt(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("counter value has %d bytes, want 8", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
