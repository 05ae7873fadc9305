package pebblestore

import (
	"bytes"
	"testing"
)

func TestMessageKeysSortByGlobalPosition(t *testing.T) {
	a, b, c := messageKey(1), messageKey(255), messageKey(256)
	if bytes.Compare(a, b) >= 0 || bytes.Compare(b, c) >= 0 {
		t.Fatalf("keys not ordered: %x %x %x", a, b, c)
	}
}

func TestGPFromKey(t *testing.T) {
	gp, err := gpFromKey(indexKey(prefixCategory, "orders", 42))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gp != 42 {
		t.Fatalf("gp = %d, want 42", gp)
	}
	if _, err := gpFromKey([]byte("x")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte("m/"), []byte("m0")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := prefixEnd(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixEnd(%x) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestCounterValueRoundTrip(t *testing.T) {
	v, err := decodeInt(encodeInt(1 << 40))
	if err != nil || v != 1<<40 {
		t.Fatalf("decodeInt = %d, %v", v, err)
	}
	if _, err := decodeInt([]byte{1, 2}); err == nil {
		t.Fatal("expected error for short value")
	}
}
