package memzero

import (
	"bytes"
	"testing"
)

func TestZeroAll(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5}
	ZeroAll(a, nil, b)
	if !bytes.Equal(a, []byte{0, 0, 0}) || !bytes.Equal(b, []byte{0, 0}) {
		t.Fatalf("buffers not wiped: %v %v", a, b)
	}
}
