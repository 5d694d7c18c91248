package types

import (
	"testing"
)

func TestBytesToHashPadding(t *testing.T) {
	h := BytesToHash([]byte{0x01, 0x02})
	if h[29] != 0 || h[30] != 0x01 || h[31] != 0x02 {
		t.Errorf("expected left-padded hash, got %x", h)
	}
	long := make([]byte, 40)
	long[39] = 0xaa
	h = BytesToHash(long)
	if h[31] != 0xaa {
		t.Errorf("expected right-most bytes kept, got %x", h)
	}
}

func TestBytesToAddressPadding(t *testing.T) {
	a := BytesToAddress([]byte{0xff})
	if a[19] != 0xff || a[0] != 0 {
		t.Errorf("expected left-padded address, got %x", a)
	}
}

func TestHexRoundTrip(t *testing.T) {
	tests := []string{
		"0x0000000000000000000000000000000000000000000000000000000000000001",
		"0xdeadbeef00000000000000000000000000000000000000000000000000000000",
	}
	for _, s := range tests {
		h := HexToHash(s)
		if h.Hex() != s {
			t.Errorf("Hex() = %s, want %s", h.Hex(), s)
		}
	}
}

func TestIsZero(t *testing.T) {
	var h Hash
	var a Address
	if !h.IsZero() || !a.IsZero() {
		t.Error("zero values should report IsZero")
	}
	h[0] = 1
	a[0] = 1
	if h.IsZero() || a.IsZero() {
		t.Error("non-zero values should not report IsZero")
	}
}

func TestAddressWord(t *testing.T) {
	a := HexToAddress("0x1111111111111111111111111111111111111111")
	w := a.Word()
	for i := 0; i < 12; i++ {
		if w[i] != 0 {
			t.Fatalf("word byte %d should be padding, got %x", i, w[i])
		}
	}
	if BytesToAddress(w.Bytes()[12:]) != a {
		t.Error("word should embed the address in its low 20 bytes")
	}
}
