package encoding

import (
	"bytes"
	"testing"
)

const aesBlockSize = 16

func TestPadUnpadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hi")},
		{"exact block", bytes.Repeat([]byte{0x01}, aesBlockSize)},
		{"multi block", bytes.Repeat([]byte{0x02}, aesBlockSize*3+5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			padded := Pad(tt.data, aesBlockSize)
			if len(padded)%aesBlockSize != 0 {
				t.Fatalf("padded length %d not block-aligned", len(padded))
			}
			unpadded, err := Unpad(padded, aesBlockSize)
			if err != nil {
				t.Fatalf("Unpad: %v", err)
			}
			if !bytes.Equal(unpadded, tt.data) {
				t.Fatalf("round trip mismatch: got %v, want %v", unpadded, tt.data)
			}
		})
	}
}

func TestPadAddsFullBlockWhenAligned(t *testing.T) {
	data := bytes.Repeat([]byte{0xAA}, aesBlockSize*2)
	padded := Pad(data, aesBlockSize)
	if len(padded) != len(data)+aesBlockSize {
		t.Fatalf("expected a full extra block, got %d extra bytes", len(padded)-len(data))
	}
}

func TestUnpadRejectsShortInput(t *testing.T) {
	if _, err := Unpad([]byte{1, 2, 3}, aesBlockSize); err == nil {
		t.Fatal("expected error for input shorter than block size")
	}
}

func TestUnpadRejectsInvalidPadding(t *testing.T) {
	data := make([]byte, aesBlockSize)
	data[aesBlockSize-1] = 0 // invalid: zero padding length
	if _, err := Unpad(data, aesBlockSize); err == nil {
		t.Fatal("expected error for zero padding length")
	}

	data2 := make([]byte, aesBlockSize)
	data2[aesBlockSize-1] = byte(aesBlockSize + 1) // invalid: exceeds block size
	if _, err := Unpad(data2, aesBlockSize); err == nil {
		t.Fatal("expected error for padding length exceeding block size")
	}
}
