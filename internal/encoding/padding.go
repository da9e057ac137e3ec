// Package encoding provides PKCS#7 padding for block ciphers whose mode
// requires whole-block input, currently AES-256-CBC.
package encoding

import (
	"bytes"
	"errors"
)

var (
	errShortBlock     = errors.New("encoding: data shorter than block size")
	errInvalidPadding = errors.New("encoding: invalid PKCS#7 padding")
)

// Pad applies PKCS#7 padding so data fills a whole number of blockSize
// blocks. If data is already block-aligned, a full block of padding is
// added (so Unpad can always find a trailing padding count).
//
// Example: 100 bytes with blockSize=16 -> 112 bytes (12 bytes of value
// 0x0C appended).
func Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

// Unpad removes PKCS#7 padding from a blockSize-aligned buffer.
//
// The padding length is determined by the value of the last byte. Returns
// an error if data is shorter than blockSize or the trailing byte does not
// describe a valid padding length, since that indicates corrupted or
// tampered ciphertext rather than a merely short input.
func Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) < blockSize {
		return nil, errShortBlock
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errInvalidPadding
	}
	return data[:len(data)-padLen], nil
}
