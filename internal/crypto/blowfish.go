package crypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

// BlockSize is the Blowfish block size; encrypted frames are padded to it.
const BlockSize = blowfish.BlockSize

// ChecksumSize is the size of the XOR checksum trailer.
const ChecksumSize = 4

// BlowfishCipher wraps Blowfish ECB encryption for transport frames.
// The underlying cipher holds no per-call state, so one value may be shared
// by every connection of a process.
type BlowfishCipher struct {
	cipher *blowfish.Cipher
}

// NewBlowfishCipher creates a Blowfish ECB cipher from the given key (1..56 bytes).
func NewBlowfishCipher(key []byte) (*BlowfishCipher, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating blowfish cipher: %w", err)
	}
	return &BlowfishCipher{cipher: c}, nil
}

// Encrypt encrypts data in-place. len(data) must be a multiple of BlockSize.
func (b *BlowfishCipher) Encrypt(data []byte) error {
	if len(data)%BlockSize != 0 {
		return fmt.Errorf("blowfish encrypt: size %d is not a multiple of %d", len(data), BlockSize)
	}
	for i := 0; i < len(data); i += BlockSize {
		b.cipher.Encrypt(data[i:i+BlockSize], data[i:i+BlockSize])
	}
	return nil
}

// Decrypt decrypts data in-place. len(data) must be a multiple of BlockSize.
func (b *BlowfishCipher) Decrypt(data []byte) error {
	if len(data)%BlockSize != 0 {
		return fmt.Errorf("blowfish decrypt: size %d is not a multiple of %d", len(data), BlockSize)
	}
	for i := 0; i < len(data); i += BlockSize {
		b.cipher.Decrypt(data[i:i+BlockSize], data[i:i+BlockSize])
	}
	return nil
}

// SealChecksum writes into the last 4 bytes of data the XOR of all preceding
// 32-bit words, so that the XOR over the whole slice becomes zero.
// len(data) must be a multiple of 4 and at least ChecksumSize.
func SealChecksum(data []byte) {
	var checksum uint32
	end := len(data) - ChecksumSize
	for i := 0; i < end; i += 4 {
		checksum ^= binary.LittleEndian.Uint32(data[i:])
	}
	binary.LittleEndian.PutUint32(data[end:], checksum)
}

// VerifyChecksum reports whether the XOR of all 32-bit words of data is zero.
func VerifyChecksum(data []byte) bool {
	if len(data)%4 != 0 || len(data) <= ChecksumSize {
		return false
	}
	var checksum uint32
	for i := 0; i < len(data); i += 4 {
		checksum ^= binary.LittleEndian.Uint32(data[i:])
	}
	return checksum == 0
}
