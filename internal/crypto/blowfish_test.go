package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("tilegrid-test-key")

func TestBlowfishCipher_RoundTrip(t *testing.T) {
	c, err := NewBlowfishCipher(testKey)
	require.NoError(t, err)

	plain := []byte("0123456789abcdef0123456789abcdef")
	data := bytes.Clone(plain)

	require.NoError(t, c.Encrypt(data))
	assert.NotEqual(t, plain, data)

	require.NoError(t, c.Decrypt(data))
	assert.Equal(t, plain, data)
}

func TestBlowfishCipher_RejectsUnalignedSize(t *testing.T) {
	c, err := NewBlowfishCipher(testKey)
	require.NoError(t, err)

	assert.Error(t, c.Encrypt(make([]byte, 12)))
	assert.Error(t, c.Decrypt(make([]byte, 7)))
}

func TestNewBlowfishCipher_InvalidKey(t *testing.T) {
	_, err := NewBlowfishCipher(nil)
	assert.Error(t, err)

	_, err = NewBlowfishCipher(make([]byte, 57))
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	data := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x10, 0x20, 0x30, 0x40,
		0x00, 0x00, 0x00, 0x00, // checksum slot
	}
	SealChecksum(data)
	assert.True(t, VerifyChecksum(data))

	data[5] ^= 0x01
	assert.False(t, VerifyChecksum(data))
}

func TestVerifyChecksum_BadSizes(t *testing.T) {
	assert.False(t, VerifyChecksum(nil))
	assert.False(t, VerifyChecksum(make([]byte, 4)))
	assert.False(t, VerifyChecksum(make([]byte, 6)))
}
