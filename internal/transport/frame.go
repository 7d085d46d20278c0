package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/udisondev/tilegrid/internal/bufpool"
	"github.com/udisondev/tilegrid/internal/crypto"
)

// Frame format:
//   - 4-byte body length header (LE)
//   - body, padded to a multiple of crypto.BlockSize and encrypted when a
//     cipher is configured:
//     tag int32 | payload length int32 | payload | zero padding | XOR checksum uint32
const (
	frameHeaderSize = 4
	frameMetaSize   = 8

	// DefaultMaxFrameSize bounds the body a peer may announce.
	DefaultMaxFrameSize = 16 << 20
)

// ErrBadFrame is returned for frames that fail length or checksum validation.
var ErrBadFrame = errors.New("malformed frame")

// frameBodySize returns the padded body size for a payload.
func frameBodySize(payloadLen int) int {
	size := frameMetaSize + payloadLen + crypto.ChecksumSize
	if rem := size % crypto.BlockSize; rem != 0 {
		size += crypto.BlockSize - rem
	}
	return size
}

// frameCodec reads and writes frames. A nil cipher sends bodies in clear but
// still checksums them.
type frameCodec struct {
	cipher  *crypto.BlowfishCipher
	pool    *bufpool.Pool
	maxSize int
}

// writeFrame encodes one frame and writes it with a single Write call.
func (c *frameCodec) writeFrame(w io.Writer, tag int, payload []byte) error {
	bodySize := frameBodySize(len(payload))
	if bodySize > c.maxSize {
		return fmt.Errorf("frame body %d exceeds limit %d: %w", bodySize, c.maxSize, ErrBadFrame)
	}

	buf := c.pool.Get(frameHeaderSize + bodySize)
	defer c.pool.Put(buf)

	binary.LittleEndian.PutUint32(buf[0:], uint32(bodySize))
	body := buf[frameHeaderSize:]
	binary.LittleEndian.PutUint32(body[0:], uint32(int32(tag)))
	binary.LittleEndian.PutUint32(body[4:], uint32(len(payload)))
	copy(body[frameMetaSize:], payload)
	crypto.SealChecksum(body)

	if c.cipher != nil {
		if err := c.cipher.Encrypt(body); err != nil {
			return fmt.Errorf("encrypting frame: %w", err)
		}
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// readFrame reads one frame and returns its tag and a caller-owned payload.
func (c *frameCodec) readFrame(r io.Reader) (int, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}

	bodySize := int(binary.LittleEndian.Uint32(header[:]))
	if bodySize < frameBodySize(0) || bodySize%crypto.BlockSize != 0 || bodySize > c.maxSize {
		return 0, nil, fmt.Errorf("frame body size %d: %w", bodySize, ErrBadFrame)
	}

	body := c.pool.Get(bodySize)
	defer c.pool.Put(body)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("reading frame body: %w", err)
	}

	if c.cipher != nil {
		if err := c.cipher.Decrypt(body); err != nil {
			return 0, nil, fmt.Errorf("decrypting frame: %w", err)
		}
	}
	if !crypto.VerifyChecksum(body) {
		return 0, nil, fmt.Errorf("frame checksum verification failed: %w", ErrBadFrame)
	}

	tag := int(int32(binary.LittleEndian.Uint32(body[0:])))
	payloadLen := int(binary.LittleEndian.Uint32(body[4:]))
	if payloadLen > bodySize-frameMetaSize-crypto.ChecksumSize {
		return 0, nil, fmt.Errorf("frame payload length %d in body of %d: %w", payloadLen, bodySize, ErrBadFrame)
	}

	payload := make([]byte, payloadLen)
	copy(payload, body[frameMetaSize:frameMetaSize+payloadLen])
	return tag, payload, nil
}
