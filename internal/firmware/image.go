// Package firmware exposes a firmware image as a contiguous, stable
// byte range plus a derived chunk count for the transfer engine: a
// single-read-into-buffer load, BLAKE3 hashing for an operator-facing
// digest, and a random-read-by-chunk-index contract.
package firmware

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// MinChunkSize and MaxChunkSize bound the configurable chunk size
// (spec: 65 < chunk_size <= 9000, default 1988).
const (
	MinChunkSize     = 65
	MaxChunkSize     = 9000
	DefaultChunkSize = 1988
)

// Image is an immutable byte sequence together with a fixed chunk
// size. It must remain stable for the engine's lifetime; Image never
// mutates base after Open returns.
type Image struct {
	base      []byte
	chunkSize int
	chunks    int

	scratch []byte // reused by Chunk for the padded short tail and the prime packet
}

// ValidateChunkSize rejects chunk sizes outside (MinChunkSize, MaxChunkSize].
func ValidateChunkSize(n int) error {
	if n <= MinChunkSize || n > MaxChunkSize {
		return fmt.Errorf("chunk size %d outside (%d, %d]", n, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// Open reads path fully into memory and derives the chunk count for
// chunkSize. Digest and full-chunk reads are read-only over the same
// backing array; Chunk for a short tail writes into the shared scratch
// buffer, so Chunk is not safe for concurrent use.
func Open(path string, chunkSize int) (*Image, error) {
	if err := ValidateChunkSize(chunkSize); err != nil {
		return nil, err
	}

	base, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware image: %w", err)
	}

	chunks := len(base) / chunkSize
	if len(base)%chunkSize != 0 {
		chunks++
	}

	img := &Image{
		base:      base,
		chunkSize: chunkSize,
		chunks:    chunks,
		scratch:   make([]byte, chunkSize),
	}
	for i := range img.scratch {
		img.scratch[i] = byte(i & 0xff)
	}
	return img, nil
}

// Len returns the image length in bytes.
func (img *Image) Len() int { return len(img.base) }

// ChunkSize returns the configured chunk size.
func (img *Image) ChunkSize() int { return img.chunkSize }

// ChunkCount returns ceil(Len()/ChunkSize()). Zero for an empty image.
func (img *Image) ChunkCount() int { return img.chunks }

// Chunk returns the ChunkSize() payload bytes for chunk index i, 0 <=
// i < ChunkCount(). Full chunks are a direct slice of the backing
// array; the short tail chunk is copied into a scratch buffer whose
// remainder is filled deterministically (byte i&0xff), matching the
// original sender's padding so the receiver's "ignore trailing bytes"
// contract holds regardless of fill content.
func (img *Image) Chunk(i int) []byte {
	if i < 0 || i >= img.chunks {
		panic(fmt.Sprintf("firmware: chunk index %d out of range [0,%d)", i, img.chunks))
	}
	offset := i * img.chunkSize
	if i == img.chunks-1 {
		need := img.Len() - offset
		if need != img.chunkSize {
			copy(img.scratch, img.base[offset:])
			return img.scratch
		}
	}
	return img.base[offset : offset+img.chunkSize]
}

// PrimePayload returns the filler payload sent with the priming packet
// (wire chunk 0, peer.Chunk == -1). The receiver's chunk indexing
// starts at 1 and requires this bootstrapping round; content is
// arbitrary but deterministic.
func (img *Image) PrimePayload() []byte {
	return img.scratch
}

// Digest returns the hex-encoded BLAKE3 digest of the whole image.
// Operator diagnostic only: never placed on the wire, never gates the
// transfer.
func (img *Image) Digest() string {
	sum := blake3.Sum256(img.base)
	return hex.EncodeToString(sum[:])
}
