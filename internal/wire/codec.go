// Package wire implements the 8-byte, big-endian request/ack header
// codec: a packed binary.BigEndian header, with the field layout
// following the original struct header in progska.h.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Magic values for the two frame kinds.
const (
	RequestMagic        uint16 = 0x0051
	AckMagic             uint16 = 0x0052
	HeaderSize                  = 8
	SkarabPort                  = 30584
)

// Header is the packed 8-byte frame header shared by requests and
// acks: magic, sequence, chunk, total.
type Header struct {
	Magic    uint16
	Sequence uint16
	Chunk    uint16
	Total    uint16
}

// EncodeRequest builds the 8-byte header for a request carrying
// sequence/chunk/total. The caller appends the chunk_size payload
// bytes itself (the codec never copies the payload).
func EncodeRequest(sequence, chunk, total uint16) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], RequestMagic)
	binary.BigEndian.PutUint16(buf[2:4], sequence)
	binary.BigEndian.PutUint16(buf[4:6], chunk)
	binary.BigEndian.PutUint16(buf[6:8], total)
	return buf
}

// Encode serialises an arbitrary Header, magic included verbatim.
// Used by tests exercising the encode/decode round trip.
func Encode(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint16(buf[4:6], h.Chunk)
	binary.BigEndian.PutUint16(buf[6:8], h.Total)
	return buf
}

// Decode parses any 8-byte header without validating its fields.
func Decode(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		Magic:    binary.BigEndian.Uint16(buf[0:2]),
		Sequence: binary.BigEndian.Uint16(buf[2:4]),
		Chunk:    binary.BigEndian.Uint16(buf[4:6]),
		Total:    binary.BigEndian.Uint16(buf[6:8]),
	}, nil
}

// Ack is a parsed, validated acknowledgement: sequence echoed from the
// request being acked, and the chunk number the board reports as
// acknowledged.
type Ack struct {
	Sequence uint16
	Chunk    uint16
}

// ErrMisfit is returned when a datagram is not exactly HeaderSize
// bytes long.
var ErrMisfit = fmt.Errorf("wire: ack has wrong length")

// ErrWeird is returned when the magic is wrong or the board reports a
// nonzero error code in the Total field.
var ErrWeird = fmt.Errorf("wire: ack failed magic/error validation")

// DecodeAck validates length, magic, and error-code fields before
// returning the fields the engine needs to correlate the ack against
// a peer. misfit/weird are distinguished so callers can bump the
// matching counter.
func DecodeAck(buf []byte) (Ack, error) {
	if len(buf) != HeaderSize {
		return Ack{}, ErrMisfit
	}
	h, err := Decode(buf)
	if err != nil {
		return Ack{}, ErrMisfit
	}
	if h.Magic != AckMagic {
		return Ack{}, ErrWeird
	}
	if h.Total != 0 {
		return Ack{}, ErrWeird
	}
	return Ack{Sequence: h.Sequence, Chunk: h.Chunk}, nil
}
