// Package wire implements the fixed-size echo packet used by the probe
// mesh: a request leaves a peer, the remote reflects it unchanged save for
// its type, and the round trip is what the analyzer correlates.
package wire

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a mehsh probe packet on the wire.
const Magic uint32 = 0x1372_0D0B

// Size is the fixed, allocation-free wire size of a Packet.
const Size = 4 + 4 + 8 + 2

// Type distinguishes a probe request from its reflection.
type Type uint16

const (
	Req  Type = 1
	Resp Type = 2
)

var (
	ErrInvalidSize  = errors.New("wire: invalid size")
	ErrInvalidMagic = errors.New("wire: invalid magic")
	ErrUnknownType  = errors.New("wire: unknown packet type")
)

// Packet is the decoded form of an 18-byte echo probe.
type Packet struct {
	Version uint32
	ID      uint64
	Type    Type
}

// Encode serializes a Packet into a freshly allocated Size-byte buffer.
func Encode(version uint32, id uint64, t Type) []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], version)
	binary.BigEndian.PutUint64(buf[8:16], id)
	binary.BigEndian.PutUint16(buf[16:18], uint16(t))
	return buf
}

// Decode parses a Packet from the front of data. Trailing bytes beyond
// Size are ignored, preserving forward compatibility with future fields.
func Decode(data []byte) (Packet, error) {
	if len(data) < Size {
		return Packet{}, ErrInvalidSize
	}
	if binary.BigEndian.Uint32(data[0:4]) != Magic {
		return Packet{}, ErrInvalidMagic
	}
	t := Type(binary.BigEndian.Uint16(data[16:18]))
	if t != Req && t != Resp {
		return Packet{}, ErrUnknownType
	}
	return Packet{
		Version: binary.BigEndian.Uint32(data[4:8]),
		ID:      binary.BigEndian.Uint64(data[8:16]),
		Type:    t,
	}, nil
}
