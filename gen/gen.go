// Package gen builds serialized telemetry, the way flight software would
// emit it, for feeding pipelines in tests.
package gen

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/fprime-tools/chanwatch/decode"
	"github.com/fprime-tools/chanwatch/framing"
	"github.com/fprime-tools/chanwatch/protocol"
)

// NewTelemetryPacket serializes a FW_PACKET_TELEM packet carrying one
// channel value.
func NewTelemetryPacket(id uint32, t protocol.Time, value []byte) []byte {
	pkt := make([]byte, decode.HeaderLength+len(value))

	binary.BigEndian.PutUint32(pkt[0:], decode.PacketTelem)
	binary.BigEndian.PutUint32(pkt[4:], id)
	binary.BigEndian.PutUint16(pkt[8:], t.Base)
	pkt[10] = t.Context
	binary.BigEndian.PutUint32(pkt[11:], t.Seconds)
	binary.BigEndian.PutUint32(pkt[15:], t.USeconds)
	copy(pkt[decode.HeaderLength:], value)

	return pkt
}

// NewPacket serializes a packet with an arbitrary descriptor.
func NewPacket(descriptor uint32, body []byte) []byte {
	pkt := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(pkt, descriptor)
	copy(pkt[4:], body)
	return pkt
}

// NewRandU32 returns a telemetry packet with a random U32 value.
func NewRandU32(id uint32, t protocol.Time) (pkt []byte, value uint32, err error) {
	buf := make([]byte, 4)
	if _, err = rand.Read(buf); err != nil {
		return nil, 0, err
	}

	value = binary.BigEndian.Uint32(buf)
	return NewTelemetryPacket(id, t, buf), value, nil
}

// Frame wraps pkt in the named framing.
func Frame(name string, pkt []byte) []byte {
	if name == "fprime" {
		return framing.FrameFprime(pkt)
	}
	return framing.FramePacket(pkt)
}

func U8(v uint8) []byte { return []byte{v} }

func U16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func U32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func U64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func I8(v int8) []byte   { return U8(uint8(v)) }
func I16(v int16) []byte { return U16(uint16(v)) }
func I32(v int32) []byte { return U32(uint32(v)) }
func I64(v int64) []byte { return U64(uint64(v)) }

func F32(v float32) []byte { return U32(math.Float32bits(v)) }
func F64(v float64) []byte { return U64(math.Float64bits(v)) }

func Bool(v bool) []byte {
	if v {
		return []byte{0xFF}
	}
	return []byte{0x00}
}

func String(s string) []byte {
	return append(U16(uint16(len(s))), s...)
}
