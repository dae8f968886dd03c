package gen

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fprime-tools/chanwatch/decode"
	"github.com/fprime-tools/chanwatch/framing"
	"github.com/fprime-tools/chanwatch/protocol"
)

func TestNewTelemetryPacket(t *testing.T) {
	ts := protocol.Time{Base: 2, Context: 1, Seconds: 0x01020304, USeconds: 0x0A0B0C0D}
	pkt := NewTelemetryPacket(7, ts, U32(1275))

	expected := []byte{
		0x00, 0x00, 0x00, 0x01, // FW_PACKET_TELEM
		0x00, 0x00, 0x00, 0x07, // id
		0x00, 0x02, 0x01, // base, context
		0x01, 0x02, 0x03, 0x04, // seconds
		0x0A, 0x0B, 0x0C, 0x0D, // useconds
		0x00, 0x00, 0x04, 0xFB, // 1275
	}
	assert.Equal(t, expected, pkt)

	rt, err := decode.DecodeTime(pkt[8:])
	require.NoError(t, err)
	assert.Equal(t, ts, rt)
}

func TestNewRandU32(t *testing.T) {
	for i := 0; i < 64; i++ {
		pkt, value, err := NewRandU32(3, protocol.Time{})
		require.NoError(t, err)
		assert.Equal(t, U32(value), pkt[decode.HeaderLength:])
	}
}

func TestFrame(t *testing.T) {
	pkt := NewPacket(decode.PacketLog, []byte{1, 2, 3})

	for _, name := range framing.Names {
		d, err := framing.New(name, bytes.NewReader(Frame(name, pkt)), 0)
		require.NoError(t, err)

		got, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, pkt, got, name)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x02, 'o', 'k'}, String("ok"))
}
