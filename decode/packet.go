// CHANWATCH - A ground data system client tracking telemetry channel values.
// Copyright (C) 2023 The chanwatch Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package decode

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fprime-tools/chanwatch/dictionary"
	"github.com/fprime-tools/chanwatch/protocol"
)

// Packet descriptors leading every packet.
const (
	PacketCommand         uint32 = 0
	PacketTelem           uint32 = 1
	PacketLog             uint32 = 2
	PacketFile            uint32 = 3
	PacketPacketizedTelem uint32 = 4
	PacketUnknown         uint32 = 0xFF
)

const (
	DescriptorLength = 4
	ChannelIDLength  = 4
	TimeLength       = 2 + 1 + 4 + 4
	HeaderLength     = DescriptorLength + ChannelIDLength + TimeLength
)

var (
	// ErrNotTelemetry marks packets with a descriptor other than PacketTelem.
	ErrNotTelemetry = errors.New("not a telemetry packet")

	// ErrUnknownChannel marks telemetry for an id missing from the dictionary.
	ErrUnknownChannel = errors.New("unknown channel id")
)

// Descriptor returns the packet descriptor.
func Descriptor(pkt []byte) (uint32, error) {
	if len(pkt) < DescriptorLength {
		return PacketUnknown, errors.Wrap(ErrShort, "descriptor")
	}
	return binary.BigEndian.Uint32(pkt), nil
}

// DecodeTime reads a serialized timestamp.
func DecodeTime(b []byte) (t protocol.Time, err error) {
	if len(b) < TimeLength {
		return t, errors.Wrap(ErrShort, "time")
	}

	t.Base = binary.BigEndian.Uint16(b[0:2])
	t.Context = b[2]
	t.Seconds = binary.BigEndian.Uint32(b[3:7])
	t.USeconds = binary.BigEndian.Uint32(b[7:11])

	return t, nil
}

// A Decoder converts telemetry packets to channel samples. Value decoders
// are resolved once per channel when the decoder is built.
type Decoder struct {
	channels map[uint32]dictionary.Channel
	values   map[uint32]ValueDecoder
}

func NewDecoder(dicts *dictionary.Dictionaries) *Decoder {
	d := &Decoder{
		channels: dicts.ChannelID,
		values:   make(map[uint32]ValueDecoder, len(dicts.ChannelID)),
	}

	for id, ch := range dicts.ChannelID {
		d.values[id] = NewValueDecoder(ch)
	}

	return d
}

// Decode parses one packet, descriptor included.
func (d *Decoder) Decode(pkt []byte) (s protocol.ChannelSample, err error) {
	desc, err := Descriptor(pkt)
	if err != nil {
		return s, err
	}
	if desc != PacketTelem {
		return s, errors.Wrapf(ErrNotTelemetry, "descriptor %d", desc)
	}

	if len(pkt) < HeaderLength {
		return s, errors.Wrapf(ErrShort, "telemetry header of %d bytes", len(pkt))
	}

	s.ID = binary.BigEndian.Uint32(pkt[DescriptorLength:])

	ch, ok := d.channels[s.ID]
	if !ok {
		return s, errors.Wrapf(ErrUnknownChannel, "id %d", s.ID)
	}
	s.Name = ch.Name

	if s.Time, err = DecodeTime(pkt[DescriptorLength+ChannelIDLength:]); err != nil {
		return s, err
	}

	s.Value, _, err = d.values[s.ID](pkt[HeaderLength:])
	if err != nil {
		return s, errors.Wrap(err, ch.Name)
	}

	return s, nil
}
