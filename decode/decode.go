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

// Package decode turns telemetry packets into channel samples using the
// type information carried by a dictionary.
package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/fprime-tools/chanwatch/dictionary"
)

// ValueDecoder reads one serialized value from the front of b and reports
// how many bytes it consumed.
type ValueDecoder func(b []byte) (v interface{}, n int, err error)

var (
	decoderMutex sync.Mutex
	decoders     = make(map[string]ValueDecoder)
)

// ErrShort is returned when a buffer ends before a value does.
var ErrShort = errors.New("short buffer")

// Given a type name and a decoder, register the decoder for channels of
// that type. Built in primitives are registered by this package.
func Register(typeName string, fn ValueDecoder) {
	decoderMutex.Lock()
	defer decoderMutex.Unlock()

	if fn == nil {
		panic("decode: value decoder is nil")
	}
	if _, dup := decoders[typeName]; dup {
		panic(fmt.Sprintf("decode: value decoder already registered (%s)", typeName))
	}
	decoders[typeName] = fn
}

func lookup(typeName string) (ValueDecoder, bool) {
	decoderMutex.Lock()
	defer decoderMutex.Unlock()

	fn, ok := decoders[typeName]
	return fn, ok
}

// NewValueDecoder picks the decoder for a channel. Enums decode through
// their representation type and resolve to the constant name. Types with no
// registered decoder yield the remaining bytes unchanged.
func NewValueDecoder(ch dictionary.Channel) ValueDecoder {
	if ch.Enum != nil {
		return enumDecoder(*ch.Enum)
	}

	if fn, ok := lookup(ch.Type.Name); ok {
		return fn
	}

	return Raw
}

func enumDecoder(enum dictionary.Enum) ValueDecoder {
	rep, ok := lookup(enum.RepresentationType.Name)
	if !ok {
		rep = I32
	}

	return func(b []byte) (interface{}, int, error) {
		v, n, err := rep(b)
		if err != nil {
			return nil, 0, err
		}

		i, err := toInt64(v)
		if err != nil {
			return nil, 0, errors.Wrap(err, enum.QualifiedName)
		}

		if name, ok := enum.Lookup(i); ok {
			return name, n, nil
		}
		return fmt.Sprintf("%s(%d)", enum.QualifiedName, i), n, nil
	}
}

func toInt64(v interface{}) (int64, error) {
	switch i := v.(type) {
	case int8:
		return int64(i), nil
	case int16:
		return int64(i), nil
	case int32:
		return int64(i), nil
	case int64:
		return i, nil
	case uint8:
		return int64(i), nil
	case uint16:
		return int64(i), nil
	case uint32:
		return int64(i), nil
	case uint64:
		return int64(i), nil
	}
	return 0, errors.Errorf("enum representation %T is not an integer", v)
}

func fixed(size int, fn func([]byte) interface{}) ValueDecoder {
	return func(b []byte) (interface{}, int, error) {
		if len(b) < size {
			return nil, 0, errors.Wrapf(ErrShort, "need %d bytes, have %d", size, len(b))
		}
		return fn(b[:size]), size, nil
	}
}

var (
	U8  = fixed(1, func(b []byte) interface{} { return b[0] })
	U16 = fixed(2, func(b []byte) interface{} { return binary.BigEndian.Uint16(b) })
	U32 = fixed(4, func(b []byte) interface{} { return binary.BigEndian.Uint32(b) })
	U64 = fixed(8, func(b []byte) interface{} { return binary.BigEndian.Uint64(b) })
	I8  = fixed(1, func(b []byte) interface{} { return int8(b[0]) })
	I16 = fixed(2, func(b []byte) interface{} { return int16(binary.BigEndian.Uint16(b)) })
	I32 = fixed(4, func(b []byte) interface{} { return int32(binary.BigEndian.Uint32(b)) })
	I64 = fixed(8, func(b []byte) interface{} { return int64(binary.BigEndian.Uint64(b)) })
	F32 = fixed(4, func(b []byte) interface{} { return math.Float32frombits(binary.BigEndian.Uint32(b)) })
	F64 = fixed(8, func(b []byte) interface{} { return math.Float64frombits(binary.BigEndian.Uint64(b)) })

	// Bool is serialized as 0xFF for true and 0x00 for false; anything
	// non-zero reads as true.
	Bool = fixed(1, func(b []byte) interface{} { return b[0] != 0 })
)

// String reads a U16 length prefix followed by that many bytes.
func String(b []byte) (interface{}, int, error) {
	if len(b) < 2 {
		return nil, 0, errors.Wrap(ErrShort, "string length")
	}

	l := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+l {
		return nil, 0, errors.Wrapf(ErrShort, "string of %d bytes, have %d", l, len(b)-2)
	}

	return string(b[2 : 2+l]), 2 + l, nil
}

// Raw consumes everything left.
func Raw(b []byte) (interface{}, int, error) {
	v := make([]byte, len(b))
	copy(v, b)
	return v, len(b), nil
}

func init() {
	Register("U8", U8)
	Register("U16", U16)
	Register("U32", U32)
	Register("U64", U64)
	Register("I8", I8)
	Register("I16", I16)
	Register("I32", I32)
	Register("I64", I64)
	Register("F32", F32)
	Register("F64", F64)
	Register("bool", Bool)
	Register("string", String)
}
