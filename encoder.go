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

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"

	"github.com/fprime-tools/chanwatch/csv"
	"github.com/fprime-tools/chanwatch/protocol"
)

// JSON, CSV and plain text all implement this interface so we can simplify
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

// NewEncoder returns the encoder for format writing to w.
func NewEncoder(format, timestampFormat string, w io.Writer) (Encoder, error) {
	switch format {
	case "plain":
		ts, err := strftime.New(timestampFormat)
		if err != nil {
			return nil, errors.Wrap(err, "timestamp format")
		}
		return PlainEncoder{w, ts}, nil
	case "csv":
		return csv.NewEncoderWithHeader(w, "time", "id", "name", "value"), nil
	case "json":
		return json.NewEncoder(w), nil
	}

	return nil, errors.Errorf("invalid output format: %q", format)
}

// PlainEncoder writes samples as "<timestamp>: <name> = <value>".
type PlainEncoder struct {
	w  io.Writer
	ts *strftime.Strftime
}

func (pe PlainEncoder) Encode(v interface{}) (err error) {
	s, ok := v.(protocol.ChannelSample)
	if !ok {
		_, err = fmt.Fprintln(pe.w, v)
		return
	}

	t := s.Time.Time()
	switch value := s.Value.(type) {
	case []byte:
		_, err = fmt.Fprintf(pe.w, "%s: %s = 0x%X\n", pe.ts.FormatString(t), s.Name, value)
	default:
		_, err = fmt.Fprintf(pe.w, "%s: %s = %v\n", pe.ts.FormatString(t), s.Name, value)
	}
	return
}
