package protocol

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fprime-tools/chanwatch/csv"
)

const (
	TimeFormat = "2006-01-02T15:04:05.000"
)

// Time is a flight software timestamp as serialized in telemetry packets.
type Time struct {
	Base     uint16 `json:"base"`
	Context  uint8  `json:"context"`
	Seconds  uint32 `json:"seconds"`
	USeconds uint32 `json:"useconds"`
}

// NewTime splits t into whole seconds and microseconds.
func NewTime(t time.Time) Time {
	return Time{
		Seconds:  uint32(t.Unix()),
		USeconds: uint32(t.Nanosecond() / 1e3),
	}
}

// Time interprets the seconds as a unix epoch.
func (t Time) Time() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.USeconds)*1e3).UTC()
}

func (t Time) String() string {
	return fmt.Sprintf("(%d)(%d) %d.%06d", t.Base, t.Context, t.Seconds, t.USeconds)
}

// ChannelSample is one decoded value of a telemetry channel.
type ChannelSample struct {
	ID    uint32      `json:"id"`
	Name  string      `json:"name"`
	Time  Time        `json:"time"`
	Value interface{} `json:"value"`
}

func (s ChannelSample) String() string {
	return fmt.Sprintf("{Time:%s %s:%v}", s.Time.Time().Format(TimeFormat), s.Name, s.Value)
}

// Record implements csv.Recorder.
func (s ChannelSample) Record() (r []string) {
	r = append(r, s.Time.Time().Format(time.RFC3339Nano))
	r = append(r, strconv.FormatUint(uint64(s.ID), 10))
	r = append(r, s.Name)
	r = append(r, fmt.Sprint(s.Value))
	return r
}

var _ csv.Recorder = ChannelSample{}

// A ChannelConsumer receives every channel sample a pipeline delivers.
type ChannelConsumer interface {
	Update(ChannelSample)
}

// A FilterChain takes a list of filters and applies them iteratively to
// samples sent through the chain.
type FilterChain []SampleFilter

func (fc *FilterChain) Add(filter SampleFilter) {
	*fc = append(*fc, filter)
}

func (fc FilterChain) Match(s ChannelSample) bool {
	if len(fc) == 0 {
		return true
	}

	for _, filter := range fc {
		if !filter.Filter(s) {
			return false
		}
	}

	return true
}

type SampleFilter interface {
	Filter(ChannelSample) bool
}

// IDFilter accepts samples of a single channel identifier.
type IDFilter uint32

func (f IDFilter) Filter(s ChannelSample) bool {
	return s.ID == uint32(f)
}
