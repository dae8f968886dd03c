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
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fprime-tools/chanwatch/dictionary"
	"github.com/fprime-tools/chanwatch/protocol"
)

// SpecificChannel keeps the last sample received for every channel and
// resolves one channel, by name, to follow.
type SpecificChannel struct {
	id   uint32
	name string

	mu        sync.Mutex
	lastValue map[string]*protocol.ChannelSample

	// outMu serializes writes from the delivery goroutine and from Dump,
	// which may share one encoder.
	outMu sync.Mutex

	follow protocol.FilterChain
	echo   Encoder
	log    logrus.FieldLogger
}

// NewSpecificChannel tracks every channel in channelsByName and resolves
// name to its identifier. An unknown name fails with a
// *dictionary.UnknownChannelError.
func NewSpecificChannel(channelsByName map[string]dictionary.Channel, name string) (*SpecificChannel, error) {
	lastValue := make(map[string]*protocol.ChannelSample, len(channelsByName))
	for key := range channelsByName {
		lastValue[key] = nil
	}

	ch, err := dictionary.Lookup(channelsByName, name)
	if err != nil {
		return nil, err
	}

	h := &SpecificChannel{
		id:        ch.ID,
		name:      ch.Name,
		lastValue: lastValue,
	}
	h.follow.Add(protocol.IDFilter(ch.ID))

	return h, nil
}

// ID of the followed channel.
func (h *SpecificChannel) ID() uint32 {
	return h.id
}

// Follow writes every sample of the followed channel to enc as it arrives.
// Must be called before the handler is registered with a pipeline.
func (h *SpecificChannel) Follow(enc Encoder, log logrus.FieldLogger) {
	h.echo = enc
	h.log = log
}

// Update stores s as the last value of its channel, replacing any earlier
// sample.
func (h *SpecificChannel) Update(s protocol.ChannelSample) {
	h.mu.Lock()
	h.lastValue[s.Name] = &s
	h.mu.Unlock()

	if h.echo == nil || !h.follow.Match(s) {
		return
	}

	h.outMu.Lock()
	err := h.echo.Encode(s)
	h.outMu.Unlock()

	if err != nil {
		h.log.WithError(err).Warn("failed to print sample")
	}
}

// Last returns the last sample received for name.
func (h *SpecificChannel) Last(name string) (protocol.ChannelSample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.lastValue[name]
	if s == nil {
		return protocol.ChannelSample{}, false
	}
	return *s, true
}

// LastValue returns a copy of the mapping. Channels with nothing received
// yet map to nil.
func (h *SpecificChannel) LastValue() map[string]*protocol.ChannelSample {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := make(map[string]*protocol.ChannelSample, len(h.lastValue))
	for key, s := range h.lastValue {
		if s != nil {
			c := *s
			s = &c
		}
		m[key] = s
	}
	return m
}

// Dump writes the last value of every channel that has one, in name order.
func (h *SpecificChannel) Dump(enc Encoder) error {
	h.mu.Lock()
	samples := make([]protocol.ChannelSample, 0, len(h.lastValue))
	for _, s := range h.lastValue {
		if s != nil {
			samples = append(samples, *s)
		}
	}
	h.mu.Unlock()

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Name < samples[j].Name
	})

	h.outMu.Lock()
	defer h.outMu.Unlock()

	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}

	return nil
}
