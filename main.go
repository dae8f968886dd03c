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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/fprime-tools/chanwatch/dictionary"
	"github.com/fprime-tools/chanwatch/protocol"
)

// Pipeline is what the client needs from a connected telemetry pipeline.
type Pipeline interface {
	Dictionaries() *dictionary.Dictionaries
	RegisterChannelConsumer(protocol.ChannelConsumer)

	// Done is closed if delivery stops on its own; Err then says why.
	Done() <-chan struct{}
	Err() error

	Disconnect() error
}

// PipelineFactory builds a connected pipeline.
type PipelineFactory func(ctx context.Context) (Pipeline, error)

// errStopped is reported when a pipeline stops delivering without a reason.
var errStopped = errors.New("pipeline stopped")

// Driver runs the client: build the pipeline, register a SpecificChannel,
// dump it periodically until interrupted.
type Driver struct {
	Factory     PipelineFactory
	ChannelName string

	DumpInterval time.Duration
	Duration     time.Duration
	Follow       bool
	Output       Encoder

	Interrupt <-chan os.Signal
	Stderr    io.Writer
	Log       logrus.FieldLogger
}

// Run returns once the client has stopped. Failures are reported on Stderr
// and are not returned; the pipeline is disconnected whenever it was built.
func (d Driver) Run(ctx context.Context) {
	d.Log.WithFields(logrus.Fields{
		"channel":       d.ChannelName,
		"dump_interval": d.DumpInterval,
		"duration":      d.Duration,
		"follow":        d.Follow,
	}).Info("starting")

	// An interrupt cancels ctx, so it also ends a connect in progress.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.Interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	p, err := d.Factory(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.report(err)
		}
		return
	}

	if err := d.run(ctx, p); err != nil {
		d.report(err)
	}

	if err := p.Disconnect(); err != nil {
		d.Log.WithError(err).Warn("disconnect failed")
	}
}

func (d Driver) run(ctx context.Context, p Pipeline) error {
	handler, err := NewSpecificChannel(p.Dictionaries().ChannelName, d.ChannelName)
	if err != nil {
		return err
	}

	if d.Follow {
		handler.Follow(d.Output, d.Log)
	}

	p.RegisterChannelConsumer(handler)

	ticker := time.NewTicker(d.DumpInterval)
	defer ticker.Stop()

	// Setup time limit channel, nil blocks forever.
	var tLimit <-chan time.Time
	if d.Duration != 0 {
		tLimit = time.After(d.Duration)
	}
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tLimit:
			d.Log.WithField("elapsed", time.Since(start)).Info("time limit reached")
			return nil
		case <-p.Done():
			if err := p.Err(); err != nil {
				return err
			}
			return errStopped
		case <-ticker.C:
			if err := handler.Dump(d.Output); err != nil {
				return errors.Wrap(err, "dumping last values")
			}
		}
	}
}

func (d Driver) report(err error) {
	var unknown *dictionary.UnknownChannelError
	if errors.As(err, &unknown) {
		fmt.Fprintf(d.Stderr, "[ERROR] Unknown channel name: '%s'\n\t%s\n", unknown.Name, strings.Join(unknown.Valid, "\n\t"))
		return
	}

	fmt.Fprintf(d.Stderr, "[ERROR] Failed to run example code: %v\n", err)
}

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

func main() {
	standard := &StandardPipelineParser{}
	channel := &ChannelNameParser{}
	output := &OutputParser{}

	fs, err := ParseArgs(os.Args[0], os.Args[1:], standard, channel, output)
	if err == pflag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n%s", os.Args[0], fs.FlagUsages())
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", os.Args[0], err)
		os.Exit(2)
	}

	if output.Version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	log, err := NewLogger(output.LogLevel, output.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to run example code: %v\n", err)
		return
	}

	enc, err := NewEncoder(output.Format, output.TimestampFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to run example code: %v\n", err)
		return
	}

	// Setup signal channel for interruption.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	Driver{
		Factory:      standard.PipelineFactory(log),
		ChannelName:  channel.ChannelName,
		DumpInterval: output.DumpInterval,
		Duration:     output.Duration,
		Follow:       output.Follow,
		Output:       enc,
		Interrupt:    sigint,
		Stderr:       os.Stderr,
		Log:          log,
	}.Run(context.Background())
}
