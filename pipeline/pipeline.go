// Package pipeline connects to a GDS TCP server and delivers decoded
// telemetry channel samples to registered consumers.
package pipeline

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fprime-tools/chanwatch/decode"
	"github.com/fprime-tools/chanwatch/dictionary"
	"github.com/fprime-tools/chanwatch/framing"
	"github.com/fprime-tools/chanwatch/protocol"
)

// Registration is the line a ground client sends after connecting so the
// server routes flight data to it.
const Registration = "Register GUI\n"

// Config holds everything needed to build a pipeline.
type Config struct {
	Address        string
	Port           int
	Dictionary     string
	Framing        string
	ConnectTimeout time.Duration

	// MaxPacketLength bounds accepted packets, 0 for the framing default.
	MaxPacketLength int
}

func (cfg Config) Addr() string {
	return net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
}

// Stats counts what the delivery goroutine has seen.
type Stats struct {
	Packets   int
	Samples   int
	Skipped   int
	BadFrames int

	// Discarded counts bytes skipped hunting for F Prime frame start words.
	Discarded int
}

// Pipeline owns one connection and the goroutine reading from it. Samples
// are delivered to consumers from that single goroutine, in arrival order.
type Pipeline struct {
	cfg Config
	log logrus.FieldLogger

	conn     net.Conn
	dicts    *dictionary.Dictionaries
	decoder  *decode.Decoder
	deframer framing.Deframer

	mu        sync.Mutex
	consumers []protocol.ChannelConsumer
	stats     Stats
	stopping  bool

	done chan struct{}
	err  error

	disconnect sync.Once
}

// New loads the dictionary, connects, registers with the server and starts
// delivery. Consumers registered later only see samples arriving after
// their registration.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Pipeline, error) {
	dicts, err := dictionary.ReadFile(cfg.Dictionary)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"path":       cfg.Dictionary,
		"deployment": dicts.Metadata.DeploymentName,
		"channels":   len(dicts.ChannelID),
	}).Info("loaded dictionary")

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, errors.Wrap(err, "connecting to gds")
	}

	p, err := newPipeline(cfg, log, conn, dicts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := io.WriteString(conn, Registration); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "registering with gds")
	}

	log.WithFields(logrus.Fields{
		"addr":    cfg.Addr(),
		"framing": cfg.Framing,
	}).Info("connected")

	go p.run()

	return p, nil
}

func newPipeline(cfg Config, log logrus.FieldLogger, conn net.Conn, dicts *dictionary.Dictionaries) (*Pipeline, error) {
	deframer, err := framing.New(cfg.Framing, conn, cfg.MaxPacketLength)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		dicts:    dicts,
		decoder:  decode.NewDecoder(dicts),
		deframer: deframer,
		done:     make(chan struct{}),
	}, nil
}

// Dictionaries returns the loaded dictionary indexes.
func (p *Pipeline) Dictionaries() *dictionary.Dictionaries {
	return p.dicts
}

// RegisterChannelConsumer adds c to the consumers of every channel sample.
func (p *Pipeline) RegisterChannelConsumer(c protocol.ChannelConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consumers = append(p.consumers, c)
}

// Done is closed when the delivery goroutine exits.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Err blocks until delivery stops and returns why. It is nil when delivery
// stopped because of Disconnect.
func (p *Pipeline) Err() error {
	<-p.done
	return p.err
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

// Disconnect closes the connection and waits for delivery to stop. It is
// safe to call more than once.
func (p *Pipeline) Disconnect() (err error) {
	p.disconnect.Do(func() {
		p.mu.Lock()
		p.stopping = true
		p.mu.Unlock()

		err = p.conn.Close()
		<-p.done

		stats := p.Stats()
		p.log.WithFields(logrus.Fields{
			"packets":    stats.Packets,
			"samples":    stats.Samples,
			"skipped":    stats.Skipped,
			"bad_frames": stats.BadFrames,
			"discarded":  stats.Discarded,
		}).Info("disconnected")
	})

	return errors.Wrap(err, "disconnecting")
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		pkt, err := p.deframer.Next()
		if fd, ok := p.deframer.(*framing.FprimeDeframer); ok {
			discarded := fd.Discarded
			p.count(func(s *Stats) { s.Discarded = discarded })
		}

		if err != nil {
			if framing.Recoverable(err) {
				p.count(func(s *Stats) { s.BadFrames++ })
				p.log.WithError(err).Warn("dropped frame")
				continue
			}

			p.mu.Lock()
			stopping := p.stopping
			p.mu.Unlock()
			if stopping {
				return
			}

			// If we get a network operation error that is temporary, keep
			// reading.
			if opErr, ok := err.(*net.OpError); ok && opErr.Temporary() {
				p.log.WithError(opErr).Warn("temporary read error")
				continue
			}

			if err == io.EOF || err == io.ErrUnexpectedEOF {
				p.log.WithError(err).Warn("encountered eof")
				p.err = errors.Wrap(err, "gds closed the connection")
				return
			}

			p.err = errors.Wrap(err, "reading from gds")
			return
		}

		p.count(func(s *Stats) { s.Packets++ })
		p.deliver(pkt)
	}
}

func (p *Pipeline) deliver(pkt []byte) {
	sample, err := p.decoder.Decode(pkt)
	if err != nil {
		p.count(func(s *Stats) { s.Skipped++ })

		if errors.Cause(err) == decode.ErrNotTelemetry {
			p.log.WithError(err).Debug("skipped packet")
		} else {
			p.log.WithError(err).Warn("undecodable packet")
		}
		return
	}

	p.mu.Lock()
	consumers := make([]protocol.ChannelConsumer, len(p.consumers))
	copy(consumers, p.consumers)
	p.stats.Samples++
	p.mu.Unlock()

	for _, c := range consumers {
		c.Update(sample)
	}
}

func (p *Pipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
