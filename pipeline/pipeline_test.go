package pipeline

import (
	"bufio"
	"context"
	"io/ioutil"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fprime-tools/chanwatch/decode"
	"github.com/fprime-tools/chanwatch/gen"
	"github.com/fprime-tools/chanwatch/protocol"
)

const dictionaryJSON = `{
  "metadata": {"deploymentName": "Ref"},
  "telemetryChannels": [
    {"name": "blockDrv.BD_Cycles", "id": 7, "type": {"name": "U32", "kind": "integer", "size": 32}},
    {"name": "pingRcvr.Temperature", "id": 300, "type": {"name": "F32", "kind": "float", "size": 32}},
  ],
}`

type recorder struct {
	sync.Mutex
	samples []protocol.ChannelSample
	ch      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan struct{}, 64)}
}

func (r *recorder) Update(s protocol.ChannelSample) {
	r.Lock()
	r.samples = append(r.samples, s)
	r.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []protocol.ChannelSample {
	t.Helper()

	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for sample %d of %d", i+1, n)
		}
	}

	r.Lock()
	defer r.Unlock()
	return append([]protocol.ChannelSample(nil), r.samples...)
}

// server accepts one client, checks its registration and hands the
// connection to the test.
func server(t *testing.T) (Config, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	path := filepath.Join(t.TempDir(), "dictionary.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(dictionaryJSON), 0644))

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || line != Registration {
			conn.Close()
			return
		}
		conns <- conn
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Config{
		Address:        addr.IP.String(),
		Port:           addr.Port,
		Dictionary:     path,
		Framing:        "packet",
		ConnectTimeout: time.Second,
	}, conns
}

func accept(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()

	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("client never registered")
	}
	return nil
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func TestDeliveryInOrder(t *testing.T) {
	for _, framingName := range []string{"packet", "fprime"} {
		t.Run(framingName, func(t *testing.T) {
			cfg, conns := server(t)
			cfg.Framing = framingName

			p, err := New(context.Background(), cfg, quietLogger())
			require.NoError(t, err)
			defer p.Disconnect()

			rec := newRecorder()
			p.RegisterChannelConsumer(rec)

			assert.Contains(t, p.Dictionaries().ChannelName, "blockDrv.BD_Cycles")

			conn := accept(t, conns)

			var stream []byte
			for i := uint32(0); i < 5; i++ {
				ts := protocol.Time{Seconds: 1689793160 + 2*i}
				stream = append(stream, gen.Frame(framingName, gen.NewTelemetryPacket(7, ts, gen.U32(1275+2*i)))...)
			}
			stream = append(stream, gen.Frame(framingName, gen.NewTelemetryPacket(300, protocol.Time{}, gen.F32(21.5)))...)
			_, err = conn.Write(stream)
			require.NoError(t, err)

			samples := rec.wait(t, 6)
			for i := 0; i < 5; i++ {
				assert.Equal(t, "blockDrv.BD_Cycles", samples[i].Name)
				assert.Equal(t, uint32(1275+2*i), samples[i].Value)
			}
			assert.Equal(t, float32(21.5), samples[5].Value)
		})
	}
}

func TestSkipsOtherPackets(t *testing.T) {
	cfg, conns := server(t)

	p, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer p.Disconnect()

	rec := newRecorder()
	p.RegisterChannelConsumer(rec)

	conn := accept(t, conns)

	var stream []byte
	stream = append(stream, gen.Frame("packet", gen.NewPacket(decode.PacketLog, []byte{1, 2, 3}))...)
	stream = append(stream, gen.Frame("packet", gen.NewTelemetryPacket(99, protocol.Time{}, gen.U32(1)))...)
	stream = append(stream, gen.Frame("packet", gen.NewTelemetryPacket(7, protocol.Time{}, gen.U32(42)))...)
	_, err = conn.Write(stream)
	require.NoError(t, err)

	samples := rec.wait(t, 1)
	assert.Equal(t, uint32(42), samples[0].Value)

	stats := p.Stats()
	assert.Equal(t, 3, stats.Packets)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, stats.Samples)
}

func TestDisconnect(t *testing.T) {
	cfg, conns := server(t)

	p, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	accept(t, conns)

	require.NoError(t, p.Disconnect())
	require.NoError(t, p.Disconnect())

	select {
	case <-p.Done():
	default:
		t.Fatal("delivery still running after disconnect")
	}
	assert.NoError(t, p.Err())
}

func TestServerClose(t *testing.T) {
	cfg, conns := server(t)

	p, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer p.Disconnect()

	accept(t, conns).Close()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not stop")
	}
	assert.Error(t, p.Err())
}

func TestConnectErrors(t *testing.T) {
	cfg, _ := server(t)

	bad := cfg
	bad.Dictionary = filepath.Join(t.TempDir(), "missing.json")
	_, err := New(context.Background(), bad, quietLogger())
	assert.Error(t, err)

	// Nothing listens on a port we just released.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := cfg
	closed.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	_, err = New(context.Background(), closed, quietLogger())
	assert.Error(t, err)

	framingErr := cfg
	framingErr.Framing = "ccsds"
	_, err = New(context.Background(), framingErr, quietLogger())
	assert.Error(t, err)
}

func TestErrorsCarryCause(t *testing.T) {
	cfg, _ := server(t)
	cfg.Dictionary = filepath.Join(t.TempDir(), "missing.json")

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.NotNil(t, errors.Cause(err))
	assert.Contains(t, err.Error(), "reading dictionary")
}

func TestFprimeResyncStats(t *testing.T) {
	cfg, conns := server(t)
	cfg.Framing = "fprime"

	p, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer p.Disconnect()

	rec := newRecorder()
	p.RegisterChannelConsumer(rec)

	conn := accept(t, conns)

	corrupt := gen.Frame("fprime", gen.NewTelemetryPacket(7, protocol.Time{}, gen.U32(1)))
	corrupt[len(corrupt)-1] ^= 0xFF

	var stream []byte
	stream = append(stream, 0x01, 0x02, 0x03)
	stream = append(stream, corrupt...)
	stream = append(stream, gen.Frame("fprime", gen.NewTelemetryPacket(7, protocol.Time{}, gen.U32(42)))...)
	_, err = conn.Write(stream)
	require.NoError(t, err)

	samples := rec.wait(t, 1)
	assert.Equal(t, uint32(42), samples[0].Value)

	stats := p.Stats()
	assert.Equal(t, 1, stats.BadFrames)
	assert.Equal(t, 3+len(corrupt), stats.Discarded)
	assert.Equal(t, 1, stats.Samples)
}
