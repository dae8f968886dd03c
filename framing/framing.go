// Package framing splits a GDS byte stream into packets.
package framing

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/fprime-tools/chanwatch/crc"
)

const (
	// StartWord leads every F Prime frame.
	StartWord uint32 = 0xDEADBEEF

	// DefaultMaxLength bounds the packets a deframer accepts.
	DefaultMaxLength = 64 << 10

	fprimeHeaderLength = 8
	checksumLength     = 4
)

// Routing prefix the GDS TCP server may place ahead of each message, e.g.
// "A5A5 GUI ".
var routingPrefix = []byte("A5A5 ")

var (
	// ErrChecksum marks a frame whose checksum did not match. The deframer
	// has already skipped ahead and may be called again.
	ErrChecksum = errors.New("frame checksum mismatch")

	// ErrTooLarge marks a length field beyond the configured maximum.
	ErrTooLarge = errors.New("frame length exceeds maximum")
)

// Recoverable reports whether Next may be called again after err.
func Recoverable(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrChecksum || cause == ErrTooLarge
}

// A Deframer returns successive packets, packet descriptor first.
type Deframer interface {
	Next() ([]byte, error)
}

// Names lists the framings New accepts.
var Names = []string{"packet", "fprime"}

// New returns the named deframer reading from r.
func New(name string, r io.Reader, maxLength int) (Deframer, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	switch name {
	case "packet":
		return &PacketDeframer{r: bufio.NewReader(r), MaxLength: maxLength}, nil
	case "fprime":
		return &FprimeDeframer{
			r:         bufio.NewReaderSize(r, fprimeHeaderLength+maxLength+checksumLength),
			MaxLength: maxLength,
			crc:       crc.NewIEEE(),
		}, nil
	}

	return nil, errors.Errorf("invalid framing: %q", name)
}

// PacketDeframer reads U32 length prefixed packets, the form the GDS TCP
// server relays to clients.
type PacketDeframer struct {
	r         *bufio.Reader
	MaxLength int
}

func (d *PacketDeframer) Next() ([]byte, error) {
	if err := skipRouting(d.r); err != nil {
		return nil, err
	}

	var length uint32
	if err := binary.Read(d.r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	// No start word to resynchronize on, so an oversized length is fatal.
	if int(length) > d.MaxLength {
		return nil, errors.Errorf("packet length %d exceeds maximum %d", length, d.MaxLength)
	}

	pkt := make([]byte, length)
	if _, err := io.ReadFull(d.r, pkt); err != nil {
		return nil, err
	}

	return pkt, nil
}

func skipRouting(r *bufio.Reader) error {
	prefix, err := r.Peek(len(routingPrefix))
	if err != nil || !bytes.Equal(prefix, routingPrefix) {
		// Short reads surface from the length read that follows.
		return nil
	}

	if _, err := r.Discard(len(routingPrefix)); err != nil {
		return err
	}

	_, err = r.ReadSlice(' ')
	return err
}

// FprimeDeframer reads frames of the form
//
//	U32 0xDEADBEEF | U32 size | packet | U32 CRC-32
//
// where the checksum covers the header and packet.
type FprimeDeframer struct {
	r         *bufio.Reader
	MaxLength int
	crc       crc.CRC

	// Discarded counts bytes skipped while hunting for a start word.
	Discarded int
}

func (d *FprimeDeframer) Next() ([]byte, error) {
	for {
		word, err := d.r.Peek(4)
		if err != nil {
			return nil, err
		}

		if binary.BigEndian.Uint32(word) == StartWord {
			break
		}

		d.r.Discard(1)
		d.Discarded++
	}

	header, err := d.r.Peek(fprimeHeaderLength)
	if err != nil {
		return nil, err
	}

	size := int(binary.BigEndian.Uint32(header[4:]))
	if size > d.MaxLength {
		d.r.Discard(1)
		d.Discarded++
		return nil, errors.Wrapf(ErrTooLarge, "size %d", size)
	}

	frame, err := d.r.Peek(fprimeHeaderLength + size + checksumLength)
	if err != nil {
		return nil, err
	}

	body := frame[:fprimeHeaderLength+size]
	expected := binary.BigEndian.Uint32(frame[fprimeHeaderLength+size:])
	if actual := d.crc.Checksum(body); actual != expected {
		d.r.Discard(1)
		d.Discarded++
		return nil, errors.Wrapf(ErrChecksum, "expected 0x%08X got 0x%08X", expected, actual)
	}

	pkt := make([]byte, size)
	copy(pkt, frame[fprimeHeaderLength:])

	d.r.Discard(len(frame))

	return pkt, nil
}

// FramePacket prefixes pkt with its length.
func FramePacket(pkt []byte) []byte {
	frame := make([]byte, 4+len(pkt))
	binary.BigEndian.PutUint32(frame, uint32(len(pkt)))
	copy(frame[4:], pkt)
	return frame
}

// FrameFprime wraps pkt in an F Prime frame.
func FrameFprime(pkt []byte) []byte {
	frame := make([]byte, fprimeHeaderLength+len(pkt)+checksumLength)
	binary.BigEndian.PutUint32(frame, StartWord)
	binary.BigEndian.PutUint32(frame[4:], uint32(len(pkt)))
	copy(frame[fprimeHeaderLength:], pkt)

	body := frame[:fprimeHeaderLength+len(pkt)]
	binary.BigEndian.PutUint32(frame[len(body):], crc.NewIEEE().Checksum(body))

	return frame
}
