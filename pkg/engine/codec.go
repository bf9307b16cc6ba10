package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxFrameSize bounds decoded payloads.
const maxFrameSize = 1 << 30

var ErrBadEncoding = errors.New("bad tensor encoding")

// WriteFrame writes an engine payload: a magic byte, the payload length and
// the payload.
func WriteFrame(w io.Writer, magic byte, payload []byte) error {
	var header [9]byte
	header[0] = magic
	binary.LittleEndian.PutUint64(header[1:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}
	n := binary.LittleEndian.Uint64(header[1:])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrBadEncoding, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return header[0], payload, nil
}

// Decoder consumes a payload built with the protowire append functions.
type Decoder struct {
	buf []byte
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) fail(n int) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %v", ErrBadEncoding, protowire.ParseError(n))
	}
	d.buf = nil
}

func (d *Decoder) Varint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		d.fail(n)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *Decoder) String() string {
	if d.err != nil {
		return ""
	}
	v, n := protowire.ConsumeString(d.buf)
	if n < 0 {
		d.fail(n)
		return ""
	}
	d.buf = d.buf[n:]
	return v
}

func (d *Decoder) Fixed64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(d.buf)
	if n < 0 {
		d.fail(n)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// Failed reports the first decoding error.
func (d *Decoder) Failed() error { return d.err }

// Err reports the first decoding error, or trailing bytes.
func (d *Decoder) Err() error {
	if d.err == nil && len(d.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadEncoding, len(d.buf))
	}
	return d.err
}
