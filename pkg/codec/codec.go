// Package codec is the canonical binary encoding shared by every ledger
// record. Integers are minimal unsigned varints, variable-length fields carry
// a varint length prefix, fixed-size fields are written raw. Decoding
// rejects non-minimal varints and trailing bytes, so decode followed by
// encode always reproduces the input.
package codec

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

// MaxUint is the largest integer the encoding carries.
const MaxUint = varint.MaxValueUvarint63

// Decoding errors.
var (
	ErrShortBuffer   = errors.New("codec: unexpected end of data")
	ErrTrailingBytes = errors.New("codec: trailing bytes after record")
	ErrTooLong       = errors.New("codec: field exceeds maximum length")
	ErrBadVarint     = errors.New("codec: malformed varint")
)

// Writer appends fields to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hint n.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Uint appends v as a minimal varint. Values above MaxUint are written but
// will not decode; callers validate ranges first.
func (w *Writer) Uint(v uint64) {
	w.buf = append(w.buf, varint.ToUvarint(v)...)
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// Fixed appends b with no length prefix.
func (w *Writer) Fixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes appends b prefixed by its length.
func (w *Writer) Bytes(b []byte) {
	w.Uint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// Bool appends 1 or 0.
func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// Data returns the encoded bytes.
func (w *Writer) Data() []byte {
	return w.buf
}

// Reader consumes fields from a buffer. The first error sticks; later reads
// return zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w at offset %d", err, r.off)
	}
}

// Uint reads a minimal varint.
func (r *Reader) Uint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.FromUvarint(r.buf[r.off:])
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			r.fail(ErrShortBuffer)
		} else {
			r.fail(fmt.Errorf("%w: %v", ErrBadVarint, err))
		}
		return 0
	}
	r.off += n
	return v
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.buf) {
		r.fail(ErrShortBuffer)
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

// Bool reads a byte that must be 0 or 1.
func (r *Reader) Bool() bool {
	switch b := r.Byte(); b {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("codec: invalid bool byte 0x%02x", b))
		return false
	}
}

// Fixed fills dst from the buffer.
func (r *Reader) Fixed(dst []byte) {
	if r.err != nil {
		return
	}
	if len(r.buf)-r.off < len(dst) {
		r.fail(ErrShortBuffer)
		return
	}
	copy(dst, r.buf[r.off:])
	r.off += len(dst)
}

// Bytes reads a length-prefixed field of at most max bytes. The result is
// a copy.
func (r *Reader) Bytes(max int) []byte {
	n := r.Uint()
	if r.err != nil {
		return nil
	}
	if n > uint64(max) {
		r.fail(fmt.Errorf("%w: %d > %d", ErrTooLong, n, max))
		return nil
	}
	if uint64(len(r.buf)-r.off) < n {
		r.fail(ErrShortBuffer)
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += int(n)
	return out
}

// Count reads a list length and checks it against max.
func (r *Reader) Count(max int) int {
	n := r.Uint()
	if r.err != nil {
		return 0
	}
	if n > uint64(max) {
		r.fail(fmt.Errorf("%w: %d items > %d", ErrTooLong, n, max))
		return 0
	}
	return int(n)
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Finish returns the first error, or ErrTrailingBytes if input remains.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return nil
}

// Remaining returns the unread bytes.
func (r *Reader) Remaining() []byte {
	return r.buf[r.off:]
}
