package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReader_Fields(t *testing.T) {
	w := NewWriter(64)
	w.Uint(0)
	w.Uint(300)
	w.Uint(MaxUint)
	w.Byte(0xab)
	w.Bool(true)
	w.Fixed([]byte{1, 2, 3})
	w.Bytes([]byte("reason"))
	w.Bytes(nil)

	r := NewReader(w.Data())
	if got := r.Uint(); got != 0 {
		t.Errorf("Uint() = %d, want 0", got)
	}
	if got := r.Uint(); got != 300 {
		t.Errorf("Uint() = %d, want 300", got)
	}
	if got := r.Uint(); got != MaxUint {
		t.Errorf("Uint() = %d, want MaxUint", got)
	}
	if got := r.Byte(); got != 0xab {
		t.Errorf("Byte() = %x, want ab", got)
	}
	if !r.Bool() {
		t.Error("Bool() = false, want true")
	}
	var fixed [3]byte
	r.Fixed(fixed[:])
	if fixed != [3]byte{1, 2, 3} {
		t.Errorf("Fixed() = %v", fixed)
	}
	if got := r.Bytes(16); string(got) != "reason" {
		t.Errorf("Bytes() = %q, want reason", got)
	}
	if got := r.Bytes(16); got != nil {
		t.Errorf("Bytes() = %v, want nil", got)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
}

func TestReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader)
		want error
	}{
		{"empty varint", nil, func(r *Reader) { r.Uint() }, ErrShortBuffer},
		{"truncated varint", []byte{0x80}, func(r *Reader) { r.Uint() }, ErrShortBuffer},
		{"non-minimal varint", []byte{0x81, 0x00}, func(r *Reader) { r.Uint() }, ErrBadVarint},
		{"short fixed", []byte{1, 2}, func(r *Reader) { r.Fixed(make([]byte, 3)) }, ErrShortBuffer},
		{"short bytes", []byte{5, 'a'}, func(r *Reader) { r.Bytes(10) }, ErrShortBuffer},
		{"bytes too long", []byte{5, 'a', 'b', 'c', 'd', 'e'}, func(r *Reader) { r.Bytes(4) }, ErrTooLong},
		{"count too large", []byte{9}, func(r *Reader) { r.Count(8) }, ErrTooLong},
		{"trailing", []byte{1, 2}, func(r *Reader) { r.Byte() }, ErrTrailingBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			tt.read(r)
			if err := r.Finish(); !errors.Is(err, tt.want) {
				t.Errorf("Finish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReader_InvalidBool(t *testing.T) {
	r := NewReader([]byte{2})
	r.Bool()
	if r.Err() == nil {
		t.Error("expected error for bool byte 2")
	}
}

func TestReader_StickyError(t *testing.T) {
	r := NewReader([]byte{})
	r.Byte()
	first := r.Err()
	r.Uint()
	r.Bytes(4)
	if r.Err() != first {
		t.Error("first error should stick")
	}
}

func TestReader_BytesIsCopy(t *testing.T) {
	w := NewWriter(8)
	w.Bytes([]byte("abc"))
	data := w.Data()

	got := NewReader(data).Bytes(8)
	data[1] = 'z'
	if !bytes.Equal(got, []byte("abc")) {
		t.Error("Bytes() should not alias the input buffer")
	}
}
