package codec

import (
	"encoding/binary"
	"math"
)

// Writer is a little-endian cursor over a fixed buffer. It never grows the
// buffer; a write past the end sets a sticky ErrSize and is discarded.
type Writer struct {
	buf []byte
	off int
	err error
}

// NewWriter returns a Writer positioned at the start of buf.
func NewWriter(buf []byte) *Writer { return &Writer{buf: buf} }

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int { return w.off }

// Bytes returns the written prefix of the buffer.
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

func (w *Writer) next(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.off+n > len(w.buf) {
		w.err = sizeError("write", w.off+n, len(w.buf))
		return nil
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *Writer) PutUint32(v uint32) {
	if b := w.next(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *Writer) PutInt64(v int64) {
	if b := w.next(8); b != nil {
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func (w *Writer) PutFloat64(v float64) {
	if b := w.next(8); b != nil {
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// Reader is the read-side counterpart of Writer. Reads past the end set a
// sticky ErrSize and return zero.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = sizeError("read", r.off+n, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) Int64() int64 {
	if b := r.next(8); b != nil {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func (r *Reader) Float64() float64 {
	if b := r.next(8); b != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}
