// Package codec converts link records to and from their wire bytes.
//
// Fixed-size records use the WPILib struct layout: packed little-endian
// fields described by a schema string such as "double x;double y;double z".
// Variable-length records (object detection batches) use protobuf.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrSize is returned when a buffer does not match the expected size.
	ErrSize = errors.New("codec: buffer size mismatch")

	// ErrMalformed is returned for input that is not valid wire data.
	ErrMalformed = errors.New("codec: malformed input")

	// ErrLabelIndexOutOfRange is returned when a detection references a label
	// missing from its batch's dictionary.
	ErrLabelIndexOutOfRange = errors.New("codec: label index out of range")
)

func sizeError(op string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d bytes, buffer has %d", ErrSize, op, need, have)
}

// Codec converts values of T to and from bytes.
type Codec[T any] interface {
	// TypeString identifies the encoding, e.g. "struct:Pose3d".
	TypeString() string
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
	// AddSchemas records every schema needed to decode T.
	AddSchemas(r *Registry)
}

// Descriptor describes a fixed-size struct layout.
type Descriptor interface {
	// TypeName is the bare struct name used inside other schemas.
	TypeName() string
	Schema() string
	Size() int
	// Nested returns the descriptors of structs embedded in this one.
	Nested() []Descriptor
}

// Struct packs and unpacks fixed-size values of T. Pack and Unpack advance
// the cursor by exactly Size() bytes.
type Struct[T any] interface {
	Descriptor
	Pack(w *Writer, v T)
	Unpack(r *Reader) T
}

// StructTypeString returns the type string of a struct descriptor.
func StructTypeString(d Descriptor) string { return "struct:" + d.TypeName() }

// Marshal packs v into a new buffer of exactly s.Size() bytes.
func Marshal[T any](s Struct[T], v T) ([]byte, error) {
	w := NewWriter(make([]byte, s.Size()))
	s.Pack(w, v)
	if err := w.Err(); err != nil {
		return nil, err
	}
	if w.Offset() != s.Size() {
		return nil, sizeError("pack "+s.TypeName(), s.Size(), w.Offset())
	}
	return w.Bytes(), nil
}

// Unmarshal unpacks a value from b, which must be exactly s.Size() bytes.
func Unmarshal[T any](s Struct[T], b []byte) (T, error) {
	var zero T
	if len(b) != s.Size() {
		return zero, fmt.Errorf("%w: %s is %d bytes, got %d", ErrSize, s.TypeName(), s.Size(), len(b))
	}
	r := NewReader(b)
	v := s.Unpack(r)
	if err := r.Err(); err != nil {
		return zero, err
	}
	return v, nil
}

type structCodec[T any] struct {
	s Struct[T]
}

// ForStruct adapts a struct layout into a Codec.
func ForStruct[T any](s Struct[T]) Codec[T] { return structCodec[T]{s: s} }

func (c structCodec[T]) TypeString() string         { return StructTypeString(c.s) }
func (c structCodec[T]) Encode(v T) ([]byte, error) { return Marshal(c.s, v) }
func (c structCodec[T]) Decode(b []byte) (T, error) { return Unmarshal(c.s, b) }
func (c structCodec[T]) AddSchemas(r *Registry)     { r.AddStruct(c.s) }
