package codec

import (
	"encoding/binary"
	"fmt"
)

// Int64 encodes integers as 8 little-endian bytes.
type Int64 struct{}

func (Int64) TypeString() string   { return "int" }
func (Int64) AddSchemas(*Registry) {}

func (Int64) Encode(v int64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, uint64(v)), nil
}

func (Int64) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: int is 8 bytes, got %d", ErrSize, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Bool encodes booleans as a single byte.
type Bool struct{}

func (Bool) TypeString() string   { return "boolean" }
func (Bool) AddSchemas(*Registry) {}

func (Bool) Encode(v bool) ([]byte, error) {
	if v {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (Bool) Decode(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("%w: boolean is 1 byte, got %d", ErrSize, len(b))
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: boolean byte %#x", ErrMalformed, b[0])
}

// String passes UTF-8 text through unchanged.
type String struct{}

func (String) TypeString() string              { return "string" }
func (String) AddSchemas(*Registry)            {}
func (String) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
