package datalog

import (
	"fmt"

	"github.com/mailmindlin/MOEnet-2024/internal/codec"
)

// StructEntry is a typed view of one log entry whose values are packed with
// a fixed-size struct codec.
type StructEntry[T any] struct {
	db   *DB
	name string
	s    codec.Struct[T]
}

// NewStructEntry registers the schemas of s and returns the entry.
func NewStructEntry[T any](db *DB, name string, s codec.Struct[T]) (*StructEntry[T], error) {
	reg := codec.NewRegistry()
	reg.AddStruct(s)
	for _, e := range reg.Entries() {
		if err := db.RegisterSchema(e.Name, e.Type, e.Data); err != nil {
			return nil, err
		}
	}
	return &StructEntry[T]{db: db, name: name, s: s}, nil
}

// Append packs v and appends it with the given timestamp.
func (e *StructEntry[T]) Append(v T, tsMicros int64) error {
	b, err := codec.Marshal(e.s, v)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return e.db.Append(e.name, codec.StructTypeString(e.s), b, tsMicros)
}

// StructRecord is a decoded value and its timestamp.
type StructRecord[T any] struct {
	TsMicros int64
	Value    T
}

// Records decodes every value of the entry in insertion order. Values of a
// different type are an error.
func (e *StructEntry[T]) Records() ([]StructRecord[T], error) {
	raw, err := e.db.Records(e.name)
	if err != nil {
		return nil, err
	}
	want := codec.StructTypeString(e.s)
	out := make([]StructRecord[T], 0, len(raw))
	for _, r := range raw {
		if r.Type != want {
			return nil, fmt.Errorf("%s: record of type %q, want %q", e.name, r.Type, want)
		}
		v, err := codec.Unmarshal(e.s, r.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		out = append(out, StructRecord[T]{TsMicros: r.TsMicros, Value: v})
	}
	return out, nil
}
