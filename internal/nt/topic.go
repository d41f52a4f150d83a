package nt

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/codec"
)

// SchemaPrefix is the key prefix under which type schemas are published.
const SchemaPrefix = ".schema/"

// ServerTime is the clock domain of a store's server timestamps. All values
// exchanged on the wire are stamped in this domain.
type ServerTime struct {
	store Store
}

// ServerTimeOf returns the server-time domain of s. Domains for the same
// store compare equal.
func ServerTimeOf(s Store) ServerTime { return ServerTime{store: s} }

func (ServerTime) Name() string { return "nt-server" }

func (d ServerTime) Read() time.Duration {
	return time.Duration(d.store.Now()) * time.Microsecond
}

// Table groups topics under a common key prefix.
type Table struct {
	store  Store
	prefix string
}

// NewTable returns the table named name on store. Keys are "name/topic".
func NewTable(store Store, name string) *Table {
	return &Table{store: store, prefix: strings.TrimSuffix(name, "/") + "/"}
}

// Store returns the backing store.
func (t *Table) Store() Store { return t.store }

// Time returns the store's server-time domain.
func (t *Table) Time() ServerTime { return ServerTimeOf(t.store) }

// Key returns the full key of a topic in this table.
func (t *Table) Key(topic string) string { return t.prefix + topic }

// PublishSchemas publishes every schema in r under SchemaPrefix.
func (t *Table) PublishSchemas(r *codec.Registry) error {
	for _, e := range r.Entries() {
		if err := t.store.Set(SchemaPrefix+e.Name, e.Type, e.Data); err != nil {
			return fmt.Errorf("publish schema %s: %w", e.Name, err)
		}
	}
	return nil
}

// Entry is a decoded value, its server timestamp and the bytes it was
// decoded from.
type Entry[T any] struct {
	Value T
	Time  clock.Timestamp[ServerTime]
	Raw   Value
}

// Subscriber reads the latest value of one topic.
type Subscriber[T any] struct {
	key    string
	store  Store
	domain ServerTime
	codec  codec.Codec[T]
	closed atomic.Bool
}

// Subscribe returns a subscriber for topic in t.
func Subscribe[T any](t *Table, topic string, c codec.Codec[T]) *Subscriber[T] {
	return &Subscriber[T]{key: t.Key(topic), store: t.store, domain: t.Time(), codec: c}
}

// Key returns the full topic key.
func (s *Subscriber[T]) Key() string { return s.key }

// GetAtomic returns the latest value together with its timestamp. ok is false
// when nothing has been published or the subscriber is closed. A value that
// was published with a different type or does not decode is an error.
func (s *Subscriber[T]) GetAtomic() (e Entry[T], ok bool, err error) {
	if s.closed.Load() {
		return e, false, nil
	}
	raw, found := s.store.Get(s.key)
	if !found {
		return e, false, nil
	}
	e.Time = clock.FromMicros(s.domain, raw.Timestamp)
	e.Raw = raw
	if want := s.codec.TypeString(); raw.Type != want {
		return e, false, fmt.Errorf("%s: published as %q, want %q", s.key, raw.Type, want)
	}
	v, err := s.codec.Decode(raw.Data)
	if err != nil {
		return e, false, fmt.Errorf("%s: %w", s.key, err)
	}
	e.Value = v
	return e, true, nil
}

// Raw returns the undecoded latest value.
func (s *Subscriber[T]) Raw() (Value, bool) {
	if s.closed.Load() {
		return Value{}, false
	}
	return s.store.Get(s.key)
}

// Close releases the subscription. Further reads report no value.
func (s *Subscriber[T]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: subscriber %w", s.key, ErrClosed)
	}
	return nil
}

// Publisher writes values of one topic.
type Publisher[T any] struct {
	key    string
	store  Store
	codec  codec.Codec[T]
	closed atomic.Bool
}

// Publish returns a publisher for topic in t.
func Publish[T any](t *Table, topic string, c codec.Codec[T]) *Publisher[T] {
	return &Publisher[T]{key: t.Key(topic), store: t.store, codec: c}
}

// Key returns the full topic key.
func (p *Publisher[T]) Key() string { return p.key }

// Set encodes and publishes v.
func (p *Publisher[T]) Set(v T) error {
	if p.closed.Load() {
		return fmt.Errorf("%s: publisher %w", p.key, ErrClosed)
	}
	b, err := p.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%s: %w", p.key, err)
	}
	return p.SetRaw(b)
}

// SetRaw publishes already-encoded bytes with the publisher's type.
func (p *Publisher[T]) SetRaw(b []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("%s: publisher %w", p.key, ErrClosed)
	}
	return p.store.Set(p.key, p.codec.TypeString(), b)
}

// Close releases the publisher. Further writes fail with ErrClosed.
func (p *Publisher[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: publisher %w", p.key, ErrClosed)
	}
	return nil
}
