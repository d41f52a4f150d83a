// Package nt is the pub/sub key-value transport shared by the controller and
// the co-processor. Every value carries the server time, in microseconds, at
// which it was published; readers see the latest value per key.
package nt

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// ErrClosed is returned by operations on a closed store or topic.
var ErrClosed = errors.New("nt: closed")

// Value is the latest published value of a key.
type Value struct {
	// Type is the codec type string the value was published with.
	Type string
	Data []byte
	// Timestamp is the server time of publication, in microseconds.
	Timestamp int64
}

// Store is an ordered key-value store with per-key server timestamps.
type Store interface {
	// Now returns the current server time in microseconds.
	Now() int64
	// Get returns the latest value of key. It never blocks on the network.
	Get(key string) (Value, bool)
	// Set publishes data under key, stamped with the current server time.
	Set(key, typ string, data []byte) error
	Close() error
}

// MemoryStore is an in-process Store. Both sides of a link can share one in
// tests and in the simulator.
type MemoryStore struct {
	clock timeutil.Clock
	epoch time.Time

	mu     sync.RWMutex
	values map[string]Value
	closed bool
}

// NewMemoryStore returns an empty store whose server time starts at zero now.
func NewMemoryStore(c timeutil.Clock) *MemoryStore {
	return &MemoryStore{
		clock:  c,
		epoch:  c.Now(),
		values: make(map[string]Value),
	}
}

func (s *MemoryStore) Now() int64 {
	return s.clock.Since(s.epoch).Microseconds()
}

func (s *MemoryStore) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, typ string, data []byte) error {
	return s.Publish(key, typ, data, s.Now())
}

// Publish stores data with an explicit server timestamp. Tests use it to
// replay out-of-order or duplicate timestamps.
func (s *MemoryStore) Publish(key, typ string, data []byte, ts int64) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.values[key] = Value{Type: typ, Data: buf, Timestamp: ts}
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
