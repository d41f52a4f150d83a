package nt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// NATSOptions configures a JetStream key-value backed store.
type NATSOptions struct {
	URL    string
	Bucket string
	// Name is the client connection name shown by the server.
	Name string
	// Timeout bounds each publish.
	Timeout time.Duration
	Clock   timeutil.Clock
}

// NATSStore mirrors a JetStream KV bucket into memory. A watcher goroutine
// applies updates; Get reads the mirror and never blocks on the network.
//
// Entry timestamps are the server's storage time in Unix microseconds, and
// Now reads the local clock in the same unit, so hosts must be time-synced.
type NATSStore struct {
	nc      *nats.Conn
	kv      jetstream.KeyValue
	clock   timeutil.Clock
	timeout time.Duration

	cancel  context.CancelFunc
	watcher jetstream.KeyWatcher
	done    chan struct{}

	mu     sync.RWMutex
	values map[string]Value
	closed bool
}

// DialNATS connects to opts.URL, creates the bucket if needed and returns a
// store once the initial bucket contents have been mirrored.
func DialNATS(ctx context.Context, opts NATSOptions) (*NATSStore, error) {
	name := opts.Name
	if name == "" {
		name = "moenet"
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "MOEnet link values",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("kv bucket %s: %w", opts.Bucket, err)
	}
	s, err := NewNATSStore(ctx, kv, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// NewNATSStore mirrors an existing bucket. The caller keeps ownership of the
// underlying connection.
func NewNATSStore(ctx context.Context, kv jetstream.KeyValue, opts NATSOptions) (*NATSStore, error) {
	c := opts.Clock
	if c == nil {
		c = timeutil.RealClock{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	w, err := kv.WatchAll(watchCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch bucket: %w", err)
	}
	s := &NATSStore{
		kv:      kv,
		clock:   c,
		timeout: timeout,
		cancel:  cancel,
		watcher: w,
		done:    make(chan struct{}),
		values:  make(map[string]Value),
	}

	ready := make(chan struct{})
	go s.run(ready)

	select {
	case <-ready:
		return s, nil
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

func (s *NATSStore) run(ready chan<- struct{}) {
	defer close(s.done)
	for entry := range s.watcher.Updates() {
		if entry == nil {
			// End of initial values.
			if ready != nil {
				close(ready)
				ready = nil
			}
			continue
		}
		s.apply(entry)
	}
}

func (s *NATSStore) apply(entry jetstream.KeyValueEntry) {
	key, err := decodeKey(entry.Key())
	if err != nil {
		monitoring.Warnf("nt: skipping bucket key %q: %v", entry.Key(), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		delete(s.values, key)
		return
	}
	typ, data, err := unframe(entry.Value())
	if err != nil {
		monitoring.Warnf("nt: skipping %s revision %d: %v", key, entry.Revision(), err)
		return
	}
	s.values[key] = Value{Type: typ, Data: data, Timestamp: entry.Created().UnixMicro()}
}

func (s *NATSStore) Now() int64 { return s.clock.Now().UnixMicro() }

func (s *NATSStore) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *NATSStore) Set(key, typ string, data []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.kv.Put(ctx, encodeKey(key), frame(typ, data)); err != nil {
		return fmt.Errorf("nt: put %s: %w", key, err)
	}
	return nil
}

// Close stops the watcher and, if the store dialed its own connection,
// drains it.
func (s *NATSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.watcher.Stop(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("stop watcher: %w", err))
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(s.timeout):
		errs = append(errs, errors.New("watcher did not stop"))
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Bucket values are the codec type string, a NUL byte, then the payload.
func frame(typ string, data []byte) []byte {
	b := make([]byte, 0, len(typ)+1+len(data))
	b = append(b, typ...)
	b = append(b, 0)
	return append(b, data...)
}

func unframe(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errors.New("missing type header")
	}
	data := make([]byte, len(b)-i-1)
	copy(data, b[i+1:])
	return string(b[:i]), data, nil
}

// KV keys only allow [-/_=.A-Za-z0-9] and may not start or end with '.'.
// Everything outside [-/_A-Za-z0-9] is escaped as '=' followed by two hex
// digits.
func encodeKey(key string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '-' || c == '/' || c == '_' || ('0' <= c && c <= '9') ||
			('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('=')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0xF])
	}
	return sb.String()
}

func decodeKey(key string) (string, error) {
	if !strings.Contains(key, "=") {
		return key, nil
	}
	var sb strings.Builder
	for i := 0; i < len(key); i++ {
		if key[i] != '=' {
			sb.WriteByte(key[i])
			continue
		}
		if i+2 >= len(key) {
			return "", fmt.Errorf("truncated escape at %d", i)
		}
		hi, lo := unhex(key[i+1]), unhex(key[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("bad escape %q", key[i:i+3])
		}
		sb.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return sb.String(), nil
}

func unhex(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}
