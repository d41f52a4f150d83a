// Package testutil provides shared test utilities and fixtures.
//
// Link, vision and API tests share one test epoch, build memory stores on
// it and capture the lines written through monitoring.Logf.
package testutil

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// Epoch is the wall-clock time test clocks start at.
var Epoch = time.Unix(1_700_000_000, 0)

// NewClock returns a mock clock set to Epoch.
func NewClock() *timeutil.MockClock {
	return timeutil.NewMockClock(Epoch)
}

// NewStore returns a memory store on a fresh clock. The clock is advanced
// past the store epoch so the first publish has a nonzero timestamp.
func NewStore() (*timeutil.MockClock, *nt.MemoryStore) {
	c := NewClock()
	s := nt.NewMemoryStore(c)
	c.Advance(time.Millisecond)
	return c, s
}

// Logs collects lines written through monitoring.Logf.
type Logs struct {
	mu    sync.Mutex
	lines []string
}

// CaptureLogs redirects monitoring.Logf until the test ends.
func CaptureLogs(t testing.TB) *Logs {
	t.Helper()
	l := &Logs{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.lines = append(l.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
	return l
}

// Lines returns a copy of the captured lines.
func (l *Logs) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Count returns how many lines start with prefix.
func (l *Logs) Count(prefix string) int {
	n := 0
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
