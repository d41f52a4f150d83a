package clock

import (
	"fmt"
	"time"
)

const nanosPerSecond = int64(time.Second)

// instant is a domain-free point in time. nanos is always in [0, 1e9).
type instant struct {
	seconds int64
	nanos   uint32
}

func normalize(seconds, nanos int64) instant {
	seconds += nanos / nanosPerSecond
	nanos %= nanosPerSecond
	if nanos < 0 {
		nanos += nanosPerSecond
		seconds--
	}
	return instant{seconds: seconds, nanos: uint32(nanos)}
}

func (i instant) add(d time.Duration) instant {
	return normalize(i.seconds+int64(d/time.Second), int64(i.nanos)+int64(d%time.Second))
}

// Timestamp is an immutable instant anchored to exactly one clock domain.
type Timestamp[D Domain] struct {
	domain D
	at     instant
}

// FromDuration tags a reading of d's source (time since its epoch) as a
// timestamp in d.
func FromDuration[D Domain](d D, since time.Duration) Timestamp[D] {
	return Timestamp[D]{domain: d, at: normalize(0, int64(since))}
}

// FromMicros tags a microsecond reading recorded by d's source.
func FromMicros[D Domain](d D, micros int64) Timestamp[D] {
	return Timestamp[D]{domain: d, at: normalize(micros/1_000_000, (micros%1_000_000)*1_000)}
}

// FromParts tags a seconds + nanoseconds reading recorded by d's source.
// nanos may be out of range; it is normalized into [0, 1e9).
func FromParts[D Domain](d D, seconds, nanos int64) Timestamp[D] {
	return Timestamp[D]{domain: d, at: normalize(seconds, nanos)}
}

// Domain returns the clock domain the timestamp belongs to.
func (t Timestamp[D]) Domain() D { return t.domain }

// Seconds returns the whole-second part of the timestamp.
func (t Timestamp[D]) Seconds() int64 { return t.at.seconds }

// Nanos returns the sub-second part, always in [0, 1e9).
func (t Timestamp[D]) Nanos() uint32 { return t.at.nanos }

// Duration returns the timestamp as time since the domain's epoch.
func (t Timestamp[D]) Duration() time.Duration {
	return time.Duration(t.at.seconds)*time.Second + time.Duration(t.at.nanos)
}

// Micros returns the timestamp in whole microseconds, rounding toward
// negative infinity.
func (t Timestamp[D]) Micros() int64 {
	return t.at.seconds*1_000_000 + int64(t.at.nanos/1_000)
}

// Add returns t shifted by d, in the same domain.
func (t Timestamp[D]) Add(d time.Duration) Timestamp[D] {
	return Timestamp[D]{domain: t.domain, at: t.at.add(d)}
}

// Sub returns t-u.
func (t Timestamp[D]) Sub(u Timestamp[D]) time.Duration {
	return time.Duration(t.at.seconds-u.at.seconds)*time.Second +
		time.Duration(int64(t.at.nanos)-int64(u.at.nanos))
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or
// after u. Domains are not compared.
func (t Timestamp[D]) Compare(u Timestamp[D]) int {
	switch {
	case t.at.seconds < u.at.seconds:
		return -1
	case t.at.seconds > u.at.seconds:
		return 1
	case t.at.nanos < u.at.nanos:
		return -1
	case t.at.nanos > u.at.nanos:
		return 1
	}
	return 0
}

// Before reports whether t is strictly before u.
func (t Timestamp[D]) Before(u Timestamp[D]) bool { return t.Compare(u) < 0 }

// After reports whether t is strictly after u.
func (t Timestamp[D]) After(u Timestamp[D]) bool { return t.Compare(u) > 0 }

// Equal reports whether t and u are the same instant in the same domain.
func (t Timestamp[D]) Equal(u Timestamp[D]) bool {
	return t.domain == u.domain && t.at == u.at
}

// IsZero reports whether t is the epoch of its domain.
func (t Timestamp[D]) IsZero() bool { return t.at == instant{} }

func (t Timestamp[D]) String() string {
	return fmt.Sprintf("%s@%s", t.Duration(), domainName(t.domain))
}
