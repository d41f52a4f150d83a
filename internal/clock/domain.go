// Package clock converts timestamps between independently-clocked domains.
//
// Every clock domain is its own Go type. A Timestamp[D] can only be handed to
// code expecting the same domain type, so mixing robot time with transport
// time is a compile error rather than a silent off-by-offset bug. Converting
// between domains is done through a Mapper, which can be chained with other
// mappers and inverted.
//
// Domain identity is value identity: two domains are equal iff they are the
// same token. Domain types should therefore be pointers, or small structs
// wrapping a pointer (see Source).
package clock

import (
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// Domain is the constraint satisfied by clock domain tokens.
type Domain interface {
	comparable

	// Name identifies the domain in logs and error messages.
	Name() string

	// Read returns the current reading of the domain's source, as time
	// elapsed since the domain's epoch.
	Read() time.Duration
}

// Source is a reusable clock domain that counts time elapsed on a
// timeutil.Clock since a fixed epoch. Distinct domain types are usually
// declared by embedding a *Source:
//
//	type RobotTime struct{ *clock.Source }
type Source struct {
	name  string
	clock timeutil.Clock
	epoch time.Time
}

// NewSource creates a domain named name whose zero is epoch on c.
func NewSource(name string, c timeutil.Clock, epoch time.Time) *Source {
	return &Source{name: name, clock: c, epoch: epoch}
}

// Name returns the domain name.
func (s *Source) Name() string {
	if s == nil {
		return "<nil>"
	}
	return s.name
}

// Read returns the time elapsed since the source's epoch.
func (s *Source) Read() time.Duration {
	return s.clock.Since(s.epoch)
}

// Now returns the current time in domain d.
func Now[D Domain](d D) Timestamp[D] {
	return FromDuration(d, d.Read())
}

func domainName(d any) string {
	if n, ok := d.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "<unnamed>"
}
