package clock

import (
	"errors"
	"fmt"
)

var (
	// ErrDomainMismatch is returned when adjacent mappers in a chain do not
	// share a domain, or the chain endpoints are not the requested types.
	ErrDomainMismatch = errors.New("clock: domain mismatch")

	// ErrEmptyChain is returned when a chain is built from no mappers.
	ErrEmptyChain = errors.New("clock: empty chain")
)

// hop is one type-erased conversion step.
type hop struct {
	a, b     any
	forward  func(instant) instant
	backward func(instant) instant
}

// Step is a type-erased mapper used to build chains across more than two
// domains. Build one with StepOf.
type Step struct {
	hops []hop
}

// StepOf wraps m for use in ChainOf. Chains are flattened, so the result of
// chaining chains is a single flat chain. An inverted chain is spliced in as
// its hops in reverse order, each reversed.
func StepOf[A, B Domain](m Mapper[A, B]) Step {
	if c, ok := m.(*chain[A, B]); ok {
		return Step{hops: c.hops}
	}
	if inv, ok := m.(*inverse[A, B]); ok {
		if c, ok := inv.source.(*chain[B, A]); ok {
			return Step{hops: reversed(c.hops)}
		}
	}
	a, b := m.DomainA(), m.DomainB()
	return Step{hops: []hop{{
		a: a,
		b: b,
		forward: func(at instant) instant {
			return m.AtoB(Timestamp[A]{domain: a, at: at}).at
		},
		backward: func(at instant) instant {
			return m.BtoA(Timestamp[B]{domain: b, at: at}).at
		},
	}}}
}

func reversed(hops []hop) []hop {
	out := make([]hop, len(hops))
	for i, h := range hops {
		out[len(hops)-1-i] = hop{a: h.b, b: h.a, forward: h.backward, backward: h.forward}
	}
	return out
}

// Chain composes m (A to B) with n (B to C). The B domain of m must be the
// same token as the B domain of n.
func Chain[A, B, C Domain](m Mapper[A, B], n Mapper[B, C]) (Mapper[A, C], error) {
	return ChainOf[A, C](StepOf(m), StepOf(n))
}

// ChainOf composes steps left to right into a mapper from A to C. Each step's
// target domain must equal the next step's source domain.
func ChainOf[A, C Domain](steps ...Step) (Mapper[A, C], error) {
	var hops []hop
	for i, s := range steps {
		if len(s.hops) == 0 {
			return nil, fmt.Errorf("step %d: %w", i, ErrEmptyChain)
		}
		for _, h := range s.hops {
			if n := len(hops); n > 0 && hops[n-1].b != h.a {
				return nil, fmt.Errorf("%w: step %d starts in %s but previous step ends in %s",
					ErrDomainMismatch, i, domainName(h.a), domainName(hops[n-1].b))
			}
			hops = append(hops, h)
		}
	}
	if len(hops) == 0 {
		return nil, ErrEmptyChain
	}

	a, ok := hops[0].a.(A)
	if !ok {
		return nil, fmt.Errorf("%w: chain starts in %s (%T)", ErrDomainMismatch, domainName(hops[0].a), hops[0].a)
	}
	c, ok := hops[len(hops)-1].b.(C)
	if !ok {
		last := hops[len(hops)-1].b
		return nil, fmt.Errorf("%w: chain ends in %s (%T)", ErrDomainMismatch, domainName(last), last)
	}
	return &chain[A, C]{a: a, b: c, hops: hops}, nil
}

type chain[A, B Domain] struct {
	a    A
	b    B
	hops []hop
}

func (c *chain[A, B]) DomainA() A { return c.a }
func (c *chain[A, B]) DomainB() B { return c.b }

func (c *chain[A, B]) AtoB(t Timestamp[A]) Timestamp[B] {
	at := t.at
	for _, h := range c.hops {
		at = h.forward(at)
	}
	return Timestamp[B]{domain: c.b, at: at}
}

func (c *chain[A, B]) BtoA(t Timestamp[B]) Timestamp[A] {
	at := t.at
	for i := len(c.hops) - 1; i >= 0; i-- {
		at = c.hops[i].backward(at)
	}
	return Timestamp[A]{domain: c.a, at: at}
}
