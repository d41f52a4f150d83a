package clock

import "time"

// Mapper converts timestamps between domain A and domain B in both
// directions. Implementations must be safe for concurrent use.
type Mapper[A, B Domain] interface {
	DomainA() A
	DomainB() B
	AtoB(t Timestamp[A]) Timestamp[B]
	BtoA(t Timestamp[B]) Timestamp[A]
}

// OffsetMapper maps between two domains that differ by an offset:
// b = a + Offset().
type OffsetMapper[A, B Domain] struct {
	a      A
	b      B
	offset func() time.Duration
}

// FixedOffset returns a mapper where readings of b are always offset
// ahead of readings of a.
func FixedOffset[A, B Domain](a A, b B, offset time.Duration) *OffsetMapper[A, B] {
	return &OffsetMapper[A, B]{a: a, b: b, offset: func() time.Duration { return offset }}
}

// OffsetFunc returns a mapper whose offset is re-read on every conversion,
// for sources whose relationship is tracked elsewhere.
func OffsetFunc[A, B Domain](a A, b B, offset func() time.Duration) *OffsetMapper[A, B] {
	return &OffsetMapper[A, B]{a: a, b: b, offset: offset}
}

// Identity maps a domain onto itself.
func Identity[D Domain](d D) *OffsetMapper[D, D] {
	return FixedOffset(d, d, 0)
}

// Measure estimates the offset between a and b by reading b between two
// readings of a and assuming b was sampled at their midpoint.
func Measure[A, B Domain](a A, b B) *OffsetMapper[A, B] {
	a1 := a.Read()
	bb := b.Read()
	a2 := a.Read()
	mid := a1 + (a2-a1)/2
	return FixedOffset(a, b, bb-mid)
}

func (m *OffsetMapper[A, B]) DomainA() A { return m.a }
func (m *OffsetMapper[A, B]) DomainB() B { return m.b }

// Offset returns the current offset from A to B.
func (m *OffsetMapper[A, B]) Offset() time.Duration { return m.offset() }

func (m *OffsetMapper[A, B]) AtoB(t Timestamp[A]) Timestamp[B] {
	return Timestamp[B]{domain: m.b, at: t.at.add(m.offset())}
}

func (m *OffsetMapper[A, B]) BtoA(t Timestamp[B]) Timestamp[A] {
	return Timestamp[A]{domain: m.a, at: t.at.add(-m.offset())}
}

type inverse[A, B Domain] struct {
	source Mapper[B, A]
}

func (m *inverse[A, B]) DomainA() A                       { return m.source.DomainB() }
func (m *inverse[A, B]) DomainB() B                       { return m.source.DomainA() }
func (m *inverse[A, B]) AtoB(t Timestamp[A]) Timestamp[B] { return m.source.BtoA(t) }
func (m *inverse[A, B]) BtoA(t Timestamp[B]) Timestamp[A] { return m.source.AtoB(t) }

// Invert swaps the directions of m. Inverting an inverted mapper returns the
// original mapper itself, not a wrapper.
func Invert[A, B Domain](m Mapper[A, B]) Mapper[B, A] {
	if m == nil {
		panic("clock: Invert of nil Mapper")
	}
	if inv, ok := m.(*inverse[A, B]); ok {
		return inv.source
	}
	return &inverse[B, A]{source: m}
}
