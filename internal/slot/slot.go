// Package slot provides the half-open time interval arithmetic the
// reservation engine is built on.
package slot

import "time"

// Span is a half-open interval [Start, End). A span whose End equals another
// span's Start does not overlap it, so back-to-back reservations are legal.
type Span struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether End is strictly after Start.
func (s Span) Valid() bool {
	return s.End.After(s.Start)
}

// Duration returns End minus Start.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Overlaps reports whether the two half-open intervals intersect:
// s.Start < o.End && o.Start < s.End.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Contains reports whether o lies entirely within s, boundaries included.
func (s Span) Contains(o Span) bool {
	return !o.Start.Before(s.Start) && !o.End.After(s.End)
}

// SameDay reports whether both endpoints fall on the same calendar day in the
// span's own locations.
func (s Span) SameDay() bool {
	y1, m1, d1 := s.Start.Date()
	y2, m2, d2 := s.End.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
