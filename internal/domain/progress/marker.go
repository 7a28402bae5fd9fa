// Package progress models a learner's position inside one stage of a story:
// ordered step markers, the per-stage state machine with its gate predicates,
// the response ledgers, and the transition engine that moves between steps.
package progress

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/patudom/cds-app/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARKER SET
// ══════════════════════════════════════════════════════════════════════════════

// MarkerSet is an ordered family of step markers declared by one stage kind.
// Markers from different sets are never comparable.
type MarkerSet struct {
	family string
	names  []string
	index  map[string]int
}

// NewMarkerSet declares a marker family. Order of names is the step order.
// It panics on an empty or duplicated declaration since marker sets are
// package-level values built at init time.
func NewMarkerSet(family string, names ...string) *MarkerSet {
	if len(names) == 0 {
		panic(fmt.Sprintf("progress: marker set %q has no markers", family))
	}

	set := &MarkerSet{
		family: family,
		names:  append([]string(nil), names...),
		index:  make(map[string]int, len(names)),
	}
	for i, name := range names {
		if _, dup := set.index[name]; dup {
			panic(fmt.Sprintf("progress: marker %q declared twice in %q", name, family))
		}
		set.index[name] = i
	}
	return set
}

// Family returns the name of the marker family.
func (s *MarkerSet) Family() string { return s.family }

// Len returns the number of declared markers.
func (s *MarkerSet) Len() int { return len(s.names) }

// First returns the first declared marker.
func (s *MarkerSet) First() Marker { return Marker{set: s, idx: 0} }

// Last returns the last declared marker.
func (s *MarkerSet) Last() Marker { return Marker{set: s, idx: len(s.names) - 1} }

// Markers returns all markers in declaration order.
func (s *MarkerSet) Markers() []Marker {
	out := make([]Marker, len(s.names))
	for i := range s.names {
		out[i] = Marker{set: s, idx: i}
	}
	return out
}

// Parse resolves a marker by name.
func (s *MarkerSet) Parse(name string) (Marker, error) {
	idx, ok := s.index[name]
	if !ok {
		return Marker{}, fmt.Errorf("%w: %q in %s", shared.ErrUnknownMarker, name, s.family)
	}
	return Marker{set: s, idx: idx}, nil
}

// MustParse is Parse for package-level declarations.
func (s *MarkerSet) MustParse(name string) Marker {
	m, err := s.Parse(name)
	if err != nil {
		panic(err)
	}
	return m
}

// FromValue resolves a marker by its 1-based wire value.
func (s *MarkerSet) FromValue(value int) (Marker, error) {
	if value < 1 || value > len(s.names) {
		return Marker{}, fmt.Errorf("%w: value %d in %s", shared.ErrUnknownMarker, value, s.family)
	}
	return Marker{set: s, idx: value - 1}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MARKER
// ══════════════════════════════════════════════════════════════════════════════

// Marker is one step of a MarkerSet. The zero Marker belongs to no family.
type Marker struct {
	set *MarkerSet
	idx int
}

// Set returns the family this marker belongs to.
func (m Marker) Set() *MarkerSet { return m.set }

// IsZero reports whether the marker belongs to no family.
func (m Marker) IsZero() bool { return m.set == nil }

// Name returns the declared marker name.
func (m Marker) Name() string {
	if m.set == nil {
		return ""
	}
	return m.set.names[m.idx]
}

// Index returns the 0-based ordinal.
func (m Marker) Index() int { return m.idx }

// Value returns the 1-based ordinal used on the wire.
func (m Marker) Value() int { return m.idx + 1 }

// String implements fmt.Stringer.
func (m Marker) String() string {
	if m.set == nil {
		return "<none>"
	}
	return m.set.family + "." + m.Name()
}

// IsFirst reports whether m is the first marker of its family.
func (m Marker) IsFirst() bool { return m.set != nil && m.idx == 0 }

// IsLast reports whether m is the last marker of its family.
func (m Marker) IsLast() bool { return m.set != nil && m.idx == len(m.set.names)-1 }

// Next returns the following marker. Stepping past Last fails.
func (m Marker) Next() (Marker, error) {
	if m.set == nil || m.IsLast() {
		return Marker{}, fmt.Errorf("%w: next of %s", shared.ErrMarkerOutOfRange, m)
	}
	return Marker{set: m.set, idx: m.idx + 1}, nil
}

// Previous returns the preceding marker. Stepping before First fails.
func (m Marker) Previous() (Marker, error) {
	if m.set == nil || m.IsFirst() {
		return Marker{}, fmt.Errorf("%w: previous of %s", shared.ErrMarkerOutOfRange, m)
	}
	return Marker{set: m.set, idx: m.idx - 1}, nil
}

// Compare orders two markers of the same family. It returns
// ErrIncomparableMarkers when the families differ.
func Compare(a, b Marker) (int, error) {
	if a.set == nil || a.set != b.set {
		return 0, fmt.Errorf("%w: %s vs %s", shared.ErrIncomparableMarkers, a, b)
	}
	switch {
	case a.idx < b.idx:
		return -1, nil
	case a.idx > b.idx:
		return 1, nil
	}
	return 0, nil
}

// Equal reports whether both markers are the same step of the same family.
func (m Marker) Equal(other Marker) bool {
	return m.set != nil && m.set == other.set && m.idx == other.idx
}

// Before reports m < other. Markers of different families are never ordered.
func (m Marker) Before(other Marker) bool {
	c, err := Compare(m, other)
	return err == nil && c < 0
}

// After reports m > other. Markers of different families are never ordered.
func (m Marker) After(other Marker) bool {
	c, err := Compare(m, other)
	return err == nil && c > 0
}

// IsBetween reports start <= m <= end.
func (m Marker) IsBetween(start, end Marker) bool {
	lo, err := Compare(start, m)
	if err != nil {
		return false
	}
	hi, err := Compare(m, end)
	if err != nil {
		return false
	}
	return lo <= 0 && hi <= 0
}

// MarshalJSON encodes the 1-based value.
func (m Marker) MarshalJSON() ([]byte, error) {
	if m.set == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(m.Value())), nil
}

// UnmarshalJSON decodes either the 1-based value or the marker name. The
// receiver must already belong to a family, which is how hydration works:
// defaults first, document overlaid second.
func (m *Marker) UnmarshalJSON(data []byte) error {
	if m.set == nil {
		return fmt.Errorf("%w: marker decoded without a family", shared.ErrDataIntegrity)
	}
	if string(data) == "null" {
		return nil
	}

	var value int
	if err := json.Unmarshal(data, &value); err == nil {
		decoded, err := m.set.FromValue(value)
		if err != nil {
			return err
		}
		*m = decoded
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("%w: marker %s", shared.ErrInvalidFormat, string(data))
	}
	decoded, err := m.set.Parse(name)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
