package keycode

import "fmt"

// Range is an inclusive pair of KeyCodes with the invariant First <= Last
// (spec.md §3).
type Range struct {
	First Code
	Last  Code
}

// NewRange validates and constructs a Range.
func NewRange(first, last Code) (Range, error) {
	if first > last {
		return Range{}, fmt.Errorf("%w: range first %#016x > last %#016x", ErrInvalidParameter, first, last)
	}
	return Range{First: first, Last: last}, nil
}

// Single returns the one-element range [c, c].
func Single(c Code) Range { return Range{First: c, Last: c} }

// Contains reports whether c lies within the inclusive range.
func (r Range) Contains(c Code) bool {
	return c >= r.First && c <= r.Last
}

// Adjoins reports whether r and o share at least one code, or are
// adjacent (o.First == r.Last+1 or vice versa) and therefore coalescible
// into a single range.
func (r Range) Adjoins(o Range) bool {
	// Guard against overflow when First/Last sit at the Code extremes.
	rLastPlus1, rOverflow := addOne(r.Last)
	oLastPlus1, oOverflow := addOne(o.Last)

	if !rOverflow && rLastPlus1 < o.First {
		return false
	}
	if !oOverflow && oLastPlus1 < r.First {
		return false
	}
	return true
}

func addOne(c Code) (Code, bool) {
	if c == ^Code(0) {
		return 0, true
	}
	return c + 1, false
}

func (r Range) String() string {
	return fmt.Sprintf("[%#016x,%#016x]", uint64(r.First), uint64(r.Last))
}
