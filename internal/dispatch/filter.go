// Package dispatch implements the per-connection pieces of spec.md §4.G:
// the accept/ignore key filter (a coalesced set of ignored ranges), the
// bounded per-client event buffer used when no reader is blocked, and the
// auto-repeat synthesizer. The tree-walking routing algorithm itself
// (which connection along the focus path receives a given key) lives in
// internal/core, which is the one place allowed to depend on both this
// package and internal/tty without creating an import cycle.
package dispatch

import (
	"sort"
	"sync"

	"github.com/brlapi/bapserver/internal/keycode"
)

// RangeType selects how a list of individual KeyCodes is expanded into
// ranges for an accept/ignore mutation, spec.md §4.E: "range-type is one
// of {all, type, command, key, code}; each yields a mask over the key
// code used to expand the given individual codes into ranges."
type RangeType int

const (
	RangeAll RangeType = iota
	RangeKeyType
	RangeCommand
	RangeKey
	RangeCode
)

// mask returns the bits that are held fixed when expanding a code into a
// range for rt; all other bits vary across the full range.
func (rt RangeType) mask() uint64 {
	const (
		typeMask    = uint64(0xFF) << 24
		groupMask   = uint64(0xFF) << 16
		argMask     = uint64(0xFFFF)
		flagsMask   = uint64(0xFFFFFFFF) << 32
	)
	switch rt {
	case RangeAll:
		return 0
	case RangeKeyType:
		return typeMask
	case RangeCommand:
		return typeMask | groupMask
	case RangeKey:
		return typeMask | groupMask | argMask
	case RangeCode:
		return typeMask | groupMask | argMask | flagsMask
	default:
		return typeMask | groupMask | argMask | flagsMask
	}
}

// Expand turns one KeyCode into the Range a mutation over rt should apply
// to: the given bits are held fixed at the code's value, every other bit
// varies across its full span.
func Expand(rt RangeType, c keycode.Code) keycode.Range {
	m := rt.mask()
	first := keycode.Code(uint64(c) & m)
	last := keycode.Code(uint64(c) | ^m)
	return keycode.Range{First: first, Last: last}
}

// Filter is the per-connection accept/ignore range set of spec.md §3/§4.G.
// Internally it tracks ignored ranges; a code is admitted unless it falls
// in one. This matches the wire operation names inherited from the
// original protocol (ignore/"mask" punches a hole, accept/"unmask" fills
// it back in) and gives a simple default: a fresh filter admits
// everything.
type Filter struct {
	mu      sync.RWMutex
	ignored []keycode.Range // sorted by First, non-overlapping, coalesced
}

// NewFilter returns a filter that admits every code (spec.md's implicit
// "accept all" starting state).
func NewFilter() *Filter {
	return &Filter{}
}

// Admits reports whether c passes the filter.
func (f *Filter) Admits(c keycode.Code) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !contains(f.ignored, c)
}

func contains(ranges []keycode.Range, c keycode.Code) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Last >= c })
	return i < len(ranges) && ranges[i].Contains(c)
}

// Ignore adds r to the ignored set (property 4: ranges are re-coalesced
// after every mutation).
func (f *Filter) Ignore(r keycode.Range) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignored = insertCoalesced(f.ignored, r)
}

// Accept removes r from the ignored set, splitting any ignored range that
// only partially overlaps it.
func (f *Filter) Accept(r keycode.Range) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignored = subtractRange(f.ignored, r)
}

// IgnoreKeys applies Ignore to every code in codes, expanded via rt.
func (f *Filter) IgnoreKeys(rt RangeType, codes []keycode.Code) {
	if rt == RangeAll {
		f.Ignore(Expand(RangeAll, 0))
		return
	}
	for _, c := range codes {
		f.Ignore(Expand(rt, c))
	}
}

// AcceptKeys applies Accept to every code in codes, expanded via rt.
func (f *Filter) AcceptKeys(rt RangeType, codes []keycode.Code) {
	if rt == RangeAll {
		f.Accept(Expand(RangeAll, 0))
		return
	}
	for _, c := range codes {
		f.Accept(Expand(rt, c))
	}
}

// Snapshot returns a copy of the current ignored-range list, for tests
// and diagnostics.
func (f *Filter) Snapshot() []keycode.Range {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]keycode.Range, len(f.ignored))
	copy(out, f.ignored)
	return out
}

// insertCoalesced inserts r into the sorted, non-overlapping ranges slice,
// merging it with any range it overlaps or is adjacent to.
func insertCoalesced(ranges []keycode.Range, r keycode.Range) []keycode.Range {
	var out []keycode.Range
	inserted := false
	for _, existing := range ranges {
		if !inserted && r.Adjoins(existing) {
			r = merge(r, existing)
			continue
		}
		if !inserted && existing.First > r.Last {
			out = append(out, r)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, r)
	}
	return coalesceAdjacentRuns(out)
}

// coalesceAdjacentRuns merges any still-adjoining neighbors left behind by
// repeated insertCoalesced calls (a single insert can leave two
// previously-separate ranges now bridged by the new one).
func coalesceAdjacentRuns(ranges []keycode.Range) []keycode.Range {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].First < ranges[j].First })
	if len(ranges) == 0 {
		return ranges
	}
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if last.Adjoins(r) {
			*last = merge(*last, r)
			continue
		}
		out = append(out, r)
	}
	return out
}

func merge(a, b keycode.Range) keycode.Range {
	first, last := a.First, a.Last
	if b.First < first {
		first = b.First
	}
	if b.Last > last {
		last = b.Last
	}
	return keycode.Range{First: first, Last: last}
}

// subtractRange removes r from ranges, splitting any range that only
// partially overlaps it into up to two pieces.
func subtractRange(ranges []keycode.Range, r keycode.Range) []keycode.Range {
	var out []keycode.Range
	for _, existing := range ranges {
		if existing.Last < r.First || existing.First > r.Last {
			out = append(out, existing)
			continue
		}
		if existing.First < r.First {
			out = append(out, keycode.Range{First: existing.First, Last: r.First - 1})
		}
		if existing.Last > r.Last {
			// r.Last is the maximum Code value only if r covers the top
			// of the keyspace; guard the +1 against overflow.
			if r.Last == ^keycode.Code(0) {
				continue
			}
			out = append(out, keycode.Range{First: r.Last + 1, Last: existing.Last})
		}
	}
	return out
}
