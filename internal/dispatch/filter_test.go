package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/brlapi/bapserver/internal/keycode"
)

func TestFreshFilterAdmitsEverything(t *testing.T) {
	f := NewFilter()
	require.True(t, f.Admits(keycode.Code(0)))
	require.True(t, f.Admits(keycode.Code(1<<40)))
}

func TestIgnoreThenAccept(t *testing.T) {
	f := NewFilter()
	f.Ignore(keycode.Range{First: 10, Last: 20})
	require.False(t, f.Admits(15))
	require.True(t, f.Admits(5))

	f.Accept(keycode.Range{First: 12, Last: 14})
	require.True(t, f.Admits(13))
	require.False(t, f.Admits(10))
	require.False(t, f.Admits(20))
}

func TestExpandRangeCode(t *testing.T) {
	c := keycode.Code(0x1234)
	r := Expand(RangeCode, c)
	require.Equal(t, c, r.First)
	require.Equal(t, c, r.Last)
}

func TestExpandRangeAllCoversEverything(t *testing.T) {
	r := Expand(RangeAll, keycode.Code(0x1234))
	require.Equal(t, keycode.Code(0), r.First)
	require.Equal(t, ^keycode.Code(0), r.Last)
}

// TestFilterCoalescingProperty is spec.md §8 property 4: after any
// sequence of ignore/accept mutations, the ignored set is a minimal,
// non-overlapping, sorted set of ranges whose union exactly matches the
// admit/deny outcome of replaying the same mutations one code at a time.
func TestFilterCoalescingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const space = 64
		reference := make([]bool, space) // true == admitted

		f := NewFilter()
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			first := rapid.IntRange(0, space-1).Draw(t, "first")
			width := rapid.IntRange(0, space-1).Draw(t, "width")
			last := first + width
			if last >= space {
				last = space - 1
			}
			ignore := rapid.Bool().Draw(t, "ignore")

			r := keycode.Range{First: keycode.Code(first), Last: keycode.Code(last)}
			if ignore {
				f.Ignore(r)
				for i := first; i <= last; i++ {
					reference[i] = false
				}
			} else {
				f.Accept(r)
				for i := first; i <= last; i++ {
					reference[i] = true
				}
			}
		}

		for i := 0; i < space; i++ {
			require.Equal(t, reference[i], f.Admits(keycode.Code(i)), "code %d", i)
		}

		// The ignored set itself must be sorted, non-overlapping and
		// non-adjacent (fully coalesced).
		snap := f.Snapshot()
		for i := 1; i < len(snap); i++ {
			require.Less(t, snap[i-1].Last, snap[i].First-1, "ranges %d and %d should have coalesced", i-1, i)
		}
	})
}
