package masking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScheduleStoreReveal asserts that SetWord followed by Reveal is the
// identity on the true column, across the random per-round permutation
// parameters.
func TestScheduleStoreReveal(t *testing.T) {
	t.Parallel()

	src := testSource(t, "schedule seed")

	for trial := 0; trial < 16; trial++ {
		sched := NewSchedule(src)

		var want [NumRoundKeys][16]byte
		for r := 0; r < NumRoundKeys; r++ {
			for col := 0; col < 4; col++ {
				w := src.Word()
				mask := src.Word()

				sched.SetWord(r, col, w^mask, mask)
				for i := 0; i < 4; i++ {
					want[r][4*col+i] = byte(w >> (8 * i))
				}
			}
		}

		for r := 0; r < NumRoundKeys; r++ {
			require.Equal(t, want[r], sched.Reveal(r),
				"trial %d round %d", trial, r)
		}
	}
}

// TestScheduleStorageVaries asserts that storing the same true columns
// under fresh permutation parameters yields different stored words.
func TestScheduleStorageVaries(t *testing.T) {
	t.Parallel()

	src := testSource(t, "schedule variety seed")

	store := func() *Schedule {
		sched := NewSchedule(src)
		for r := 0; r < NumRoundKeys; r++ {
			for col := 0; col < 4; col++ {
				mask := src.Word()
				sched.SetWord(
					r, col, 0xdeadbeef^mask, mask,
				)
			}
		}
		return sched
	}

	s1 := store()
	s2 := store()

	require.NotEqual(t, s1.keys, s2.keys)

	for r := 0; r < NumRoundKeys; r++ {
		require.Equal(t, s1.Reveal(r), s2.Reveal(r))
	}
}
