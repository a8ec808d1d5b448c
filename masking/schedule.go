package masking

import (
	"math/bits"

	"github.com/scaguard/maskedaes/entropy"
)

const (
	// NumRoundKeys is the number of round keys in an AES-256 schedule.
	NumRoundKeys = 15
)

// RoundKey is one round key at rest. Nothing in it is canonical: the four
// columns are stored as a share pair with a 32-bit partial shareC term
// folded into share A, the columns live at word-rotated positions, share B
// is pre-rotated by 16 bits, and every word additionally carries its own
// random bit rotation. A stored word only ever becomes useful inside a
// register, during the permutation-aware XOR of AddRoundKey.
type RoundKey struct {
	// a holds the shareA columns, cterm-folded, each rotated left by
	// the word's bit rotation.
	a [4]uint32

	// b holds the shareB columns, rotated left by 16 bits plus the
	// word's bit rotation.
	b [4]uint32

	// cterm is the partial third share: column = A ^ B ^ cterm.
	cterm uint32

	// wordRot places true column c at stored index (c - wordRot) mod 4.
	wordRot uint8

	// bitRot is the per-word rotation applied to both stored shares.
	bitRot [4]uint8
}

// Schedule is a complete set of 15 round keys. It is built once per
// key-set, read-only during decryption, and replaced wholesale by the next
// key-set; there is no incremental update.
type Schedule struct {
	keys [NumRoundKeys]RoundKey
}

// NewSchedule draws the per-round permutation parameters (word rotation,
// per-word bit rotations, cterm) for every round key up front, so the
// expander can emit each column directly into its permuted, rotated
// resting place. No round key ever exists in canonical form.
func NewSchedule(src *entropy.Source) *Schedule {
	s := &Schedule{}
	for r := range s.keys {
		rk := &s.keys[r]
		rk.wordRot = uint8(src.Word()) & 3
		rk.cterm = src.Word()
		rots := src.Word()
		for j := range rk.bitRot {
			rk.bitRot[j] = uint8(rots>>(8*j)) & 31
		}
	}

	return s
}

// SetWord stores one column of one round key. au and bu are the column's
// share pair in schedule orientation (au ^ bu is the true column); the
// partial term folding, word placement and bit rotations all happen here,
// on the way into storage.
func (s *Schedule) SetWord(round, col int, au, bu uint32) {
	rk := &s.keys[round]
	j := (col - int(rk.wordRot) + 4) & 3
	rot := int(rk.bitRot[j])

	rk.a[j] = bits.RotateLeft32(au^rk.cterm, rot)
	rk.b[j] = bits.RotateLeft32(bu, 16+rot)
}

// Round returns the round key for round r.
func (s *Schedule) Round(r int) *RoundKey {
	return &s.keys[r]
}

// Reveal combines the shares of round r back into the canonical 16 key
// bytes. It exists for verification tests and offline tooling only; the
// runtime pipeline never combines round-key shares.
func (s *Schedule) Reveal(r int) [16]byte {
	var out [16]byte
	rk := &s.keys[r]
	for col := 0; col < 4; col++ {
		j := (col - int(rk.wordRot) + 4) & 3
		rot := int(rk.bitRot[j])
		au := bits.RotateLeft32(rk.a[j], -rot) ^ rk.cterm
		bu := bits.RotateLeft32(rk.b[j], -(16 + rot))
		w := au ^ bu
		for i := 0; i < 4; i++ {
			out[4*col+i] = byte(w >> (8 * i))
		}
	}

	return out
}
