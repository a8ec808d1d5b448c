// Package masking maintains the AES working state as algebraic shares and
// drives it through the round function without ever combining the shares,
// except at the single recombination point at the end of a block.
//
// The representation is two full 128-bit shares plus a partial single-byte
// third share: for every byte position, trueByte = shareA ^ shareB ^ c.
// Share B is always held rotated by 16 bits relative to share A's frame,
// and the whole state lives under a per-block permanent permutation (a
// column rotation composed with an intra-column byte rotation) that
// commutes with every round step and is only undone at recombination.
//
// The ordering between accesses of complementary shares follows the
// barrier discipline in this package. That discipline is a contract about
// the executing hardware: source-level structure alone cannot guarantee
// that a particular microarchitecture's load buffering never combines two
// shares, so any deployment must be validated with statistical leak
// detection on the target device.
package masking

import (
	"encoding/binary"
	"math/bits"

	"github.com/scaguard/maskedaes/entropy"
	"github.com/scaguard/maskedaes/permute"
)

// MaskedState is the 128-bit AES state of one block, held as shares under
// a permanent permutation. It is created from the block's counter value,
// consumed through the rounds, recombined exactly once, and must not be
// used afterwards.
type MaskedState struct {
	a [4]uint32
	b [4]uint32
	c byte

	frame permute.Frame

	src *entropy.Source
	bar *Barrier
}

// replicate spreads a byte across all four byte lanes of a word.
func replicate(c byte) uint32 {
	return uint32(c) * 0x01010101
}

// NewState builds the masked state for one block from the public counter
// value, splitting it into shares at construction. The salt contributes to
// the share B mask together with a fresh random word per column, so for
// any fixed counter both shares are individually uniform across repeated
// constructions. The permanent frame and the partial third share are drawn
// fresh per block.
func NewState(ctr, salt *[16]byte, src *entropy.Source,
	bar *Barrier) *MaskedState {

	st := &MaskedState{
		frame: permute.RandomFrame(src),
		c:     src.Byte(),
		src:   src,
		bar:   bar,
	}

	b8 := 8 * int(st.frame.Byte)
	for j := 0; j < 4; j++ {
		col := (j + int(st.frame.Word)) & 3
		saltW := binary.LittleEndian.Uint32(salt[4*col:])
		ctrW := binary.LittleEndian.Uint32(ctr[4*col:])

		bu := src.Word() ^ saltW
		st.bar.TouchB(ClassState)
		st.b[j] = bits.RotateLeft32(bu, b8+16)

		au := ctrW ^ bu ^ replicate(st.c)
		st.bar.TouchA(ClassState)
		st.a[j] = bits.RotateLeft32(au, b8)
	}

	return st
}

// AddRoundKey XORs a round key into the state, independently per share.
// The key words are read pre-rotated: the stored word index is offset by
// the difference of the two word rotations and the stored bit rotation is
// folded into the frame's byte rotation in a single register rotate, so
// neither operand is ever aligned to canonical word order. The key's
// partial cterm share is folded into share A as a separate correction.
func (st *MaskedState) AddRoundKey(rk *RoundKey) {
	b8 := 8 * int(st.frame.Byte)
	ctermF := bits.RotateLeft32(rk.cterm, b8)

	for j := 0; j < 4; j++ {
		kidx := (j + int(st.frame.Word) - int(rk.wordRot) + 4) & 3
		rot := b8 - int(rk.bitRot[kidx])

		st.bar.TouchA(ClassState)
		st.a[j] ^= bits.RotateLeft32(rk.a[kidx], rot)
		st.a[j] ^= ctermF

		st.bar.TouchB(ClassState)
		st.b[j] ^= bits.RotateLeft32(rk.b[kidx], rot)
	}
}

// SubBytes substitutes all 16 state bytes through the session S-box. A
// fresh uniform visit order is drawn for every invocation; both shares are
// materialized into scratch storage in that order, under the scratch slot
// class of the barrier, and the substituted shares are written back to
// their home positions, so the physical lookup order carries no
// information about byte position. The scratch bytes are overwritten with
// random fill before return.
func (st *MaskedState) SubBytes(sb *SBox) {
	order := permute.RandomByteOrder(st.src)
	mix := sb.Mix(st.c)

	var scrA, scrB [16]byte

	for i, p := range order {
		j, k := int(p>>2), int(p&3)
		st.bar.TouchA(ClassScratch)
		scrA[i] = byte(st.a[j] >> (8 * k))
	}
	st.bar.Separate()
	for i, p := range order {
		j, k := int(p>>2), int((p+2)&3)
		st.bar.TouchB(ClassScratch)
		scrB[i] = byte(st.b[j] >> (8 * k))
	}
	st.bar.Separate()

	for i, p := range order {
		oa, ob := sb.Lookup(scrA[i], scrB[i], mix, st.src, st.bar)

		j, ka := int(p>>2), int(p&3)
		kb := (ka + 2) & 3

		st.bar.TouchA(ClassState)
		st.a[j] = setByte(st.a[j], ka, oa)

		st.bar.TouchB(ClassState)
		st.b[j] = setByte(st.b[j], kb, ob^st.c)
	}

	st.src.Fill(scrA[:])
	st.src.Fill(scrB[:])
	st.bar.Separate()
}

// ShiftRows applies the row shifts share-wise. Under the frame, the shift
// amount of a stored byte lane is its true row, recovered from the lane
// index and the frame's byte rotation; the share B variant uses the lane
// mapping adjusted for its fixed 16-bit rotation.
func (st *MaskedState) ShiftRows() {
	st.a = shiftRowsWords(st.a, int(st.frame.Byte))
	st.bar.Separate()
	st.b = shiftRowsWords(st.b, int(st.frame.Byte)+2)
}

// shiftRowsWords rebuilds the four stored words so that lane k of word j
// takes its byte from word j+row, where row is the true row of lane k
// under byte rotation brot.
func shiftRowsWords(w [4]uint32, brot int) [4]uint32 {
	var out [4]uint32
	for j := 0; j < 4; j++ {
		var nw uint32
		for k := 0; k < 4; k++ {
			row := (k - brot + 8) & 3
			src := (j + row) & 3
			nw |= uint32(byte(w[src]>>(8*k))) << (8 * k)
		}
		out[j] = nw
	}

	return out
}

// MixColumns applies the column mix share-wise. The mix matrix is
// circulant, so it commutes with the frame's byte rotation, and it acts
// per column, so the word rotation is irrelevant. The replicated partial
// share is a fixed point of the mix (the matrix rows XOR to 01), so the c
// byte passes through unchanged.
func (st *MaskedState) MixColumns() {
	for j := 0; j < 4; j++ {
		st.bar.TouchA(ClassState)
		st.a[j] = mixColWord(st.a[j])
	}
	st.bar.Separate()
	for j := 0; j < 4; j++ {
		st.bar.TouchB(ClassState)
		st.b[j] = mixColWord(st.b[j])
	}
}

// Recombine undoes the permanent frame and combines the shares into the
// finished 16-byte keystream block. This is the single point in a block's
// life where shares are combined. The state is invalidated before the
// result is returned; the caller must consume and wipe the returned block
// immediately.
func (st *MaskedState) Recombine() [16]byte {
	var out [16]byte
	b8 := 8 * int(st.frame.Byte)

	for col := 0; col < 4; col++ {
		j := (col - int(st.frame.Word) + 4) & 3

		st.bar.TouchA(ClassState)
		au := bits.RotateLeft32(st.a[j], -b8)

		st.bar.TouchB(ClassState)
		bu := bits.RotateLeft32(st.b[j], -(b8 + 16))

		binary.LittleEndian.PutUint32(out[4*col:],
			au^bu^replicate(st.c))
	}

	st.invalidate()

	return out
}

// invalidate overwrites the shares with fresh random words so the stack
// and heap copies of a consumed state never hold a usable share pair.
func (st *MaskedState) invalidate() {
	for j := 0; j < 4; j++ {
		st.a[j] = st.src.Word()
		st.b[j] = st.src.Word()
	}
	st.c = 0
	st.bar.Separate()
}

// setByte replaces byte lane k of w with v.
func setByte(w uint32, k int, v byte) uint32 {
	sh := 8 * k
	return w&^(0xff<<sh) | uint32(v)<<sh
}

// xtime multiplies a field element by x (02), branch-free.
func xtime(v byte) byte {
	return v<<1 ^ byte(0x1b&-(uint32(v)>>7))
}

// mixColWord is the MixColumns transform of one column, lanes in row
// order.
func mixColWord(w uint32) uint32 {
	s0 := byte(w)
	s1 := byte(w >> 8)
	s2 := byte(w >> 16)
	s3 := byte(w >> 24)

	t := s0 ^ s1 ^ s2 ^ s3
	r0 := s0 ^ t ^ xtime(s0^s1)
	r1 := s1 ^ t ^ xtime(s1^s2)
	r2 := s2 ^ t ^ xtime(s2^s3)
	r3 := s3 ^ t ^ xtime(s3^s0)

	return uint32(r0) | uint32(r1)<<8 | uint32(r2)<<16 | uint32(r3)<<24
}
