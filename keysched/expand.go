// Package keysched expands a 4-way-shared AES-256 key into a masked,
// permuted round-key schedule. The expansion operates on the shared
// representation from the first instruction to the last: the unmasked
// 256-bit key never exists in any single accessible location, and the
// nonlinear steps of the schedule go through the same masked S-box the
// round pipeline uses.
package keysched

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/scaguard/maskedaes/entropy"
	"github.com/scaguard/maskedaes/masking"
)

var (
	// ErrKeyMaterialSize is returned when the shared key material is not
	// exactly 128 bytes. The check runs before any byte of the material
	// is read.
	ErrKeyMaterialSize = errors.New("keysched: shared key material " +
		"must be exactly 128 bytes")
)

const (
	// KeyMaterialSize is the size of the 4-way-shared representation of
	// a 256-bit key: for each of the eight key words, four 4-byte
	// shares a b c d with a^b^c^d equal to the key word, concatenated
	// in that order.
	KeyMaterialSize = 128

	// nk is the number of 32-bit words in an AES-256 key.
	nk = 8

	// scheduleWords is the total number of schedule words.
	scheduleWords = 4 * masking.NumRoundKeys
)

// rcon holds the round constants consumed by the AES-256 schedule.
var rcon = [7]byte{0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40}

// Expand derives the complete round-key schedule from 128 bytes of
// 4-way-shared key material. The four shares of each key word are first
// collapsed pairwise into the internal two-share form (each pairwise XOR
// of independent random shares is itself uniform, so no combination along
// the way correlates with the key), then the schedule recurrence runs
// share-wise, with SubWord going through the masked S-box sb and the round
// constants folded into one share only. Every schedule word is emitted
// straight into its permuted, bit-rotated resting place in the returned
// schedule; no round key is ever produced in canonical order.
//
// The returned schedule replaces any previous one wholesale. There is no
// partial or incremental update.
func Expand(key4way []byte, src *entropy.Source,
	sb *masking.SBox) (*masking.Schedule, error) {

	if len(key4way) != KeyMaterialSize {
		return nil, ErrKeyMaterialSize
	}

	bar := masking.NewBarrier(src)
	sched := masking.NewSchedule(src)

	// Sliding window of the last nk schedule words, as shares.
	var winA, winB [nk]uint32

	for i := 0; i < nk; i++ {
		grp := key4way[16*i:]
		a := binary.BigEndian.Uint32(grp[0:])
		b := binary.BigEndian.Uint32(grp[4:])
		c := binary.BigEndian.Uint32(grp[8:])
		d := binary.BigEndian.Uint32(grp[12:])

		winA[i] = a ^ b
		src.Interpose()
		winB[i] = c ^ d

		emit(sched, i, winA[i], winB[i])
	}

	for i := nk; i < scheduleWords; i++ {
		tA := winA[(i-1)%nk]
		tB := winB[(i-1)%nk]

		switch {
		case i%nk == 0:
			tA = bits.RotateLeft32(tA, 8)
			tB = bits.RotateLeft32(tB, 8)
			tA, tB = subWord(tA, tB, sb, src, bar)
			tA ^= uint32(rcon[i/nk-1]) << 24

		case i%nk == 4:
			tA, tB = subWord(tA, tB, sb, src, bar)
		}

		winA[i%nk] ^= tA
		src.Interpose()
		winB[i%nk] ^= tB

		emit(sched, i, winA[i%nk], winB[i%nk])
	}

	return sched, nil
}

// emit stores schedule word i into its round key. Schedule words are
// big-endian in the FIPS orientation; the stored column orientation packs
// rows low byte first, so each share is byte-reversed on the way in.
func emit(sched *masking.Schedule, i int, wA, wB uint32) {
	sched.SetWord(i/4, i%4,
		bits.ReverseBytes32(wA), bits.ReverseBytes32(wB))
}

// subWord substitutes the four bytes of a schedule word held as the share
// pair (wA, wB), byte by byte through the masked S-box. The true word is
// never formed.
func subWord(wA, wB uint32, sb *masking.SBox, src *entropy.Source,
	bar *masking.Barrier) (uint32, uint32) {

	mix := sb.Mix(0)

	var oA, oB uint32
	for k := 0; k < 4; k++ {
		a := byte(wA >> (8 * k))
		b := byte(wB >> (8 * k))

		na, nb := sb.Lookup(a, b, mix, src, bar)

		oA |= uint32(na) << (8 * k)
		oB |= uint32(nb) << (8 * k)
	}

	return oA, oB
}
