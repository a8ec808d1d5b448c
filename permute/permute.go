// Package permute implements the randomized bijections used by the masked
// AES pipeline. The several countermeasures in the design (the permanent
// word rotation on the masked state, the byte-order shuffle before
// substitution, the oblivious block-order schedule) are all instances of
// one idea: apply a randomized bijection that commutes with the linear AES
// steps, and never remove it mid-pipeline. This package is the single home
// for those bijections so the word-level, byte-level and index-level
// variants cannot drift apart.
package permute

import (
	"github.com/scaguard/maskedaes/entropy"
)

// Frame is the permanent permutation applied to a masked AES state for the
// life of one block: a rotation of the four state columns (mod 4) composed
// with a uniform rotation of the bytes inside every column (mod 4). Both
// components commute with the AES round steps: column rotation because
// MixColumns acts per column and ShiftRows is column-cyclic, byte rotation
// because the MixColumns matrix is circulant. The frame is applied at
// state construction and only removed at the single recombination point.
//
// A stored word j under frame (w, b) holds true column (j+w) mod 4 rotated
// left by 8*b bits, i.e. stored byte k of that word is true row (k-b) mod 4.
type Frame struct {
	// Word is the column rotation amount, in [0, 4).
	Word uint8

	// Byte is the intra-column byte rotation amount, in [0, 4).
	Byte uint8
}

// RandomFrame draws a fresh uniform frame.
func RandomFrame(src *entropy.Source) Frame {
	w := src.Word()
	return Frame{
		Word: uint8(w) & 3,
		Byte: uint8(w>>8) & 3,
	}
}

// ByteOrder is a uniform random visit order over the 16 byte positions of
// the state, used immediately before substitution so that the physical
// order of S-box lookups is decorrelated from byte position.
type ByteOrder [16]uint8

// RandomByteOrder draws a uniform permutation of the 16 byte positions via
// a Fisher-Yates shuffle driven by the entropy source. The modulo bias for
// a 32-bit draw against ranges of at most 16 is below 2^-28 per swap,
// negligible against the uniformity the countermeasure needs.
func RandomByteOrder(src *entropy.Source) ByteOrder {
	var p ByteOrder
	for i := range p {
		p[i] = uint8(i)
	}
	for i := len(p) - 1; i > 0; i-- {
		j := int(src.Word() % uint32(i+1))
		p[i], p[j] = p[j], p[i]
	}

	return p
}
