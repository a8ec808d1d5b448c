package permute

import (
	"errors"
	"math/bits"

	"github.com/scaguard/maskedaes/entropy"
)

var (
	// ErrBlockRange is returned when a block order is requested for a
	// block count outside [1, MaxBlocks].
	ErrBlockRange = errors.New("permute: block count out of range")
)

const (
	// MaxBlocks is the largest block count a BlockOrder supports.
	MaxBlocks = 32768

	// blockOrderRounds is the number of swap-or-not rounds composed to
	// form one block-order permutation. The value is not dictated by the
	// construction; it was chosen by running the uniformity tests in
	// this package over the full nblk range until the composed
	// permutation was statistically indistinguishable from a uniform
	// one, with a comfortable margin on top.
	blockOrderRounds = 64
)

// BlockOrder is an oblivious permutation over [0, n): a bijection that can
// be evaluated at any single index without materializing the mapping, so
// the physical processing order of ciphertext blocks is decorrelated from
// their logical numbers without any storage proportional to n.
//
// It is a swap-or-not network generalized to ranges that are not powers of
// two. Each round holds an independent random key; a candidate partner for
// an index is its reflection through the round key over the smallest
// power-of-two range covering n, candidates falling outside [0, n) are
// discarded (the index stays put for that round), and the swap decision
// for an in-range pair comes from one bit of a non-cryptographic mix of
// the round number, round key and the pair's canonical representative.
// Both members of a pair derive the same decision bit, so every round is
// an involution on [0, n) and the composition is a bijection.
//
// Round keys are drawn once at construction, so the permutation is fixed
// for the duration of one decrypt call and re-keyed for the next.
type BlockOrder struct {
	n    int
	mask uint64
	keys [blockOrderRounds]uint64
}

// NewBlockOrder draws fresh round keys from src and returns the resulting
// permutation over [0, n).
func NewBlockOrder(n int, src *entropy.Source) (*BlockOrder, error) {
	if n < 1 || n > MaxBlocks {
		return nil, ErrBlockRange
	}

	p := &BlockOrder{
		n:    n,
		mask: coveringMask(uint64(n)),
	}
	for i := range p.keys {
		p.keys[i] = uint64(src.Word())<<32 | uint64(src.Word())
	}

	return p, nil
}

// N returns the size of the permuted range.
func (p *BlockOrder) N() int {
	return p.n
}

// Index evaluates the permutation at i. It panics if i is outside [0, n);
// the caller iterates physical positions and is in full control of the
// range.
func (p *BlockOrder) Index(i int) int {
	if i < 0 || i >= p.n {
		panic("permute: block order index out of range")
	}

	x := uint64(i)
	for r := 0; r < blockOrderRounds; r++ {
		key := p.keys[r]

		// Reflect through the round key over the covering
		// power-of-two range.
		cand := (key - x) & p.mask
		if cand >= uint64(p.n) {
			continue
		}

		// Both pair members must see the same coin, so the mix runs
		// over the canonical representative of the unordered pair.
		hi := x
		if cand > hi {
			hi = cand
		}
		if mix64(key^uint64(r)*0x9e3779b97f4a7c15^hi<<20)&1 == 1 {
			x = cand
		}
	}

	return int(x)
}

// coveringMask returns 2^m - 1 for the smallest power of two 2^m >= n.
func coveringMask(n uint64) uint64 {
	if n <= 1 {
		return 0
	}
	return 1<<bits.Len64(n-1) - 1
}

// mix64 is the splitmix64 finalizer: a fast, well-mixing, decidedly
// non-cryptographic permutation of 64-bit words. One output bit decides
// swap-or-not; nothing secret rides on its strength.
func mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31

	return x
}
