package masking

import (
	"github.com/scaguard/maskedaes/entropy"
)

// SlotClass identifies the storage region a share touch goes through.
// Scratch storage and long-lived state storage are tracked separately
// because the buffering granularity of the underlying platform differs per
// region, so an A-touch in scratch does not conflict with a B-touch in
// state memory.
type SlotClass uint8

const (
	// ClassState covers the persistent share words of a masked state or
	// round-key schedule.
	ClassState SlotClass = iota

	// ClassScratch covers the transient scratch buffers the pipeline
	// materializes shuffled bytes into.
	ClassScratch

	numClasses
)

// shareTag records which share family the last touch on a slot class
// belonged to.
type shareTag uint8

const (
	tagNone shareTag = iota
	tagA
	tagB
)

// Barrier enforces the ordering discipline between touches of
// complementary shares: between any two operations or loads that each
// touch one share of the same secret, at least one operation on an
// independent random value must be interposed. The pipeline's code order
// already alternates A/chaff/B; the Barrier keeps a per-class tag of the
// last share family touched and interposes a chaff load automatically
// whenever an A touch would directly follow a B touch (or vice versa) on
// the same slot class, so a misordered call site degrades to a redundant
// chaff load instead of an adjacency.
//
// This is a source-level rendering of a hardware-ordering contract.
// Whether the interposed loads actually break load-load adjacency on a
// given microarchitecture must be validated empirically with statistical
// leak detection; no source-level structure can guarantee it.
type Barrier struct {
	src  *entropy.Source
	last [numClasses]shareTag
}

// NewBarrier returns a barrier drawing its interposed values from src.
func NewBarrier(src *entropy.Source) *Barrier {
	return &Barrier{src: src}
}

// TouchA records an access to a shareA value in the given class,
// interposing chaff first if the previous touch in that class was shareB.
func (b *Barrier) TouchA(class SlotClass) {
	if b.last[class] == tagB {
		b.src.Interpose()
	}
	b.last[class] = tagA
}

// TouchB records an access to a shareB value in the given class,
// interposing chaff first if the previous touch in that class was shareA.
func (b *Barrier) TouchB(class SlotClass) {
	if b.last[class] == tagA {
		b.src.Interpose()
	}
	b.last[class] = tagB
}

// Separate unconditionally interposes a chaff operation and clears the
// touch history. Used at phase boundaries, e.g. between a full A pass and
// a full B pass over the same 16 bytes, and before scratch reuse.
func (b *Barrier) Separate() {
	b.src.Interpose()
	for i := range b.last {
		b.last[i] = tagNone
	}
}
