package maskedaes

import (
	"io"
	"sync/atomic"

	"github.com/scaguard/maskedaes/entropy"
	"github.com/scaguard/maskedaes/keysched"
	"github.com/scaguard/maskedaes/keyshare"
	"github.com/scaguard/maskedaes/masking"
	"github.com/scaguard/maskedaes/permute"
)

const (
	// BlockSize is the AES block size in bytes.
	BlockSize = 16

	// MaxBlocks is the largest number of blocks one Decrypt call
	// accepts.
	MaxBlocks = permute.MaxBlocks

	// KeyMaterialSize is the required size of the 4-way-shared key
	// material.
	KeyMaterialSize = keysched.KeyMaterialSize

	// IVSize is the required size of both the IV salt and the public
	// IV.
	IVSize = 16

	// numRounds is the number of full AES-256 rounds.
	numRounds = 14
)

// ErrKeyMaterialSize is returned when the shared key material is not
// exactly KeyMaterialSize bytes.
var ErrKeyMaterialSize = keysched.ErrKeyMaterialSize

// Config holds the static configuration of an Engine.
type Config struct {
	// Entropy configures the random source. Nil selects the entropy
	// package defaults (hash backend, default chaff cadence).
	Entropy *entropy.Config

	// RemaskPerCall rebuilds the masked S-box tables at the start of
	// every Decrypt call instead of only at key-set. Costs one table
	// rebuild per call, buys fresh table masks per trace set.
	RemaskPerCall bool

	// Trigger, if non-nil, is invoked immediately before the block loop
	// of every Decrypt call. It carries no data and must be free of
	// side effects on the inputs; it exists so a measurement harness
	// can align power/EM traces, the way the reference hardware toggles
	// an observable line.
	Trigger func()
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Entropy: entropy.DefaultConfig(),
	}
}

// Engine is the explicit context object carrying the process-wide state of
// the masked pipeline: the entropy source with its chaff pool, the session
// S-box and the current round-key schedule. Modeling these as an object
// rather than package globals keeps re-entrancy exclusion and
// deterministic test seeding explicit.
//
// An Engine supports no concurrent or re-entrant invocation: Decrypt and
// SetKey run to completion or not at all. Overlapping calls are refused
// with ErrBusy rather than queued, since a second caller observing a
// half-updated schedule or half-consumed chaff pool would be a new leakage
// surface.
type Engine struct {
	cfg Config

	src *entropy.Source
	bar *masking.Barrier

	sbox  *masking.SBox
	sched *masking.Schedule

	busy atomic.Bool
}

// New constructs an Engine with an unseeded entropy source. Reseed must be
// called before any key-set or decrypt; until then every operation fails
// closed.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	src := entropy.NewSource(cfg.Entropy)

	return &Engine{
		cfg: *cfg,
		src: src,
		bar: masking.NewBarrier(src),
	}
}

// Reseed feeds boot entropy into the engine's random source.
func (e *Engine) Reseed(seed []byte) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.busy.Store(false)

	if err := e.src.Reseed(seed); err != nil {
		return err
	}

	log.Infof("Entropy source reseeded, backend=%v",
		e.entropyBackend())

	return nil
}

// SetKey expands 4-way-shared key material into a fresh masked round-key
// schedule and rebuilds the session S-box masks. The previous schedule is
// replaced wholesale. The key material length is validated before any of
// it is read, and an unseeded engine refuses outright.
func (e *Engine) SetKey(key4way []byte) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.busy.Store(false)

	if len(key4way) != KeyMaterialSize {
		return ErrKeyMaterialSize
	}
	if !e.src.Seeded() {
		return ErrNotSeeded
	}

	sb := masking.NewSBox(e.src)
	sched, err := keysched.Expand(key4way, e.src, sb)
	if err != nil {
		return err
	}

	e.sbox = sb
	e.sched = sched

	log.Debugf("Round-key schedule replaced")

	return nil
}

// Decrypt overwrites blocks in place with plaintext. blocks must hold
// between 1 and MaxBlocks ciphertext blocks of BlockSize bytes; ivSalt and
// ivPublic must each be IVSize bytes. The counter base for block i is
// ivPublic plus i (128-bit big-endian addition); ivSalt never influences
// the plaintext, it feeds the masking side only, so the initial state
// shares are randomized by secret material from the very first round.
//
// The call runs to completion with no suspension points; there are no
// cancellation semantics. All input validation happens before any key
// material or ciphertext is touched.
func (e *Engine) Decrypt(ivSalt, ivPublic, blocks []byte) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.busy.Store(false)

	if len(ivSalt) != IVSize || len(ivPublic) != IVSize {
		return ErrIVSize
	}
	nblk := len(blocks) / BlockSize
	if len(blocks) == 0 || len(blocks)%BlockSize != 0 ||
		nblk > MaxBlocks {

		return ErrBlockCount
	}
	if !e.src.Seeded() {
		return ErrNotSeeded
	}
	if e.sched == nil {
		return ErrNoKey
	}

	if e.cfg.RemaskPerCall {
		e.sbox.Remask(e.src)
	}

	order, err := permute.NewBlockOrder(nblk, e.src)
	if err != nil {
		return err
	}

	var salt, iv [16]byte
	copy(salt[:], ivSalt)
	copy(iv[:], ivPublic)

	log.Tracef("Decrypting %d block(s)", nblk)

	if e.cfg.Trigger != nil {
		e.cfg.Trigger()
	}

	for pos := 0; pos < nblk; pos++ {
		logical := order.Index(pos)
		ctr := counterBlock(&iv, uint64(logical))

		ks := e.keystreamBlock(&ctr, &salt)

		blk := blocks[BlockSize*logical : BlockSize*(logical+1)]
		for i := range ks {
			blk[i] ^= ks[i]
			ks[i] = 0
		}

		e.src.TickBlockRound()
	}

	return nil
}

// keystreamBlock runs one counter block through the masked round pipeline
// and returns the recombined keystream block. The state shares are
// invalidated inside Recombine; the caller wipes the returned block after
// use.
func (e *Engine) keystreamBlock(ctr, salt *[16]byte) [16]byte {
	st := masking.NewState(ctr, salt, e.src, e.bar)

	for r := 0; r < numRounds; r++ {
		st.AddRoundKey(e.sched.Round(r))
		st.SubBytes(e.sbox)
		st.ShiftRows()
		if r < numRounds-1 {
			st.MixColumns()
		}
	}
	st.AddRoundKey(e.sched.Round(numRounds))

	return st.Recombine()
}

// entropyBackend reports the configured backend for logging.
func (e *Engine) entropyBackend() entropy.Backend {
	if e.cfg.Entropy == nil {
		return entropy.BackendHash
	}
	return e.cfg.Entropy.Backend
}

// SplitKey is a convenience re-export of the offline 4-way key splitting,
// so provisioning tools only need this package.
func SplitKey(key []byte, rand io.Reader) ([]byte, error) {
	return keyshare.Split(key, rand)
}

// counterBlock returns iv + n as a 128-bit big-endian quantity, matching
// the counter progression of a standard CTR implementation.
func counterBlock(iv *[16]byte, n uint64) [16]byte {
	out := *iv
	carry := n
	for i := 15; i >= 0 && carry > 0; i-- {
		sum := uint64(out[i]) + carry&0xff
		out[i] = byte(sum)
		carry = carry>>8 + sum>>8
	}

	return out
}
