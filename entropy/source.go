package entropy

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrEmptySeed is returned if Reseed is called with no entropy at
	// all. A source seeded from nothing would emit a fixed stream, which
	// is exactly the failure mode the fail-closed design exists to
	// prevent.
	ErrEmptySeed = errors.New("entropy: reseed with empty entropy")
)

// Backend identifies which of the two interchangeable generators a Source
// uses to produce words. The choice is made once at construction time, never
// per call.
type Backend uint8

const (
	// BackendHash produces words by repeated hashing of an internal
	// counter together with the seed. Slower, but the output is
	// computationally indistinguishable from uniform without the seed.
	BackendHash Backend = iota

	// BackendFast produces words from a 32-bit xorshift generator that
	// is periodically reseeded from the hash backend. Used when
	// throughput dominates, e.g. bulk chaff refill.
	BackendFast
)

// String returns a human readable name for the backend.
func (b Backend) String() string {
	switch b {
	case BackendHash:
		return "hash"
	case BackendFast:
		return "fast"
	default:
		return "unknown"
	}
}

const (
	// ChaffWords is the number of words held in the chaff pool.
	ChaffWords = 64

	// DefaultChaffRefreshPeriod is the default number of block-rounds
	// between automatic refreshes of the entire chaff pool.
	DefaultChaffRefreshPeriod = 16

	// fastReseedInterval is the number of words the fast backend emits
	// before it pulls a fresh state word from the hash backend.
	fastReseedInterval = 1024

	// hkdfInfo personalizes the seed derivation so the same raw entropy
	// fed to some other consumer can never collide with our stream.
	hkdfInfo = "maskedaes/entropy/v1"
)

// Config holds the static configuration of a Source.
type Config struct {
	// Backend selects the word generator.
	Backend Backend

	// ChaffRefreshPeriod is the number of block-rounds between automatic
	// refreshes of the chaff pool. Zero selects the default.
	ChaffRefreshPeriod int
}

// DefaultConfig returns the configuration used when NewSource is handed a
// nil config: the hash backend with the default chaff cadence.
func DefaultConfig() *Config {
	return &Config{
		Backend:            BackendHash,
		ChaffRefreshPeriod: DefaultChaffRefreshPeriod,
	}
}

// Source supplies uniform random words for every component of the masked
// pipeline, and owns the chaff pool used to separate same-secret touches in
// time. A Source must be seeded via Reseed before any word is drawn;
// drawing from an unseeded source is a programming error and panics, so
// that no masked quantity can ever be built from non-random masks.
//
// A Source is a process-wide mutable singleton from the caller's point of
// view: it is mutated only by its own methods and the caller must not
// invoke them concurrently.
type Source struct {
	cfg    Config
	seeded bool

	seed    [32]byte
	counter uint64

	// words from the most recent hash block, consumed front to back.
	buf     [8]uint32
	bufUsed int

	// fast backend state.
	fast      uint32
	fastDraws int

	chaff    [ChaffWords]uint32
	chaffCur int

	// chaffSink accumulates the chaff words loaded by Interpose, so the
	// interposed loads have an architecturally visible effect and cannot
	// be elided.
	chaffSink uint32

	rounds    int
	refreshed uint64
}

// NewSource constructs an unseeded Source with the given configuration. A
// nil config selects DefaultConfig.
func NewSource(cfg *Config) *Source {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ChaffRefreshPeriod <= 0 {
		cfg.ChaffRefreshPeriod = DefaultChaffRefreshPeriod
	}

	return &Source{
		cfg: *cfg,
	}
}

// Seeded reports whether Reseed has been called. Callers that must fail
// closed check this before starting any masked computation.
func (s *Source) Seeded() bool {
	return s.seeded
}

// Reseed derives a fresh internal seed from the supplied entropy and resets
// the stream counter. The raw entropy is expanded through HKDF so partial
// or structured entropy still yields a uniform seed. The chaff pool and the
// fast backend state are refilled from the new stream, so no word emitted
// before the reseed is ever reused after it.
func (s *Source) Reseed(entropy []byte) error {
	if len(entropy) == 0 {
		return ErrEmptySeed
	}

	r := hkdf.New(sha256.New, entropy, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, s.seed[:]); err != nil {
		return err
	}

	s.counter = 0
	s.bufUsed = len(s.buf)
	s.seeded = true
	s.fastDraws = 0
	s.fast = 0

	s.RefreshChaff()

	return nil
}

// Word returns one uniform 32-bit value from the configured backend. It
// panics if the source has not been seeded.
func (s *Source) Word() uint32 {
	if !s.seeded {
		panic("entropy: word drawn from unseeded source")
	}

	if s.cfg.Backend == BackendFast {
		return s.fastWord()
	}

	return s.hashWord()
}

// Byte returns one uniform byte.
func (s *Source) Byte() byte {
	return byte(s.Word())
}

// Fill overwrites p with uniform bytes.
func (s *Source) Fill(p []byte) {
	for len(p) >= 4 {
		binary.LittleEndian.PutUint32(p, s.Word())
		p = p[4:]
	}
	if len(p) > 0 {
		w := s.Word()
		for i := range p {
			p[i] = byte(w >> (8 * i))
		}
	}
}

// hashWord serves words from SHA-256 of (seed, counter), eight words per
// compression. The counter is strictly monotonic for the life of the seed,
// so no (seed, counter) pair repeats within a session.
func (s *Source) hashWord() uint32 {
	if s.bufUsed == len(s.buf) {
		var block [40]byte
		copy(block[:32], s.seed[:])
		binary.BigEndian.PutUint64(block[32:], s.counter)
		s.counter++

		sum := sha256.Sum256(block[:])
		for i := range s.buf {
			s.buf[i] = binary.LittleEndian.Uint32(sum[4*i:])
		}
		s.bufUsed = 0
	}

	w := s.buf[s.bufUsed]
	s.bufUsed++

	return w
}

// fastWord steps the xorshift generator, pulling a fresh nonzero state word
// from the hash backend on first use and every fastReseedInterval draws. The
// state is always stepped before the periodic reseed clears it, so the
// returned word is the xorshift of a nonzero state on every draw.
func (s *Source) fastWord() uint32 {
	if s.fastDraws == 0 {
		for s.fast == 0 {
			s.fast = s.hashWord()
		}
	}

	x := s.fast
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	s.fast = x

	s.fastDraws++
	if s.fastDraws >= fastReseedInterval {
		s.fastDraws = 0
		s.fast = 0
	}

	return x
}

// RefreshChaff replaces every word in the chaff pool with a fresh draw. It
// panics if the source is unseeded, like Word.
func (s *Source) RefreshChaff() {
	if !s.seeded {
		panic("entropy: chaff refresh on unseeded source")
	}

	for i := range s.chaff {
		s.chaff[i] = s.Word()
	}
	s.refreshed++
}

// ChaffRefreshes returns the number of full pool refreshes performed. Used
// by tests to observe the automatic cadence.
func (s *Source) ChaffRefreshes() uint64 {
	return s.refreshed
}

// Interpose performs one load and one operation on an independent random
// word from the chaff pool. The round pipeline calls this between touches
// of complementary shares so that no two same-secret accesses are adjacent.
// The pool cursor advances deterministically and carries no secret.
func (s *Source) Interpose() {
	w := s.chaff[s.chaffCur]
	s.chaffCur = (s.chaffCur + 1) % ChaffWords
	s.chaffSink ^= w
}

// TickBlockRound advances the block-round counter that drives the automatic
// chaff refresh cadence. The pipeline calls it once per block round.
func (s *Source) TickBlockRound() {
	s.rounds++
	if s.rounds >= s.cfg.ChaffRefreshPeriod {
		s.rounds = 0
		s.RefreshChaff()
	}
}
