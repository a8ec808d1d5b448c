package maskedaes

import "errors"

var (
	// ErrNotSeeded is returned when a key-set or decrypt is attempted
	// before the entropy source has been seeded. The engine fails
	// closed: no plaintext is ever produced with non-random masks.
	ErrNotSeeded = errors.New("maskedaes: entropy source not seeded")

	// ErrNoKey is returned when Decrypt is invoked before any key has
	// been set.
	ErrNoKey = errors.New("maskedaes: no key set")

	// ErrBlockCount is returned when the ciphertext length is not a
	// positive multiple of the block size, or the block count exceeds
	// MaxBlocks. Rejected before any key material is touched.
	ErrBlockCount = errors.New("maskedaes: block count out of range")

	// ErrIVSize is returned when the IV salt or public IV is not
	// exactly 16 bytes.
	ErrIVSize = errors.New("maskedaes: iv and salt must be exactly " +
		"16 bytes")

	// ErrBusy is returned when Decrypt or SetKey is invoked while
	// another call is still in flight. The transform is strictly
	// run-to-completion; an observer of a half-updated schedule or
	// half-consumed chaff pool would itself be a leakage surface, so
	// re-entrant invocation is refused outright.
	ErrBusy = errors.New("maskedaes: operation already in flight")
)
