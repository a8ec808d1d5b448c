// Package keyshare implements the offline 4-way XOR secret sharing of a
// 256-bit key. The runtime core only ever consumes the shared form; this
// package exists for provisioning tooling and tests. Recombine in
// particular must never be linked into a deployed bootloader.
package keyshare

import (
	"errors"
	"io"
)

var (
	// ErrKeySize is returned when the raw key is not exactly 32 bytes.
	ErrKeySize = errors.New("keyshare: key must be exactly 32 bytes")

	// ErrSharedSize is returned when the shared representation is not
	// exactly 128 bytes.
	ErrSharedSize = errors.New("keyshare: shared key material must be " +
		"exactly 128 bytes")
)

const (
	// KeySize is the size of a raw AES-256 key.
	KeySize = 32

	// SharedSize is the size of the 4-way-shared representation.
	SharedSize = 128

	wordSize = 4
	shares   = 4
)

// Split expands a 32-byte key into the 128-byte 4-way-shared layout: for
// each 4-byte key word, three shares drawn from rand and a fourth equal to
// their XOR with the key word, concatenated as a0 b0 c0 d0 ... a7 b7 c7 d7.
func Split(key []byte, rand io.Reader) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	out := make([]byte, SharedSize)
	if _, err := io.ReadFull(rand, out); err != nil {
		return nil, err
	}

	for w := 0; w < KeySize/wordSize; w++ {
		grp := out[shares*wordSize*w:]
		d := grp[3*wordSize : 4*wordSize]
		for i := 0; i < wordSize; i++ {
			d[i] = key[wordSize*w+i] ^
				grp[i] ^ grp[wordSize+i] ^ grp[2*wordSize+i]
		}
	}

	return out, nil
}

// Recombine XORs the four shares of every word back into the raw 32-byte
// key. Offline tooling and tests only.
func Recombine(key4way []byte) ([]byte, error) {
	if len(key4way) != SharedSize {
		return nil, ErrSharedSize
	}

	key := make([]byte, KeySize)
	for w := 0; w < KeySize/wordSize; w++ {
		grp := key4way[shares*wordSize*w:]
		for i := 0; i < wordSize; i++ {
			key[wordSize*w+i] = grp[i] ^ grp[wordSize+i] ^
				grp[2*wordSize+i] ^ grp[3*wordSize+i]
		}
	}

	return key, nil
}
