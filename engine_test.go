package maskedaes_test

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/scaguard/maskedaes"
	"github.com/scaguard/maskedaes/entropy"
	"github.com/scaguard/maskedaes/keyshare"
)

// zeroKey4way is a degenerate but valid 4-way sharing of the all-zero
// key: all four shares of every word are zero.
var zeroKey4way = make([]byte, maskedaes.KeyMaterialSize)

func newTestEngine(t require.TestingT, cfg *maskedaes.Config,
	seed string) *maskedaes.Engine {

	eng := maskedaes.New(cfg)
	require.NoError(t, eng.Reseed([]byte(seed)))

	return eng
}

// refCTR is the stdlib rendition of the cipher: AES-256 in CTR mode with
// the public IV as the counter base.
func refCTR(t require.TestingT, key [32]byte, iv, data []byte) []byte {
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)

	return out
}

// TestKnownAnswerZeroKey pins one keystream block of the all-zero key and
// IV against the published ECB known-answer value.
func TestKnownAnswerZeroKey(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil, "known answer seed")
	require.NoError(t, eng.SetKey(zeroKey4way))

	zero := make([]byte, maskedaes.IVSize)
	block := make([]byte, maskedaes.BlockSize)
	require.NoError(t, eng.Decrypt(zero, zero, block))

	want, err := hex.DecodeString("dc95c078a2408989ad48a21492842087")
	require.NoError(t, err)
	require.Equal(t, want, block)
}

// TestMatchesStdlib cross-checks the whole masked pipeline against the
// standard library over random keys, IVs, salts and block counts. The salt
// must never influence the plaintext, so the reference ignores it.
func TestMatchesStdlib(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil, "stdlib cross-check seed")

	rapid.Check(t, func(rt *rapid.T) {
		var key [32]byte
		copy(key[:], rapid.SliceOfN(
			rapid.Byte(), 32, 32,
		).Draw(rt, "key"))
		iv := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(rt, "iv")
		salt := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(rt, "salt")

		nblk := rapid.IntRange(1, 8).Draw(rt, "nblk")
		data := rapid.SliceOfN(
			rapid.Byte(), nblk*16, nblk*16,
		).Draw(rt, "data")

		key4way, err := keyshare.Split(key[:], rapidReader(rt))
		require.NoError(rt, err)
		require.NoError(rt, eng.SetKey(key4way))

		want := refCTR(rt, key, iv, data)

		got := append([]byte(nil), data...)
		require.NoError(rt, eng.Decrypt(salt, iv, got))
		require.Equal(rt, want, got)
	})
}

// TestCounterCarry exercises the counter carry across byte boundaries by
// starting the IV just below a wrap.
func TestCounterCarry(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil, "counter carry seed")

	var key [32]byte
	key[0] = 0x37
	key4way, err := maskedaes.SplitKey(key[:], fixedReader(0x5c))
	require.NoError(t, err)
	require.NoError(t, eng.SetKey(key4way))

	iv := make([]byte, 16)
	for i := range iv {
		iv[i] = 0xff
	}

	data := make([]byte, 8*maskedaes.BlockSize)
	want := refCTR(t, key, iv, data)

	got := make([]byte, len(data))
	salt := make([]byte, 16)
	require.NoError(t, eng.Decrypt(salt, iv, got))
	require.Equal(t, want, got)
}

// TestPlaintextIndependentOfMasking asserts that seeds, salts and the
// entropy backend change every mask in the pipeline but never the
// plaintext.
func TestPlaintextIndependentOfMasking(t *testing.T) {
	t.Parallel()

	var key [32]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	key4way, err := maskedaes.SplitKey(key[:], fixedReader(0xe1))
	require.NoError(t, err)

	iv := make([]byte, 16)
	iv[15] = 1
	data := make([]byte, 4*maskedaes.BlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	want := refCTR(t, key, iv, data)

	configs := []*maskedaes.Config{
		nil,
		{Entropy: &entropy.Config{Backend: entropy.BackendFast}},
		{RemaskPerCall: true},
	}
	salts := [][]byte{
		make([]byte, 16),
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}

	for ci, cfg := range configs {
		for si, salt := range salts {
			eng := newTestEngine(t, cfg, "independence seed")
			require.NoError(t, eng.SetKey(key4way))

			got := append([]byte(nil), data...)
			require.NoError(t, eng.Decrypt(salt, iv, got))
			require.Equal(t, want, got,
				"config %d salt %d", ci, si)
		}
	}
}

// TestMaxBlocks runs a full maximum-size transfer through the fast
// backend and cross-checks it.
func TestMaxBlocks(t *testing.T) {
	t.Parallel()

	cfg := &maskedaes.Config{
		Entropy: &entropy.Config{Backend: entropy.BackendFast},
	}
	eng := newTestEngine(t, cfg, "max blocks seed")

	var key [32]byte
	key[31] = 0x80
	key4way, err := maskedaes.SplitKey(key[:], fixedReader(0x11))
	require.NoError(t, err)
	require.NoError(t, eng.SetKey(key4way))

	iv := make([]byte, 16)
	iv[0] = 0xab
	data := make([]byte, maskedaes.MaxBlocks*maskedaes.BlockSize)
	want := refCTR(t, key, iv, data)

	got := make([]byte, len(data))
	require.NoError(t, eng.Decrypt(make([]byte, 16), iv, got))
	require.Equal(t, want, got)
}

// TestValidationOrder walks the failure modes in the order Decrypt checks
// them.
func TestValidationOrder(t *testing.T) {
	t.Parallel()

	iv := make([]byte, maskedaes.IVSize)
	blk := make([]byte, maskedaes.BlockSize)

	// Unseeded engine: structural checks still run first.
	eng := maskedaes.New(nil)
	require.ErrorIs(t, eng.Decrypt(iv[:15], iv, blk),
		maskedaes.ErrIVSize)
	require.ErrorIs(t, eng.Decrypt(iv, iv[:15], blk),
		maskedaes.ErrIVSize)
	require.ErrorIs(t, eng.Decrypt(iv, iv, nil),
		maskedaes.ErrBlockCount)
	require.ErrorIs(t, eng.Decrypt(iv, iv, blk[:15]),
		maskedaes.ErrBlockCount)

	over := make(
		[]byte, (maskedaes.MaxBlocks+1)*maskedaes.BlockSize,
	)
	require.ErrorIs(t, eng.Decrypt(iv, iv, over),
		maskedaes.ErrBlockCount)

	require.ErrorIs(t, eng.Decrypt(iv, iv, blk),
		maskedaes.ErrNotSeeded)
	require.ErrorIs(t, eng.SetKey(zeroKey4way),
		maskedaes.ErrNotSeeded)
	require.ErrorIs(t, eng.SetKey(make([]byte, 64)),
		maskedaes.ErrKeyMaterialSize)

	// Seeded but keyless.
	require.NoError(t, eng.Reseed([]byte("validation seed")))
	require.ErrorIs(t, eng.Decrypt(iv, iv, blk), maskedaes.ErrNoKey)

	require.ErrorIs(t, eng.Reseed(nil), entropy.ErrEmptySeed)
}

// TestBusyExclusion asserts that overlapping invocations are refused, not
// queued, using the trigger hook to re-enter mid-call.
func TestBusyExclusion(t *testing.T) {
	t.Parallel()

	var (
		eng        *maskedaes.Engine
		innerErrs  []error
		iv         = make([]byte, maskedaes.IVSize)
		innerBlock = make([]byte, maskedaes.BlockSize)
	)

	cfg := maskedaes.DefaultConfig()
	cfg.Trigger = func() {
		innerErrs = append(innerErrs,
			eng.Decrypt(iv, iv, innerBlock),
			eng.SetKey(zeroKey4way),
			eng.Reseed([]byte("inner seed")),
		)
	}

	eng = maskedaes.New(cfg)
	require.NoError(t, eng.Reseed([]byte("busy seed")))
	require.NoError(t, eng.SetKey(zeroKey4way))

	outer := make([]byte, maskedaes.BlockSize)
	require.NoError(t, eng.Decrypt(iv, iv, outer))

	require.Len(t, innerErrs, 3)
	for _, err := range innerErrs {
		require.ErrorIs(t, err, maskedaes.ErrBusy)
	}

	// The refused inner calls must not have corrupted the outer one.
	want, err := hex.DecodeString("dc95c078a2408989ad48a21492842087")
	require.NoError(t, err)
	require.Equal(t, want, outer)
}

// TestRekeyReplacesSchedule asserts the schedule is replaced wholesale on
// rekey.
func TestRekeyReplacesSchedule(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil, "rekey seed")

	var k1, k2 [32]byte
	k2[5] = 0x99

	for _, key := range [][32]byte{k1, k2, k1} {
		key4way, err := maskedaes.SplitKey(key[:], fixedReader(0x42))
		require.NoError(t, err)
		require.NoError(t, eng.SetKey(key4way))

		iv := make([]byte, 16)
		data := make([]byte, 2*maskedaes.BlockSize)
		want := refCTR(t, key, iv, data)

		got := make([]byte, len(data))
		require.NoError(t, eng.Decrypt(make([]byte, 16), iv, got))
		require.Equal(t, want, got)
	}
}

// TestSplitKeyRoundtrip exercises the provisioning re-export end to end:
// split on the host, load, decrypt.
func TestSplitKeyRoundtrip(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil, "splitkey seed")

	var key [32]byte
	for i := range key {
		key[i] = byte(0xf0 - i)
	}

	key4way, err := maskedaes.SplitKey(key[:], fixedReader(0x3d))
	require.NoError(t, err)

	back, err := keyshare.Recombine(key4way)
	require.NoError(t, err)
	require.Equal(t, key[:], back)

	require.NoError(t, eng.SetKey(key4way))

	iv := make([]byte, 16)
	data := []byte("sixteen byte msg")
	want := refCTR(t, key, iv, data)

	got := append([]byte(nil), data...)
	require.NoError(t, eng.Decrypt(make([]byte, 16), iv, got))
	require.Equal(t, want, got)
}
