package console

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scaguard/maskedaes"
)

// pipeRW glues a script reader and a capture buffer into the single
// stream a frontend serves.
type pipeRW struct {
	io.Reader
	io.Writer
}

func newTestEngine(t *testing.T) *maskedaes.Engine {
	t.Helper()

	eng := maskedaes.New(nil)
	require.NoError(t, eng.Reseed([]byte("console test seed")))

	return eng
}

// buildDecrypt frames one decrypt command.
func buildDecrypt(salt, iv, ct []byte) []byte {
	var script bytes.Buffer
	script.WriteByte(cmdDecrypt)
	script.Write(salt)
	script.Write(iv)

	var nblk [2]byte
	binary.BigEndian.PutUint16(
		nblk[:], uint16(len(ct)/maskedaes.BlockSize),
	)
	script.Write(nblk[:])
	script.Write(ct)

	return script.Bytes()
}

// TestKeyThenDecrypt drives a full session: load a key, decrypt two
// blocks, check the hex reply against the standard library.
func TestKeyThenDecrypt(t *testing.T) {
	t.Parallel()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	key4way, err := maskedaes.SplitKey(key, bytes.NewReader(
		bytes.Repeat([]byte{0x77}, maskedaes.KeyMaterialSize),
	))
	require.NoError(t, err)

	iv := make([]byte, 16)
	iv[15] = 9
	salt := bytes.Repeat([]byte{0x0d}, 16)
	ct := []byte("two blocks of ciphertext, padded")
	require.Len(t, ct, 2*maskedaes.BlockSize)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	want := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(want, ct)

	var script bytes.Buffer
	script.WriteByte(cmdSetKey)
	script.Write(key4way)
	script.Write(buildDecrypt(salt, iv, ct))

	var out bytes.Buffer
	f := New(newTestEngine(t), pipeRW{&script, &out})
	require.NoError(t, f.Run())

	require.Equal(t,
		replyOK+strings.ToUpper(hex.EncodeToString(want)),
		out.String())
}

// TestUnknownBytesIgnored asserts stray bytes between commands are
// skipped without disturbing the session.
func TestUnknownBytesIgnored(t *testing.T) {
	t.Parallel()

	var script bytes.Buffer
	script.Write([]byte{0x00, 'x', '\n'})
	script.WriteByte(cmdSetKey)
	script.Write(make([]byte, maskedaes.KeyMaterialSize))
	script.Write([]byte{0xff})

	var out bytes.Buffer
	f := New(newTestEngine(t), pipeRW{&script, &out})
	require.NoError(t, f.Run())

	require.Equal(t, replyOK, out.String())
}

// TestDecryptWithoutKey asserts an engine-level refusal is reported to
// the peer and the stream stays up.
func TestDecryptWithoutKey(t *testing.T) {
	t.Parallel()

	var script bytes.Buffer
	script.Write(buildDecrypt(
		make([]byte, 16), make([]byte, 16),
		make([]byte, maskedaes.BlockSize),
	))
	// A second command after the failure must still be served.
	script.WriteByte(cmdSetKey)
	script.Write(make([]byte, maskedaes.KeyMaterialSize))

	var out bytes.Buffer
	f := New(newTestEngine(t), pipeRW{&script, &out})
	require.NoError(t, f.Run())

	require.Equal(t, replyErr+replyOK, out.String())
}

// TestZeroBlockRequestRejected asserts a zero block count is refused by
// the engine, not silently accepted as an empty transfer.
func TestZeroBlockRequestRejected(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	require.NoError(t, eng.SetKey(
		make([]byte, maskedaes.KeyMaterialSize),
	))

	var script bytes.Buffer
	script.Write(buildDecrypt(make([]byte, 16), make([]byte, 16), nil))

	var out bytes.Buffer
	f := New(eng, pipeRW{&script, &out})
	require.NoError(t, f.Run())

	require.Equal(t, replyErr, out.String())
}

// TestTruncatedCommand asserts a stream dying mid-frame surfaces as an
// error rather than a clean shutdown.
func TestTruncatedCommand(t *testing.T) {
	t.Parallel()

	var script bytes.Buffer
	script.WriteByte(cmdSetKey)
	script.Write(make([]byte, 17))

	var out bytes.Buffer
	f := New(newTestEngine(t), pipeRW{&script, &out})
	require.ErrorIs(t, f.Run(), io.ErrUnexpectedEOF)
}
