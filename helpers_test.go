package maskedaes_test

import (
	"bytes"
	"io"

	"pgregory.net/rapid"

	"github.com/scaguard/maskedaes"
)

// fixedReader returns a reader emitting an endless stream of one byte
// value, giving deterministic share splits in tests.
func fixedReader(b byte) io.Reader {
	return bytes.NewReader(bytes.Repeat(
		[]byte{b}, maskedaes.KeyMaterialSize,
	))
}

// rapidReader returns a reader over rapid-drawn share bytes, so shrunk
// failures reproduce the exact sharing.
func rapidReader(rt *rapid.T) io.Reader {
	return bytes.NewReader(rapid.SliceOfN(
		rapid.Byte(),
		maskedaes.KeyMaterialSize, maskedaes.KeyMaterialSize,
	).Draw(rt, "shares"))
}
