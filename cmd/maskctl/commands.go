package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/scaguard/maskedaes"
	"github.com/scaguard/maskedaes/keyshare"
)

var splitKeyCommand = cli.Command{
	Name:      "splitkey",
	Usage:     "Split a raw AES-256 key into 4-way-shared key material.",
	ArgsUsage: "key_hex",
	Description: `
	Splits a 32-byte key, given as 64 hex characters, into the 128-byte
	4-way-shared form the engine loads. Three shares are drawn from system
	entropy and the fourth is computed, so the output differs on every
	invocation while always recombining to the same key.`,
	Action: splitKey,
}

func splitKey(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "splitkey")
	}

	key, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid key hex: %w", err)
	}

	shared, err := keyshare.Split(key, rand.Reader)
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(shared))

	return nil
}

var joinKeyCommand = cli.Command{
	Name:      "joinkey",
	Usage:     "Recombine 4-way-shared key material into the raw key.",
	ArgsUsage: "key4way_hex",
	Description: `
	Recombines 128 bytes of shared key material, given as 256 hex
	characters, back into the raw 32-byte key. Meant for provisioning
	checks on a host machine, never for use near a device under
	measurement.`,
	Action: joinKey,
}

func joinKey(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "joinkey")
	}

	shared, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid key material hex: %w", err)
	}

	key, err := keyshare.Recombine(shared)
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(key))

	return nil
}

var decryptCommand = cli.Command{
	Name:  "decrypt",
	Usage: "Decrypt a ciphertext file through the masked engine.",
	Description: `
	Runs a ciphertext file through the full masked pipeline on the host.
	The output is standard AES-256-CTR plaintext, so it can be
	cross-checked against any other implementation.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: "key4way",
			Usage: "the 128-byte shared key material as 256 hex " +
				"characters, as produced by splitkey",
		},
		cli.StringFlag{
			Name: "salt",
			Usage: "the 16-byte IV salt as hex; defaults to all " +
				"zeroes, which only weakens masking, never " +
				"correctness",
		},
		cli.StringFlag{
			Name:  "iv",
			Usage: "the 16-byte public IV as hex",
		},
		cli.StringFlag{
			Name:  "in",
			Usage: "the ciphertext input file",
		},
		cli.StringFlag{
			Name: "out",
			Usage: "the plaintext output file; stdout as hex " +
				"when omitted",
		},
	},
	Action: decrypt,
}

func hexField(ctx *cli.Context, name string, size int,
	required bool) ([]byte, error) {

	s := ctx.String(name)
	if s == "" {
		if required {
			return nil, fmt.Errorf("%s is required", name)
		}
		return make([]byte, size), nil
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", name, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", name,
			size, len(b))
	}

	return b, nil
}

// newSeededEngine constructs an engine seeded from system entropy, which is
// all a host-side run needs.
func newSeededEngine() (*maskedaes.Engine, error) {
	eng := maskedaes.New(nil)

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := eng.Reseed(seed); err != nil {
		return nil, err
	}

	return eng, nil
}

func decrypt(ctx *cli.Context) error {
	key4way, err := hexField(
		ctx, "key4way", maskedaes.KeyMaterialSize, true,
	)
	if err != nil {
		return err
	}
	salt, err := hexField(ctx, "salt", maskedaes.IVSize, false)
	if err != nil {
		return err
	}
	iv, err := hexField(ctx, "iv", maskedaes.IVSize, true)
	if err != nil {
		return err
	}

	if ctx.String("in") == "" {
		return fmt.Errorf("in is required")
	}
	data, err := os.ReadFile(ctx.String("in"))
	if err != nil {
		return err
	}

	eng, err := newSeededEngine()
	if err != nil {
		return err
	}
	if err := eng.SetKey(key4way); err != nil {
		return err
	}
	if err := eng.Decrypt(salt, iv, data); err != nil {
		return err
	}

	if out := ctx.String("out"); out != "" {
		return os.WriteFile(out, data, 0600)
	}

	fmt.Println(hex.EncodeToString(data))

	return nil
}

var selfTestCommand = cli.Command{
	Name:  "selftest",
	Usage: "Run the engine against a known-answer vector.",
	Description: `
	Exercises the whole masked pipeline, key expansion included, against
	the all-zero AES-256 known-answer vector and reports pass or fail.`,
	Action: selfTest,
}

// zeroVector is ECB-AES256(0^32, 0^16), which one zero keystream block must
// equal.
const zeroVector = "dc95c078a2408989ad48a21492842087"

func selfTest(_ *cli.Context) error {
	eng, err := newSeededEngine()
	if err != nil {
		return err
	}

	key4way, err := keyshare.Split(
		make([]byte, keyshare.KeySize), rand.Reader,
	)
	if err != nil {
		return err
	}
	if err := eng.SetKey(key4way); err != nil {
		return err
	}

	block := make([]byte, maskedaes.BlockSize)
	zero := make([]byte, maskedaes.IVSize)
	if err := eng.Decrypt(zero, zero, block); err != nil {
		return err
	}

	want, _ := hex.DecodeString(zeroVector)
	if !bytes.Equal(block, want) {
		return fmt.Errorf("known-answer mismatch: got %s, want %s",
			strings.ToUpper(hex.EncodeToString(block)),
			strings.ToUpper(zeroVector))
	}

	fmt.Println("selftest OK")

	return nil
}
