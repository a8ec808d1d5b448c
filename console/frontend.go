// Package console implements the byte-command front end of the reference
// device: single-letter commands over a serial-style stream that carry key
// material in and ciphertext through the masked engine. The package speaks
// io.ReadWriter only; opening UARTs, USB gadgets or pipes is the caller's
// business.
package console

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"

	"github.com/scaguard/maskedaes"
)

const (
	// cmdSetKey carries 128 bytes of 4-way-shared key material.
	cmdSetKey = 'K'

	// cmdDecrypt carries a 16-byte IV salt, a 16-byte public IV, a
	// big-endian 16-bit block count and that many ciphertext blocks.
	// The reply is the uppercase hex plaintext.
	cmdDecrypt = 'E'

	replyOK  = "OK"
	replyErr = "ERR"
)

// Frontend runs the command loop against one engine. It processes one
// command at a time until the reader is exhausted; the engine's own
// re-entrancy guard makes a second concurrent frontend harmless, if
// pointless.
type Frontend struct {
	eng *maskedaes.Engine
	rw  io.ReadWriter
}

// New returns a frontend serving eng over rw.
func New(eng *maskedaes.Engine, rw io.ReadWriter) *Frontend {
	return &Frontend{
		eng: eng,
		rw:  rw,
	}
}

// Run services commands until the reader returns EOF, which is a clean
// shutdown, or fails, which is not. Bytes that are not a known command are
// ignored, like the reference firmware's loop does.
func (f *Frontend) Run() error {
	var cmd [1]byte
	for {
		if _, err := io.ReadFull(f.rw, cmd[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch cmd[0] {
		case cmdSetKey:
			if err := f.setKey(); err != nil {
				return err
			}

		case cmdDecrypt:
			if err := f.decrypt(); err != nil {
				return err
			}

		default:
			log.Tracef("Ignoring unknown command byte %#x",
				cmd[0])
		}
	}
}

// setKey reads the shared key material and installs it. Failures inside
// the engine are reported to the peer and the loop continues; only stream
// errors terminate.
func (f *Frontend) setKey() error {
	buf := make([]byte, maskedaes.KeyMaterialSize)
	if _, err := io.ReadFull(f.rw, buf); err != nil {
		return err
	}

	if err := f.eng.SetKey(buf); err != nil {
		log.Errorf("Key-set rejected: %v", err)
		return f.reply(replyErr)
	}

	log.Infof("Key material replaced")

	return f.reply(replyOK)
}

// decrypt reads one framed decryption request, runs it through the engine
// and replies with the hex plaintext.
func (f *Frontend) decrypt() error {
	var hdr [2*maskedaes.IVSize + 2]byte
	if _, err := io.ReadFull(f.rw, hdr[:]); err != nil {
		return err
	}

	salt := hdr[:maskedaes.IVSize]
	iv := hdr[maskedaes.IVSize : 2*maskedaes.IVSize]
	nblk := int(binary.BigEndian.Uint16(hdr[2*maskedaes.IVSize:]))

	data := make([]byte, nblk*maskedaes.BlockSize)
	if _, err := io.ReadFull(f.rw, data); err != nil {
		return err
	}

	if err := f.eng.Decrypt(salt, iv, data); err != nil {
		log.Errorf("Decrypt rejected: %v", err)
		return f.reply(replyErr)
	}

	log.Debugf("Decrypted %d block(s)", nblk)

	return f.reply(strings.ToUpper(hex.EncodeToString(data)))
}

// reply writes a full response string to the peer.
func (f *Frontend) reply(s string) error {
	_, err := io.WriteString(f.rw, s)
	return err
}
