// Package tcprelay implements the TCP relay client and server used for
// NAT traversal when direct UDP connectivity fails, plus the
// per-friend multiplexer that keeps up to several relay connections alive
// and picks one to carry traffic.
package tcprelay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/toxgo/toxgo/identity"
)

// MaxFrameLen bounds a single relay frame's encrypted payload, matching
// the UDP path's practical packet size so relayed traffic looks the same
// shape on either transport.
const MaxFrameLen = 2048

// Frame is one length-prefixed, secretbox-encrypted relay frame:
// length(2) + nonce(24) + secretbox(plaintext).
type Frame []byte

// Reader reads length-prefixed frames from a TCP relay connection.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for frame-at-a-time reads.
func NewReader(r *bufio.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads one frame, validating the advertised length.
func (fr *Reader) ReadFrame() (Frame, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > MaxFrameLen+identity.NonceSize+16 {
		return nil, fmt.Errorf("relay frame too large: %d", n)
	}
	body := make(Frame, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// Writer writes length-prefixed frames to a TCP relay connection.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame-at-a-time writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one frame, prefixing its length.
func (fw *Writer) WriteFrame(f Frame) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := fw.w.Write(f); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// sealFrame encrypts plaintext under the per-connection symmetric key
// established during the relay handshake.
func sealFrame(plaintext []byte, key *identity.SymmetricKey) (Frame, error) {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("frame nonce: %w", err)
	}
	ct := identity.SealSymmetric(plaintext, nonce, key)
	f := make(Frame, 0, identity.NonceSize+len(ct))
	f = append(f, nonce[:]...)
	f = append(f, ct...)
	return f, nil
}

func openFrame(f Frame, key *identity.SymmetricKey) ([]byte, error) {
	if len(f) < identity.NonceSize {
		return nil, fmt.Errorf("frame too short for nonce: %d", len(f))
	}
	var nonce identity.Nonce
	copy(nonce[:], f[:identity.NonceSize])
	plain, err := identity.OpenSymmetric(f[identity.NonceSize:], nonce, key)
	if err != nil {
		return nil, fmt.Errorf("open relay frame: %w", err)
	}
	return plain, nil
}
