package netcrypto

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// replayWindowSize is how many recent packet counters a session
// remembers to reject replays, matching the "64k sliding replay window"
// the transport's nonce reconstruction relies on.
const replayWindowSize = 65536

// Session is an established net-crypto transport: one send key, one
// receive key, and counters driving nonce reconstruction on each side.
type Session struct {
	sendKey identity.SymmetricKey
	recvKey identity.SymmetricKey

	sendBase identity.Nonce
	recvBase identity.Nonce

	sendCounter uint32
	recvHighest uint32
	// seen[counter % replayWindowSize] holds the counter last accepted at
	// that slot, or 0 if the slot has never been used (valid counters
	// start at 1, so 0 is never ambiguous with a real packet). Storing
	// the exact counter rather than a sticky bit lets a slot be reused
	// once the window has rotated past it, instead of wedging every
	// congruent counter after the first 65536 packets.
	seen [replayWindowSize]uint32

	EstablishedAt time.Time
}

func newSession(sendKey, recvKey identity.SymmetricKey, sendBase, recvBase identity.Nonce, now time.Time) *Session {
	return &Session{sendKey: sendKey, recvKey: recvKey, sendBase: sendBase, recvBase: recvBase, EstablishedAt: now}
}

func nonceWithCounter(base identity.Nonce, counter uint32) identity.Nonce {
	n := base
	binary.BigEndian.PutUint32(n[20:24], counter)
	return n
}

// SealData encrypts payload as the next packet in the send stream,
// wrapping it in a CryptoData packet carrying only the low 16 bits of
// the packet counter alongside the ciphertext.
func (s *Session) SealData(payload []byte) (wire.Packet, error) {
	s.sendCounter++
	nonce := nonceWithCounter(s.sendBase, s.sendCounter)
	ct := identity.SealSymmetric(payload, nonce, &s.sendKey)

	body := make([]byte, 0, 2+len(ct))
	low := make([]byte, 2)
	binary.BigEndian.PutUint16(low, uint16(s.sendCounter))
	body = append(body, low...)
	body = append(body, ct...)
	return wire.NewPacket(wire.TagCryptoData, body), nil
}

// OpenData decrypts an inbound CryptoData packet, reconstructing the full
// 32-bit counter from the highest counter seen so far plus the packet's
// 16-bit low half, and rejects anything already-seen or too old for the
// replay window.
func (s *Session) OpenData(pkt wire.Packet) ([]byte, error) {
	body := pkt.Body()
	if len(body) < 2 {
		return nil, fmt.Errorf("crypto data packet too short: %d", len(body))
	}
	low := binary.BigEndian.Uint16(body[0:2])
	ct := body[2:]

	counter := reconstructCounter(s.recvHighest, low)
	if s.recvHighest != 0 && counter+replayWindowSize < s.recvHighest {
		return nil, fmt.Errorf("crypto data packet counter too old")
	}
	if s.hasSeen(counter) {
		return nil, fmt.Errorf("crypto data packet counter replayed")
	}

	nonce := nonceWithCounter(s.recvBase, counter)
	plain, err := identity.OpenSymmetric(ct, nonce, &s.recvKey)
	if err != nil {
		return nil, fmt.Errorf("open crypto data packet: %w", err)
	}

	s.markSeen(counter)
	if counter > s.recvHighest {
		s.recvHighest = counter
	}
	return plain, nil
}

// reconstructCounter picks, among the candidate full 32-bit counters that
// share low's bottom 16 bits, the one nearest to highest.
func reconstructCounter(highest uint32, low uint16) uint32 {
	base := highest &^ 0xFFFF
	candidates := [3]uint32{base, base + 0x10000, 0}
	if base >= 0x10000 {
		candidates[2] = base - 0x10000
	} else {
		candidates[2] = base
	}

	best := candidates[0] | uint32(low)
	bestDist := absDiff(best, highest)
	for _, c := range candidates[1:] {
		cand := c | uint32(low)
		if d := absDiff(cand, highest); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (s *Session) hasSeen(counter uint32) bool {
	return s.seen[counter%replayWindowSize] == counter
}

func (s *Session) markSeen(counter uint32) {
	s.seen[counter%replayWindowSize] = counter
}
