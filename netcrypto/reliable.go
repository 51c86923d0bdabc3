package netcrypto

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// SendWindow and RecvWindow bound outstanding reliable packets in flight,
// matching the net-crypto reliability layer's flow control.
const (
	SendWindow = 256
	RecvWindow = 256
)

// initialRTT seeds the retransmit timer before any round trip has been
// measured; rttAlpha is the EWMA smoothing factor.
const (
	initialRTT = 500 * time.Millisecond
	rttAlpha   = 0.125
)

// outstandingPacket is one unacknowledged reliable packet awaiting ack or
// retransmission.
type outstandingPacket struct {
	number  uint32
	payload []byte
	sentAt  time.Time
	tries   int
}

// Reliable pairs a Session with a packet-numbered send/recv queue, EWMA
// RTT-based retransmission, and a token-bucket rate limiter standing in
// for the net-crypto AIMD congestion window. It does not encrypt: the
// frames it produces and consumes are plaintext, and the session it
// holds is not used by any of its methods.
type Reliable struct {
	session *Session

	nextSendNumber uint32
	outstanding    []*outstandingPacket

	recvNextExpected uint32
	recvBuffered     map[uint32][]byte

	rtt     time.Duration
	limiter *rate.Limiter
}

// NewReliable wraps session with a reliable layer, starting the
// congestion window at startRate packets/second with burst capacity
// burst (the AIMD controller widens/narrows this via growWindow/shrinkWindow as
// acks arrive or retransmits fire).
func NewReliable(session *Session, startRate rate.Limit, burst int) *Reliable {
	return &Reliable{
		session:      session,
		recvBuffered: make(map[uint32][]byte),
		rtt:          initialRTT,
		limiter:      rate.NewLimiter(startRate, burst),
	}
}

// packetHeaderSize is the reliable layer's own framing prepended to the
// application payload before encryption: packet_number(4) + ack_number(4) + ack_bitmap(8).
const packetHeaderSize = 4 + 4 + 8

// Send enqueues payload as the next reliable packet, piggybacking the
// current ack state, and returns the framed (unencrypted) packet to transmit if
// the congestion window currently allows it (nil, false otherwise —
// callers should retry once acks free capacity).
func (r *Reliable) Send(payload []byte, now time.Time) ([]byte, bool, error) {
	if len(r.outstanding) >= SendWindow {
		return nil, false, nil
	}
	if !r.limiter.AllowN(now, 1) {
		return nil, false, nil
	}

	r.nextSendNumber++
	num := r.nextSendNumber
	framed := r.frame(num, payload)

	r.outstanding = append(r.outstanding, &outstandingPacket{number: num, payload: payload, sentAt: now, tries: 1})
	return framed, true, nil
}

func (r *Reliable) frame(num uint32, payload []byte) []byte {
	out := make([]byte, packetHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], num)
	binary.BigEndian.PutUint32(out[4:8], r.recvNextExpected)
	binary.BigEndian.PutUint64(out[8:16], r.recvBitmap())
	copy(out[16:], payload)
	return out
}

// recvBitmap reports which of the 64 packets after recvNextExpected have
// already been received out of order, so the peer can avoid needlessly
// retransmitting them.
func (r *Reliable) recvBitmap() uint64 {
	var bm uint64
	for i := uint32(0); i < 64; i++ {
		if _, ok := r.recvBuffered[r.recvNextExpected+1+i]; ok {
			bm |= 1 << i
		}
	}
	return bm
}

// Receive decodes an inbound reliable frame, acking prior sends and
// returning any newly in-order payloads ready for delivery.
func (r *Reliable) Receive(frame []byte, now time.Time) ([][]byte, error) {
	if len(frame) < packetHeaderSize {
		return nil, fmt.Errorf("reliable frame too short: %d", len(frame))
	}
	num := binary.BigEndian.Uint32(frame[0:4])
	ackNum := binary.BigEndian.Uint32(frame[4:8])
	ackBitmap := binary.BigEndian.Uint64(frame[8:16])
	payload := append([]byte{}, frame[16:]...)

	r.ackThrough(ackNum, ackBitmap, now)

	if num <= r.recvNextExpected {
		return nil, nil // duplicate or already delivered
	}
	if num > r.recvNextExpected+RecvWindow {
		return nil, nil // beyond the receive window; the sender retransmits it
	}
	r.recvBuffered[num] = payload

	var delivered [][]byte
	for {
		next, ok := r.recvBuffered[r.recvNextExpected+1]
		if !ok {
			break
		}
		delivered = append(delivered, next)
		delete(r.recvBuffered, r.recvNextExpected+1)
		r.recvNextExpected++
	}
	return delivered, nil
}

// ackThrough removes outstanding packets confirmed by ackNum (cumulative)
// or flagged individually in ackBitmap (packets ackNum+1..ackNum+64),
// updating the RTT estimate and widening the congestion window on
// success (AIMD additive increase).
func (r *Reliable) ackThrough(ackNum uint32, ackBitmap uint64, now time.Time) {
	kept := r.outstanding[:0]
	for _, p := range r.outstanding {
		acked := p.number <= ackNum
		if !acked && p.number > ackNum && p.number <= ackNum+64 {
			acked = ackBitmap&(1<<(p.number-ackNum-1)) != 0
		}
		if acked {
			sample := now.Sub(p.sentAt)
			r.rtt = time.Duration((1-rttAlpha)*float64(r.rtt) + rttAlpha*float64(sample))
			r.growWindow()
			continue
		}
		kept = append(kept, p)
	}
	r.outstanding = kept
}

// growWindow implements the additive-increase half of AIMD: each
// acknowledged packet raises the rate limit by one packet per second.
func (r *Reliable) growWindow() {
	cur := r.limiter.Limit()
	r.limiter.SetLimit(cur + 1)
}

// shrinkWindow implements the multiplicative-decrease half of AIMD,
// triggered when a retransmit timeout fires.
func (r *Reliable) shrinkWindow() {
	cur := r.limiter.Limit()
	half := cur / 2
	if half < 1 {
		half = 1
	}
	r.limiter.SetLimit(half)
}

// retransmitTimeout is the current RTO: a small multiple of the smoothed
// RTT, matching EWMA-RTT-based retransmission.
func (r *Reliable) retransmitTimeout() time.Duration {
	return r.rtt * 3
}

// DueRetransmits returns outstanding packets whose RTO has elapsed,
// reframes them with fresh ack state, and halves the congestion window
// once per packet returned (loss is inferred from a timeout, not an
// explicit NACK).
func (r *Reliable) DueRetransmits(now time.Time) [][]byte {
	var due [][]byte
	rto := r.retransmitTimeout()
	for _, p := range r.outstanding {
		if now.Sub(p.sentAt) < rto {
			continue
		}
		p.sentAt = now
		p.tries++
		due = append(due, r.frame(p.number, p.payload))
		r.shrinkWindow()
	}
	return due
}
