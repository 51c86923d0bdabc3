package groupconn

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"

	"github.com/toxgo/toxgo/identity"
)

// signatureSize is the size of a detached Ed25519 signature prefixed
// onto a Channel's wire payload when Signer is set.
const signatureSize = ed25519.SignatureSize

// Event is delivered once a complete lossless payload has been
// reassembled from one or more fragments. Signature is the sending
// peer's detached Ed25519 signature over Payload when the Channel's
// PeerSignPK is configured, authenticating the original author of a
// group message independently of whichever net-crypto session or TCP
// relay hop actually carried it.
type Event struct {
	Payload   []byte
	Signature []byte
}

// Handler receives reassembled payloads.
type Handler func(Event)

// Channel is one lossless fragmented connection to a single peer,
// carried over whichever transport (net-crypto session or TCP relay
// route) is passed to New. Group membership, ordering guarantees beyond
// per-message reassembly, and session logic are out of scope; Channel
// only fragments, reassembles, and delivers.
type Channel struct {
	mu sync.Mutex

	transport transport
	log       *slog.Logger

	// Signer, when set, signs every outgoing payload so its author
	// remains verifiable after relaying through other group members.
	Signer *identity.SignKeyPair
	// PeerSignPK, when set, is the key Deliver splits an incoming
	// signature off of; callers batch-verifying a round of events
	// across multiple Channels use VerifyBatch instead of relying on
	// any one Channel to verify its own traffic.
	PeerSignPK ed25519.PublicKey

	nextMessageID uint64
	rx            *reassembler
	handler       Handler
}

// New wraps transport in a fragmenting/reassembling Channel.
func New(t transport, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		transport: t,
		log:       logger,
		rx:        newReassembler(),
	}
}

// SetHandler installs the callback invoked for each reassembled payload.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Send fragments payload as needed and seals+returns each fragment's raw
// bytes, ready for the caller to hand to whatever delivers raw packets
// (UDP socket or TCP relay write) for the underlying transport.
func (c *Channel) Send(payload []byte) ([][]byte, error) {
	c.mu.Lock()
	id := c.nextMessageID
	c.nextMessageID++
	signer := c.Signer
	c.mu.Unlock()

	wire := payload
	if signer != nil {
		sig := signer.Sign(payload)
		wire = make([]byte, 0, len(sig)+len(payload))
		wire = append(wire, sig...)
		wire = append(wire, payload...)
	}

	fragments := splitFragments(id, wire)
	sealed := make([][]byte, 0, len(fragments))
	for _, f := range fragments {
		raw, err := c.transport.Seal(f)
		if err != nil {
			return nil, fmt.Errorf("groupconn: seal fragment: %w", err)
		}
		sealed = append(sealed, raw)
	}
	return sealed, nil
}

// Deliver opens an inbound raw packet, feeds it into reassembly, and
// dispatches the handler once a full payload is available.
func (c *Channel) Deliver(raw []byte) error {
	plain, err := c.transport.Open(raw)
	if err != nil {
		return fmt.Errorf("groupconn: open fragment: %w", err)
	}
	header, chunk, ok := decodeFragment(plain)
	if !ok {
		return fmt.Errorf("groupconn: malformed fragment header")
	}

	c.mu.Lock()
	payload, complete, err := c.rx.Feed(header, chunk)
	handler := c.handler
	hasPeerKey := len(c.PeerSignPK) > 0
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if !complete {
		return nil
	}

	ev := Event{Payload: payload}
	if hasPeerKey {
		if len(payload) < signatureSize {
			return fmt.Errorf("groupconn: reassembled payload too short for a signature")
		}
		ev.Signature = payload[:signatureSize]
		ev.Payload = payload[signatureSize:]
	}
	if handler != nil {
		handler(ev)
	}
	return nil
}

// VerifyBatch checks every event's Signature against its own Payload
// under the matching entry of keys, as one combined batch verification
// instead of n independent ones — useful when a dispatcher has drained
// several Channels' worth of events in one loop tick and wants to
// authenticate the whole round together before delivering any of them.
// A false result means at least one event's signature is invalid; the
// caller falls back to identity.Verify one at a time to find which.
func VerifyBatch(events []Event, keys []ed25519.PublicKey) (bool, error) {
	msgs := make([][]byte, len(events))
	sigs := make([][]byte, len(events))
	for i, ev := range events {
		msgs[i] = ev.Payload
		sigs[i] = ev.Signature
	}
	return identity.BatchVerify(msgs, sigs, keys)
}
