package onion

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// Send-layer tags: a client-built onion packet addressed to hop N+1,
// still awaiting N more peels before reaching the destination.
const (
	TagSend1 uint8 = wire.TagOnionSendBase + 0 // 0x80: client -> hop1
	TagSend2 uint8 = wire.TagOnionSendBase + 1 // 0x81: hop1 -> hop2
	TagSend3 uint8 = wire.TagOnionSendBase + 2 // 0x82: hop2 -> hop3
)

// TagOnionRecv carries a return-path packet one hop closer to the
// original sender. A single tag is used for every remaining hop count;
// the leading stub-count byte tells a relay how many peels remain (a
// simplification from the three numbered 0x8c-0x8e tags toxcore uses).
const TagOnionRecv uint8 = wire.TagOnionRecvBase

const envelopeHeaderSize = 1 + identity.PublicKeySize + identity.NonceSize

// encodeEnvelope builds one onion send-layer packet:
// [tag][stub_count:1][ephemeral_pk:32][nonce:24][ciphertext][stubs: 59*stub_count].
func encodeEnvelope(tag uint8, ephemeralPub identity.PublicKey, nonce identity.Nonce, ciphertext []byte, stubs [][]byte) wire.Packet {
	body := make([]byte, 0, envelopeHeaderSize+len(ciphertext)+len(stubs)*ReturnStubSize)
	body = append(body, byte(len(stubs)))
	body = append(body, ephemeralPub[:]...)
	body = append(body, nonce[:]...)
	body = append(body, ciphertext...)
	for _, s := range stubs {
		body = append(body, s...)
	}
	return wire.NewPacket(tag, body)
}

// decodeEnvelope parses an onion send-layer packet built by encodeEnvelope.
func decodeEnvelope(pkt wire.Packet) (ephemeralPub identity.PublicKey, nonce identity.Nonce, ciphertext []byte, stubs [][]byte, err error) {
	body := pkt.Body()
	if len(body) < envelopeHeaderSize {
		return ephemeralPub, nonce, nil, nil, fmt.Errorf("onion envelope too short: %d bytes", len(body))
	}
	stubCount := int(body[0])
	rest := body[1:]
	copy(ephemeralPub[:], rest[:identity.PublicKeySize])
	rest = rest[identity.PublicKeySize:]
	copy(nonce[:], rest[:identity.NonceSize])
	rest = rest[identity.NonceSize:]

	stubBytes := stubCount * ReturnStubSize
	if len(rest) < stubBytes {
		return ephemeralPub, nonce, nil, nil, fmt.Errorf("onion envelope truncated stubs: have %d need %d", len(rest), stubBytes)
	}
	split := len(rest) - stubBytes
	ciphertext = rest[:split]
	stubSection := rest[split:]
	for i := 0; i < stubCount; i++ {
		stubs = append(stubs, stubSection[i*ReturnStubSize:(i+1)*ReturnStubSize])
	}
	return ephemeralPub, nonce, ciphertext, stubs, nil
}

// decodeExitBody parses the body of an exit-delivered (final-hop) packet:
// [stub_count:1][stubs: 59*stub_count][payload]. The packet's own type
// tag identifies the destination protocol (announce, data, lookup...).
func decodeExitBody(body []byte) (stubs [][]byte, payload []byte, err error) {
	if len(body) < 1 {
		return nil, nil, fmt.Errorf("exit body empty")
	}
	stubCount := int(body[0])
	rest := body[1:]
	stubBytes := stubCount * ReturnStubSize
	if len(rest) < stubBytes {
		return nil, nil, fmt.Errorf("exit body truncated stubs: have %d need %d", len(rest), stubBytes)
	}
	for i := 0; i < stubCount; i++ {
		stubs = append(stubs, rest[i*ReturnStubSize:(i+1)*ReturnStubSize])
	}
	payload = rest[stubBytes:]
	return stubs, payload, nil
}

// encodeExitBody is the inverse of decodeExitBody, used both by a client
// building the innermost layer3 delivery and by the exit hop forwarding
// to the final destination.
func encodeExitBody(stubs [][]byte, payload []byte) []byte {
	body := make([]byte, 0, 1+len(stubs)*ReturnStubSize+len(payload))
	body = append(body, byte(len(stubs)))
	for _, s := range stubs {
		body = append(body, s...)
	}
	body = append(body, payload...)
	return body
}
