package onion

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/wire"
)

// pingIDWindow is the bucket width a ping_id remains valid for: a client
// must complete the announce round trip within this window or start over
// with a fresh id.
const pingIDWindow = 20 * time.Second

// MinAnnouncementTimeout and MaxAnnouncementTimeout bound the storage
// lifetime a node will negotiate for an announcement, regardless of what
// the client requests.
const (
	MinAnnouncementTimeout = 10 * time.Second
	MaxAnnouncementTimeout = 900 * time.Second
)

// negotiateAnnounceTimeout picks the stored lifetime for an announcement:
// the client's request, clamped to [MinAnnouncementTimeout,
// MaxAnnouncementTimeout] and additionally capped at a quarter of the
// node's own uptime, so a node that only just started doesn't promise
// storage durability it hasn't demonstrated yet. A zero request (a
// client with no preference) starts from MaxAnnouncementTimeout.
func negotiateAnnounceTimeout(requested time.Duration, uptime time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		t = MaxAnnouncementTimeout
	}
	if t > MaxAnnouncementTimeout {
		t = MaxAnnouncementTimeout
	}
	if t < MinAnnouncementTimeout {
		t = MinAnnouncementTimeout
	}
	if cap := uptime / 4; cap < t {
		t = cap
	}
	return t
}

// announcePingID computes a keyed hash of the requesting client's key,
// return address, and time bucket, letting a node validate a returning
// ping_id without storing any per-request state (mirrors the net-crypto
// cookie's "stay stateless until liveness is proven" design).
func announcePingID(nodeSecret [32]byte, clientPK identity.PublicKey, replyTo []byte, now time.Time) [32]byte {
	mac := hmac.New(sha256.New, nodeSecret[:])
	mac.Write(clientPK[:])
	mac.Write(replyTo)
	var window [8]byte
	binary.BigEndian.PutUint64(window[:], uint64(now.Unix())/uint64(pingIDWindow.Seconds()))
	mac.Write(window[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// AnnounceRequest is the plaintext payload of a TagOnionAnnounce packet
// delivered through a 3-hop path.
type AnnounceRequest struct {
	PingID   [32]byte // zero on a client's first attempt
	ClientPK identity.PublicKey
	DataPK   identity.PublicKey
	// RequestedTimeout is how long, in seconds, the client would like the
	// announcement stored for; the responder negotiates this down (or up
	// to a default) via negotiateAnnounceTimeout. Zero means no preference.
	RequestedTimeout uint32
}

func (r AnnounceRequest) marshal() []byte {
	out := make([]byte, 32+32+32+4)
	copy(out[0:32], r.PingID[:])
	copy(out[32:64], r.ClientPK[:])
	copy(out[64:96], r.DataPK[:])
	binary.BigEndian.PutUint32(out[96:100], r.RequestedTimeout)
	return out
}

func unmarshalAnnounceRequest(data []byte) (AnnounceRequest, error) {
	if len(data) != 100 {
		return AnnounceRequest{}, fmt.Errorf("announce request wrong size: %d", len(data))
	}
	var r AnnounceRequest
	copy(r.PingID[:], data[0:32])
	copy(r.ClientPK[:], data[32:64])
	copy(r.DataPK[:], data[64:96])
	r.RequestedTimeout = binary.BigEndian.Uint32(data[96:100])
	return r, nil
}

// AnnounceResponse is the plaintext payload of the corresponding response,
// routed back over the return path.
type AnnounceResponse struct {
	PingID   [32]byte // next ping_id to use, if IsStored is false
	IsStored bool
	Nodes    []wire.PackedNode // closer nodes to continue the search against
}

func (r AnnounceResponse) marshal() ([]byte, error) {
	out := make([]byte, 0, 32+1+len(r.Nodes)*64)
	out = append(out, r.PingID[:]...)
	if r.IsStored {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	for _, n := range r.Nodes {
		packed, err := wire.PackNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, packed...)
	}
	return out, nil
}

func unmarshalAnnounceResponse(data []byte) (AnnounceResponse, error) {
	if len(data) < 33 {
		return AnnounceResponse{}, fmt.Errorf("announce response too short: %d", len(data))
	}
	var r AnnounceResponse
	copy(r.PingID[:], data[0:32])
	r.IsStored = data[32] != 0
	offset := 33
	for offset < len(data) {
		node, n, err := wire.UnpackNode(data[offset:])
		if err != nil {
			break
		}
		r.Nodes = append(r.Nodes, node)
		offset += n
	}
	return r, nil
}

// ParseAnnounceRequest decodes the body of a TagOnionAnnounce packet
// delivered to the exit hop.
func ParseAnnounceRequest(body []byte) (AnnounceRequest, error) {
	return unmarshalAnnounceRequest(body)
}

// BuildAnnounceResponsePacket wraps resp as the TagOnionAnnounce-tagged
// inner packet a server passes to BuildReturn.
func BuildAnnounceResponsePacket(resp AnnounceResponse) (wire.Packet, error) {
	body, err := resp.marshal()
	if err != nil {
		return nil, err
	}
	return wire.NewPacket(wire.TagOnionAnnounce, body), nil
}

// HandleAnnounceRequest is the exit-hop-delivered handler run by the node
// an announce packet targets. nodeSecret is a per-process random key used
// only to mint/verify ping_ids, independent of the node's long-term
// identity.
func HandleAnnounceRequest(store *AnnounceStore, nodeSecret [32]byte, replyStubs [][]byte, req AnnounceRequest, now time.Time) AnnounceResponse {
	replyTo := flattenStubs(replyStubs)
	expected := announcePingID(nodeSecret, req.ClientPK, replyTo, now)

	if req.PingID == expected {
		timeout := negotiateAnnounceTimeout(time.Duration(req.RequestedTimeout)*time.Second, store.Uptime(now))
		store.Put(&AnnounceEntry{
			ClientPK: req.ClientPK,
			DataPK:   req.DataPK,
			ReplyTo:  replyStubs,
			StoredAt: now,
			ExpireAt: now.Add(timeout),
		}, now)
		return AnnounceResponse{PingID: expected, IsStored: true}
	}

	return AnnounceResponse{PingID: expected, IsStored: false}
}

func flattenStubs(stubs [][]byte) []byte {
	out := make([]byte, 0, len(stubs)*ReturnStubSize)
	for _, s := range stubs {
		out = append(out, s...)
	}
	return out
}

// Client drives the announce/lookup protocols for one local identity,
// picking paths from a PathSet and tracking outstanding ping_ids so a
// second attempt can echo the value the first response handed back.
type Client struct {
	Self   identity.KeyPair
	Paths  *PathSet
	Clock  monotime.Clock
	Logger *slog.Logger

	lastPingID map[identity.PublicKey][32]byte
}

// NewClient builds an announce/lookup client for self, using paths to
// pick onion circuits.
func NewClient(self identity.KeyPair, paths *PathSet, clock monotime.Clock, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Self: self, Paths: paths, Clock: clock, Logger: logger, lastPingID: make(map[identity.PublicKey][32]byte)}
}

// BuildAnnounce constructs the onion send packet for announcing dataPK to
// the node at destAddr/destPK, using (or starting) the ping_id round trip
// for that destination.
func (c *Client) BuildAnnounce(destPK identity.PublicKey, destAddr wire.IPPort, dataPK identity.PublicKey) (wire.Packet, wire.IPPort, error) {
	path, err := c.Paths.Get(c.Clock.Now())
	if err != nil {
		return nil, wire.IPPort{}, fmt.Errorf("select announce path: %w", err)
	}
	req := AnnounceRequest{
		PingID:           c.lastPingID[destPK],
		ClientPK:         c.Self.Public,
		DataPK:           dataPK,
		RequestedTimeout: uint32(MaxAnnouncementTimeout / time.Second),
	}
	inner := wire.NewPacket(wire.TagOnionAnnounce, req.marshal())
	return BuildSendPacket(path, destAddr, inner)
}

// HandleAnnounceResponse ingests a final (stub chain exhausted) response
// payload, remembering the server's echoed ping_id for the next attempt.
func (c *Client) HandleAnnounceResponse(destPK identity.PublicKey, payload wire.Packet) (AnnounceResponse, error) {
	tag, err := payload.Tag()
	if err != nil || tag != wire.TagOnionAnnounce {
		return AnnounceResponse{}, fmt.Errorf("not an announce response")
	}
	resp, err := unmarshalAnnounceResponse(payload.Body())
	if err != nil {
		return AnnounceResponse{}, err
	}
	if !resp.IsStored {
		c.lastPingID[destPK] = resp.PingID
	}
	return resp, nil
}
