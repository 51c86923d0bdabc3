package onion

import (
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// DataSearchRequest asks a node to return whatever it knows about target:
// either a route to reach an announced client directly, or a list of
// closer nodes to continue the search against.
type DataSearchRequest struct {
	Target identity.PublicKey
}

func (r DataSearchRequest) marshal() []byte {
	out := make([]byte, 32)
	copy(out, r.Target[:])
	return out
}

func unmarshalDataSearchRequest(data []byte) (DataSearchRequest, error) {
	if len(data) != 32 {
		return DataSearchRequest{}, fmt.Errorf("data search request wrong size: %d", len(data))
	}
	var r DataSearchRequest
	copy(r.Target[:], data)
	return r, nil
}

// DataSearchResponse carries either a direct route (Found) or a set of
// closer nodes to retry the search against.
type DataSearchResponse struct {
	Target identity.PublicKey
	Found  bool
	Nodes  []wire.PackedNode
}

func (r DataSearchResponse) marshal() ([]byte, error) {
	out := make([]byte, 0, 33+len(r.Nodes)*64)
	out = append(out, r.Target[:]...)
	if r.Found {
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

func unmarshalDataSearchResponse(data []byte) (DataSearchResponse, error) {
	if len(data) < 33 {
		return DataSearchResponse{}, fmt.Errorf("data search response too short: %d", len(data))
	}
	var r DataSearchResponse
	copy(r.Target[:], data[0:32])
	r.Found = data[32] != 0
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

// ParseDataSearchRequest decodes the body of a TagDataSearch packet
// delivered to the exit hop.
func ParseDataSearchRequest(body []byte) (DataSearchRequest, error) {
	return unmarshalDataSearchRequest(body)
}

// BuildDataSearchResponsePacket wraps resp as the TagDataSearch-tagged
// inner packet a server passes to BuildReturn.
func BuildDataSearchResponsePacket(resp DataSearchResponse) (wire.Packet, error) {
	body, err := resp.marshal()
	if err != nil {
		return nil, err
	}
	return wire.NewPacket(wire.TagDataSearch, body), nil
}

// lookupFanout bounds how many closer nodes a search response carries,
// matching the DHT nodes-response fanout.
const lookupFanout = 4

// HandleDataSearchRequest answers a lookup against the local announce
// store: an exact hit returns Found with no node list (the response does
// not carry the stored return path), a miss returns the closest stored
// client keys to keep the search moving.
func HandleDataSearchRequest(store *AnnounceStore, req DataSearchRequest, now time.Time) DataSearchResponse {
	if _, ok := store.Get(req.Target, now); ok {
		return DataSearchResponse{Target: req.Target, Found: true}
	}
	closest := store.Closest(req.Target, lookupFanout)
	resp := DataSearchResponse{Target: req.Target}
	for _, e := range closest {
		resp.Nodes = append(resp.Nodes, wire.PackedNode{PK: e.ClientPK})
	}
	return resp
}

// BuildLookup constructs the onion send packet for a data-search request
// against target, routed through the given onion path to destAddr.
func (c *Client) BuildLookup(path *Path, destAddr wire.IPPort, target identity.PublicKey) (wire.Packet, wire.IPPort, error) {
	req := DataSearchRequest{Target: target}
	inner := wire.NewPacket(wire.TagDataSearch, req.marshal())
	return BuildSendPacket(path, destAddr, inner)
}

// HandleLookupResponse parses a final (stub chain exhausted) data-search
// response payload.
func (c *Client) HandleLookupResponse(payload wire.Packet) (DataSearchResponse, error) {
	tag, err := payload.Tag()
	if err != nil || tag != wire.TagDataSearch {
		return DataSearchResponse{}, fmt.Errorf("not a data search response")
	}
	return unmarshalDataSearchResponse(payload.Body())
}
