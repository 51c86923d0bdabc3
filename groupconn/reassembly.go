package groupconn

import "fmt"

// maxPendingMessages bounds in-flight partial reassemblies per channel,
// so a peer can't exhaust memory by opening many incomplete fragment
// sequences at once.
const maxPendingMessages = 64

// recentDeliveredSize bounds how many completed message IDs are
// remembered to suppress a duplicate delivery of a retransmitted
// fragment sequence (mirrors group_connection.h's recv_array duplicate
// detection, generalized from a sliding window to a small recent set
// since this package has no ordered message-ID space to assume).
const recentDeliveredSize = 32

type partial struct {
	chunks    [][]byte
	have      int
	totalSize int
}

// reassembler tracks partial fragment sequences for one channel.
type reassembler struct {
	pending   map[uint64]*partial
	delivered []uint64 // ring of the most recently completed message IDs
}

func newReassembler() *reassembler {
	return &reassembler{pending: make(map[uint64]*partial)}
}

// Feed ingests one fragment, returning the reassembled payload once its
// sequence completes. ok is false both while a sequence is still partial
// and when the fragment is a duplicate of an already-delivered message.
func (r *reassembler) Feed(h fragmentHeader, chunk []byte) (payload []byte, ok bool, err error) {
	if r.wasDelivered(h.messageID) {
		return nil, false, nil
	}

	p, exists := r.pending[h.messageID]
	if !exists {
		if len(r.pending) >= maxPendingMessages {
			return nil, false, fmt.Errorf("groupconn: too many pending reassemblies")
		}
		p = &partial{chunks: make([][]byte, h.count)}
		r.pending[h.messageID] = p
	}
	if int(h.count) != len(p.chunks) {
		return nil, false, fmt.Errorf("groupconn: fragment count mismatch for message %d", h.messageID)
	}
	if p.chunks[h.index] == nil {
		p.chunks[h.index] = append([]byte{}, chunk...)
		p.have++
		p.totalSize += len(chunk)
	}
	if p.have < len(p.chunks) {
		return nil, false, nil
	}

	out := make([]byte, 0, p.totalSize)
	for _, c := range p.chunks {
		out = append(out, c...)
	}
	delete(r.pending, h.messageID)
	r.markDelivered(h.messageID)
	return out, true, nil
}

func (r *reassembler) wasDelivered(id uint64) bool {
	for _, d := range r.delivered {
		if d == id {
			return true
		}
	}
	return false
}

func (r *reassembler) markDelivered(id uint64) {
	r.delivered = append(r.delivered, id)
	if len(r.delivered) > recentDeliveredSize {
		r.delivered = r.delivered[1:]
	}
}
