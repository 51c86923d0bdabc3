package groupconn

import "encoding/binary"

// maxFragmentBody bounds one fragment's payload slice, leaving headroom
// under a net-crypto/TCP-relay frame's usable body for the fragment
// header itself plus whatever framing the underlying transport adds.
const maxFragmentBody = 1024

// fragmentHeaderSize is [messageID:8][index:2][count:2] ahead of each
// fragment's payload slice.
const fragmentHeaderSize = 8 + 2 + 2

func encodeFragment(messageID uint64, index, count uint16, chunk []byte) []byte {
	out := make([]byte, fragmentHeaderSize+len(chunk))
	binary.BigEndian.PutUint64(out[0:8], messageID)
	binary.BigEndian.PutUint16(out[8:10], index)
	binary.BigEndian.PutUint16(out[10:12], count)
	copy(out[fragmentHeaderSize:], chunk)
	return out
}

type fragmentHeader struct {
	messageID uint64
	index     uint16
	count     uint16
}

func decodeFragment(raw []byte) (fragmentHeader, []byte, bool) {
	if len(raw) < fragmentHeaderSize {
		return fragmentHeader{}, nil, false
	}
	h := fragmentHeader{
		messageID: binary.BigEndian.Uint64(raw[0:8]),
		index:     binary.BigEndian.Uint16(raw[8:10]),
		count:     binary.BigEndian.Uint16(raw[10:12]),
	}
	if h.count == 0 || h.index >= h.count {
		return fragmentHeader{}, nil, false
	}
	return h, raw[fragmentHeaderSize:], true
}

// splitFragments divides payload into count chunks of at most
// maxFragmentBody bytes each, each already carrying its fragment header.
func splitFragments(messageID uint64, payload []byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{encodeFragment(messageID, 0, 1, nil)}
	}
	count := (len(payload) + maxFragmentBody - 1) / maxFragmentBody
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxFragmentBody
		end := start + maxFragmentBody
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, encodeFragment(messageID, uint16(i), uint16(count), payload[start:end]))
	}
	return out
}
