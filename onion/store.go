package onion

import (
	"time"

	"github.com/toxgo/toxgo/identity"
)

// storeBucketCount and storeBucketSize follow the announce-entry table
// shape: 32 buckets selected by the 5 bits immediately following the
// highest bit at which a candidate's key differs from the local node's,
// each holding up to 8 entries ordered by closeness.
const (
	storeBucketCount = 32
	storeBucketSize  = 8
)

// AnnounceEntry is one stored announcement: the announcing client's
// public key, the return-path stub chain needed to reach it, and the
// data key it is reachable under.
type AnnounceEntry struct {
	ClientPK identity.PublicKey
	DataPK   identity.PublicKey
	ReplyTo  [][]byte // return-path stub chain, most-recently-added last
	StoredAt time.Time
	ExpireAt time.Time
}

// AnnounceStore is the table a DHT node maintains of announcements routed
// to it: at most storeBucketSize entries per
// bucket, each client key appearing at most once overall, closer entries
// evicting farther ones when a bucket is full.
type AnnounceStore struct {
	self      identity.PublicKey
	startedAt time.Time
	buckets   [storeBucketCount][]*AnnounceEntry
}

// NewAnnounceStore creates an empty store local to self, started at now:
// the store's own notion of node uptime (used to cap negotiated
// announcement timeouts) is measured from this instant.
func NewAnnounceStore(self identity.PublicKey, now time.Time) *AnnounceStore {
	return &AnnounceStore{self: self, startedAt: now}
}

// Uptime reports how long this store (and, by extension, the node
// hosting it) has been running as of now.
func (s *AnnounceStore) Uptime(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}

// bucketIndex computes the announce bucket number for pk relative to
// self: the 5-bit value formed by the bits immediately following the
// highest-order bit at which the two keys' XOR differs, for even
// distribution across storeBucketCount buckets (the bit position itself
// clusters almost every real-world key pair into the first few buckets,
// since two random keys differ in their very first byte over 99% of the
// time).
func bucketIndex(self, pk identity.PublicKey) int {
	var diff [32]byte
	for i := range diff {
		diff[i] = self[i] ^ pk[i]
	}

	highest := -1
	for byteIdx := 0; byteIdx < 32 && highest < 0; byteIdx++ {
		if diff[byteIdx] == 0 {
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if diff[byteIdx]&(1<<uint(bit)) != 0 {
				highest = byteIdx*8 + (7 - bit)
				break
			}
		}
	}
	if highest < 0 {
		// Identical keys; shouldn't occur for a distinct announcer.
		return 0
	}
	return bitsAt(diff, highest+1, 5)
}

// bitsAt reads the n bits of diff starting at bit offset start (0 is the
// most significant bit of diff[0]) as an unsigned integer, most
// significant bit first. Bit offsets past the end of diff read as zero.
func bitsAt(diff [32]byte, start, n int) int {
	val := 0
	for i := 0; i < n; i++ {
		bitPos := start + i
		var bit int
		if byteIdx := bitPos / 8; byteIdx < len(diff) {
			shift := 7 - bitPos%8
			bit = int((diff[byteIdx] >> uint(shift)) & 1)
		}
		val = (val << 1) | bit
	}
	return val
}

// Put inserts or refreshes entry, enforcing the at-most-once-per-key and
// closer-evicts-farther invariants.
func (s *AnnounceStore) Put(entry *AnnounceEntry, now time.Time) bool {
	idx := bucketIndex(s.self, entry.ClientPK)
	bucket := s.buckets[idx]

	for i, e := range bucket {
		if e.ClientPK == entry.ClientPK {
			bucket[i] = entry
			return true
		}
	}

	if len(bucket) < storeBucketSize {
		s.buckets[idx] = append(bucket, entry)
		return true
	}

	worst, worstDist := -1, [32]byte{}
	for i, e := range bucket {
		d := identity.Distance(e.ClientPK, s.self)
		if i == 0 || greater(d, worstDist) {
			worst, worstDist = i, d
		}
	}
	newDist := identity.Distance(entry.ClientPK, s.self)
	if worst >= 0 && greater(worstDist, newDist) {
		bucket[worst] = entry
		return true
	}
	return false
}

// Get finds the stored entry for clientPK, if any and not expired.
func (s *AnnounceStore) Get(clientPK identity.PublicKey, now time.Time) (*AnnounceEntry, bool) {
	idx := bucketIndex(s.self, clientPK)
	for i, e := range s.buckets[idx] {
		if e.ClientPK != clientPK {
			continue
		}
		if now.After(e.ExpireAt) {
			s.buckets[idx] = append(s.buckets[idx][:i], s.buckets[idx][i+1:]...)
			return nil, false
		}
		return e, true
	}
	return nil, false
}

// Closest returns up to n stored entries whose client keys are closest to
// target, used to answer a lookup (data-search) request.
func (s *AnnounceStore) Closest(target identity.PublicKey, n int) []*AnnounceEntry {
	var all []*AnnounceEntry
	for _, bucket := range s.buckets {
		all = append(all, bucket...)
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			if greater(identity.Distance(all[j-1].ClientPK, target), identity.Distance(all[j].ClientPK, target)) {
				all[j-1], all[j] = all[j], all[j-1]
			} else {
				break
			}
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func greater(a, b [32]byte) bool {
	for i := 0; i < 32; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
