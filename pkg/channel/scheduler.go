package channel

import (
	"sort"
	"sync"

	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/pvss"
)

// PeerNonce identifies one connected peer for scheduling purposes — a
// small locally-assigned handle rather than the peer's full transport
// address, matching the original's nNonce.
type PeerNonce uint64

// Item is one fetchable inventory entry: a (anchor, kind, delegate)
// triple, the unit RecordKnown/RemoveKnown/Schedule operate on.
type Item struct {
	Anchor     consensus.Hash256
	Kind       ItemKind
	DelegateID pvss.Identity
}

type peerState struct {
	assigned   map[Item]struct{}
	misbehave  int
}

// PeerScheduler is CSchedule: it tracks which connected peers claim to
// know which inventory items and assigns each unassigned item to exactly
// one holder, balancing outstanding-assignment load.
type PeerScheduler struct {
	mu sync.Mutex

	peers map[PeerNonce]*peerState
	// known[item] is the set of peers that advertised it via Bulletin and
	// haven't since had it removed (fetched or peer disconnected).
	known    map[Item]map[PeerNonce]struct{}
	assignee map[Item]PeerNonce
}

func NewPeerScheduler() *PeerScheduler {
	return &PeerScheduler{
		peers:    make(map[PeerNonce]*peerState),
		known:    make(map[Item]map[PeerNonce]struct{}),
		assignee: make(map[Item]PeerNonce),
	}
}

// AddPeer registers a newly-active DELEGATED-service peer.
func (s *PeerScheduler) AddPeer(nonce PeerNonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[nonce]; !ok {
		s.peers[nonce] = &peerState{assigned: make(map[Item]struct{})}
	}
}

// RemovePeer drops a disconnected peer and frees every item it was
// assigned or known to hold, so Schedule can reassign them.
func (s *PeerScheduler) RemovePeer(nonce PeerNonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, nonce)
	for item, holders := range s.known {
		delete(holders, nonce)
		if len(holders) == 0 {
			delete(s.known, item)
		}
	}
	for item, assignee := range s.assignee {
		if assignee == nonce {
			delete(s.assignee, item)
		}
	}
}

// RecordKnown notes that nonce advertised item via a bulletin bit.
func (s *PeerScheduler) RecordKnown(nonce PeerNonce, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[nonce]; !ok {
		return
	}
	holders, ok := s.known[item]
	if !ok {
		holders = make(map[PeerNonce]struct{})
		s.known[item] = holders
	}
	holders[nonce] = struct{}{}
}

// RemoveKnown drops item from scheduling once it has been fetched
// (successfully or with an empty body) so it is never re-requested.
func (s *PeerScheduler) RemoveKnown(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, item)
	if assignee, ok := s.assignee[item]; ok {
		if p, ok := s.peers[assignee]; ok {
			delete(p.assigned, item)
		}
		delete(s.assignee, item)
	}
}

// Penalize records a misbehaviour against nonce (e.g. an unsolicited
// share) without disconnecting it — repeated misbehaviour is the host's
// transport layer's call, not the scheduler's.
func (s *PeerScheduler) Penalize(nonce PeerNonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[nonce]; ok {
		p.misbehave++
	}
}

// MisbehaviorCount reports how many penalties nonce has accrued.
func (s *PeerScheduler) MisbehaviorCount(nonce PeerNonce) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[nonce]; ok {
		return p.misbehave
	}
	return 0
}

// GetAssignedPeer reports which peer, if any, is the current assignee for
// item — the fast path inbound-data validation uses to reject unsolicited
// shares.
func (s *PeerScheduler) GetAssignedPeer(item Item) (PeerNonce, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.assignee[item]
	return n, ok
}

// Schedule assigns every unassigned known item that passes filter to the
// holder with the fewest outstanding assignments, breaking ties by the
// lowest nonce, and returns the new (nonce, item) assignments made.
func (s *PeerScheduler) Schedule(filter func(consensus.Hash256) bool) []struct {
	Nonce PeerNonce
	Item  Item
} {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Item, 0, len(s.known))
	for item := range s.known {
		if _, assigned := s.assignee[item]; assigned {
			continue
		}
		if filter != nil && !filter(item.Anchor) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return itemLess(items[i], items[j]) })

	var out []struct {
		Nonce PeerNonce
		Item  Item
	}
	for _, item := range items {
		holders := s.known[item]
		best, ok := s.pickLeastLoaded(holders)
		if !ok {
			continue
		}
		s.assignee[item] = best
		s.peers[best].assigned[item] = struct{}{}
		out = append(out, struct {
			Nonce PeerNonce
			Item  Item
		}{Nonce: best, Item: item})
	}
	return out
}

func (s *PeerScheduler) pickLeastLoaded(holders map[PeerNonce]struct{}) (PeerNonce, bool) {
	var best PeerNonce
	bestLoad := -1
	found := false
	for nonce := range holders {
		p, ok := s.peers[nonce]
		if !ok {
			continue
		}
		load := len(p.assigned)
		if !found || load < bestLoad || (load == bestLoad && nonce < best) {
			best, bestLoad, found = nonce, load, true
		}
	}
	return best, found
}

func itemLess(a, b Item) bool {
	if a.Anchor != b.Anchor {
		return lessIdentWire(toIdent(a.Anchor), toIdent(b.Anchor))
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return lessIdentWire(a.DelegateID, b.DelegateID)
}

func toIdent(h consensus.Hash256) pvss.Identity {
	return pvss.Identity(h)
}
