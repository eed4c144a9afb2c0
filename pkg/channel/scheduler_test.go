package channel

import (
	"testing"

	"github.com/dpvss/consensus/pkg/consensus"
)

func TestScheduleAssignsToLeastLoadedHolder(t *testing.T) {
	s := NewPeerScheduler()
	s.AddPeer(1)
	s.AddPeer(2)

	anchor := testAnchor(1)
	items := []Item{
		{Anchor: anchor, Kind: KindDistribute, DelegateID: testIdent(1)},
		{Anchor: anchor, Kind: KindDistribute, DelegateID: testIdent(2)},
		{Anchor: anchor, Kind: KindDistribute, DelegateID: testIdent(3)},
	}
	// Peer 1 is the only holder of the first two items; peer 2 also holds
	// the third. By the time the third item is scheduled, peer 1 already
	// carries two assignments, so the least-loaded tie-break should route
	// the third item to peer 2 instead of piling all three onto peer 1.
	s.RecordKnown(1, items[0])
	s.RecordKnown(1, items[1])
	s.RecordKnown(1, items[2])
	s.RecordKnown(2, items[2])

	assignments := s.Schedule(nil)
	if len(assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(assignments))
	}
	counts := map[PeerNonce]int{}
	for _, a := range assignments {
		counts[a.Nonce]++
	}
	if counts[1] != 2 || counts[2] != 1 {
		t.Fatalf("expected load to spread 2/1 across peers 1/2, got %+v", counts)
	}
}

func TestScheduleSkipsAlreadyAssignedAndFiltered(t *testing.T) {
	s := NewPeerScheduler()
	s.AddPeer(1)
	inWindow := testAnchor(1)
	outOfWindow := testAnchor(2)

	itemIn := Item{Anchor: inWindow, Kind: KindPublish, DelegateID: testIdent(1)}
	itemOut := Item{Anchor: outOfWindow, Kind: KindPublish, DelegateID: testIdent(1)}
	s.RecordKnown(1, itemIn)
	s.RecordKnown(1, itemOut)

	filter := func(a consensus.Hash256) bool { return a == inWindow }
	assignments := s.Schedule(filter)
	if len(assignments) != 1 || assignments[0].Item != itemIn {
		t.Fatalf("expected only the in-window item to be scheduled, got %+v", assignments)
	}

	// Re-scheduling without any new known items should produce nothing,
	// since itemIn is now assigned.
	again := s.Schedule(filter)
	if len(again) != 0 {
		t.Fatalf("expected no new assignments on reschedule, got %+v", again)
	}
}

func TestGetAssignedPeerAndRemoveKnown(t *testing.T) {
	s := NewPeerScheduler()
	s.AddPeer(1)
	item := Item{Anchor: testAnchor(1), Kind: KindDistribute, DelegateID: testIdent(1)}
	s.RecordKnown(1, item)
	s.Schedule(nil)

	nonce, ok := s.GetAssignedPeer(item)
	if !ok || nonce != 1 {
		t.Fatalf("expected item assigned to peer 1, got %v %v", nonce, ok)
	}

	s.RemoveKnown(item)
	if _, ok := s.GetAssignedPeer(item); ok {
		t.Fatalf("expected assignment cleared after RemoveKnown")
	}
}

func TestPenalizeTracksMisbehaviorWithoutDisconnecting(t *testing.T) {
	s := NewPeerScheduler()
	s.AddPeer(1)
	s.Penalize(1)
	s.Penalize(1)
	if got := s.MisbehaviorCount(1); got != 2 {
		t.Fatalf("misbehavior count = %d, want 2", got)
	}
	// Peer is still registered; RemovePeer is the only thing that drops it.
	item := Item{Anchor: testAnchor(1), Kind: KindDistribute, DelegateID: testIdent(1)}
	s.RecordKnown(1, item)
	if assignments := s.Schedule(nil); len(assignments) != 1 {
		t.Fatalf("expected peer 1 still schedulable after penalties, got %+v", assignments)
	}
}

func TestRemovePeerFreesAssignments(t *testing.T) {
	s := NewPeerScheduler()
	s.AddPeer(1)
	item := Item{Anchor: testAnchor(1), Kind: KindDistribute, DelegateID: testIdent(1)}
	s.RecordKnown(1, item)
	s.Schedule(nil)
	if _, ok := s.GetAssignedPeer(item); !ok {
		t.Fatalf("expected item assigned before peer removal")
	}

	s.RemovePeer(1)
	if _, ok := s.GetAssignedPeer(item); ok {
		t.Fatalf("expected assignment cleared after RemovePeer")
	}
	if assignments := s.Schedule(nil); len(assignments) != 0 {
		t.Fatalf("expected no assignments once the only holder is gone, got %+v", assignments)
	}
}
