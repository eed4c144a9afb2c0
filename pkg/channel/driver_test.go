package channel

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dpvss/consensus/params"
	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/parallel"
	"github.com/dpvss/consensus/pkg/pvss"
	"github.com/dpvss/consensus/pkg/util"
)

// fakeNet is an in-memory PeerNet recording every Send/Broadcast call, used
// to assert on a DelegatedChannel's outbound traffic without a real
// transport.
type fakeNet struct {
	mu         sync.Mutex
	sent       []sentMsg
	broadcasts []broadcastMsg
}

type sentMsg struct {
	nonce PeerNonce
	frame []byte
}

type broadcastMsg struct {
	frame   []byte
	exclude map[PeerNonce]struct{}
}

func (n *fakeNet) Send(nonce PeerNonce, frame []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMsg{nonce: nonce, frame: append([]byte(nil), frame...)})
	return nil
}

func (n *fakeNet) Broadcast(frame []byte, exclude map[PeerNonce]struct{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, broadcastMsg{frame: append([]byte(nil), frame...), exclude: exclude})
	return nil
}

func newTestChannel(t *testing.T, idents []pvss.Identity, clock util.Clock) (*DelegatedChannel, *fakeNet, *ChainView, *PeerScheduler) {
	t.Helper()
	cfg := params.Testnet().Consensus
	view := NewChainView(cfg.DistributeInterval, clock)
	sched := NewPeerScheduler()
	driver := consensus.NewConsensusDriver(cfg, idents, parallel.NewPool(2), zap.NewNop())
	net := &fakeNet{}
	ch := NewDelegatedChannel(cfg, view, sched, driver, net, clock, zap.NewNop())
	return ch, net, view, sched
}

func TestOnBulletinSchedulesGetForAdvertisedItem(t *testing.T) {
	idA, idB := testIdent(1), testIdent(2)
	clock := util.NewVirtualClock(time.Unix(0, 0))
	ch, net, view, _ := newTestChannel(t, []pvss.Identity{idA}, clock)

	anchor := testAnchor(1)
	view.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA, idB)}}, nil, consensus.Hash256{}, nil, time.Time{})

	const peerNonce PeerNonce = 5
	ch.OnPeerActive(peerNonce, ServiceDelegated)

	list := view.EnrolledList(anchor)
	var bit uint64
	for i, id := range list {
		if id == idA {
			bit = 1 << uint(i)
		}
	}
	bulletin := BulletinFrame{Anchor: anchor, BmDistribute: bit}
	if err := ch.OnBulletin(peerNonce, EncodeBulletin(bulletin)); err != nil {
		t.Fatalf("OnBulletin: %v", err)
	}

	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.sent) != 1 {
		t.Fatalf("expected exactly one Get sent, got %d", len(net.sent))
	}
	got, err := DecodeGet(net.sent[0].frame)
	if err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if net.sent[0].nonce != peerNonce || got.Anchor != anchor || got.Kind != KindDistribute || got.DelegateID != idA {
		t.Fatalf("unexpected get request: nonce=%v frame=%+v", net.sent[0].nonce, got)
	}
}

func TestOnPeerDeactiveDropsKnowledge(t *testing.T) {
	idA := testIdent(1)
	clock := util.NewVirtualClock(time.Unix(0, 0))
	ch, _, view, sched := newTestChannel(t, []pvss.Identity{idA}, clock)

	anchor := testAnchor(1)
	view.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA)}}, nil, consensus.Hash256{}, nil, time.Time{})

	const peerNonce PeerNonce = 9
	ch.OnPeerActive(peerNonce, ServiceDelegated)
	bulletin := BulletinFrame{Anchor: anchor, BmDistribute: 1}
	if err := ch.OnBulletin(peerNonce, EncodeBulletin(bulletin)); err != nil {
		t.Fatalf("OnBulletin: %v", err)
	}
	item := Item{Anchor: anchor, Kind: KindDistribute, DelegateID: idA}
	if _, ok := sched.GetAssignedPeer(item); !ok {
		t.Fatalf("expected item assigned before peer deactivation")
	}

	ch.OnPeerDeactive(peerNonce)
	if _, ok := sched.GetAssignedPeer(item); ok {
		t.Fatalf("expected assignment cleared after peer deactivation")
	}
}

// TestHandleDistributeRejectsUnsolicited exercises E5: data arriving from a
// peer that was never assigned this item is dropped and penalized, with no
// error surfaced and no driver state touched.
func TestHandleDistributeRejectsUnsolicited(t *testing.T) {
	idA := testIdent(1)
	clock := util.NewVirtualClock(time.Unix(0, 0))
	ch, _, view, sched := newTestChannel(t, []pvss.Identity{idA}, clock)

	anchor := testAnchor(1)
	view.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA)}}, nil, consensus.Hash256{}, nil, time.Time{})

	const uninvited PeerNonce = 42
	ch.OnPeerActive(uninvited, ServiceDelegated)

	frame := EncodeDistribute(DataFrame{Anchor: anchor, DelegateID: idA, Payload: []byte("unsolicited")})
	if err := ch.OnDistribute(uninvited, frame); err != nil {
		t.Fatalf("expected unsolicited distribute to be silently dropped, got error %v", err)
	}
	if got := sched.MisbehaviorCount(uninvited); got != 1 {
		t.Fatalf("expected misbehavior count 1, got %d", got)
	}
}

// TestHandleDistributeOutOfWindowIsSilentlyDropped covers a late arrival for
// an anchor the chain view no longer tracks.
func TestHandleDistributeOutOfWindowIsSilentlyDropped(t *testing.T) {
	idA := testIdent(1)
	clock := util.NewVirtualClock(time.Unix(0, 0))
	ch, _, _, sched := newTestChannel(t, []pvss.Identity{idA}, clock)

	frame := EncodeDistribute(DataFrame{Anchor: testAnchor(99), DelegateID: idA, Payload: []byte("stale")})
	if err := ch.OnDistribute(1, frame); err != nil {
		t.Fatalf("expected out-of-window distribute to be dropped without error, got %v", err)
	}
	if got := sched.MisbehaviorCount(1); got != 0 {
		t.Fatalf("expected no misbehavior penalty for an out-of-window anchor, got %d", got)
	}
}

func TestPushBulletinSuppressesPeersThatAlreadyKnow(t *testing.T) {
	idA := testIdent(1)
	clock := util.NewVirtualClock(time.Unix(0, 0))
	ch, net, view, _ := newTestChannel(t, []pvss.Identity{idA}, clock)

	anchor := testAnchor(1)
	view.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA)}},
		map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData{anchor: {idA: {IdentFrom: idA}}},
		consensus.Hash256{}, nil, time.Time{})

	const knowingPeer PeerNonce = 3
	item := Item{Anchor: anchor, Kind: KindDistribute, DelegateID: idA}
	ch.peerKnows[knowingPeer] = map[Item]struct{}{item: {}}

	ch.pushBulletin(false)

	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.broadcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(net.broadcasts))
	}
	if _, excluded := net.broadcasts[0].exclude[knowingPeer]; !excluded {
		t.Fatalf("expected peer %d (already knows every bit) to be excluded, exclude=%+v", knowingPeer, net.broadcasts[0].exclude)
	}
}

func TestForceBulletinBypassesSuppression(t *testing.T) {
	idA := testIdent(1)
	clock := util.NewVirtualClock(time.Unix(0, 0))
	ch, net, view, _ := newTestChannel(t, []pvss.Identity{idA}, clock)

	anchor := testAnchor(1)
	view.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA)}},
		map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData{anchor: {idA: {IdentFrom: idA}}},
		consensus.Hash256{}, nil, time.Time{})

	const knowingPeer PeerNonce = 3
	item := Item{Anchor: anchor, Kind: KindDistribute, DelegateID: idA}
	ch.peerKnows[knowingPeer] = map[Item]struct{}{item: {}}

	ch.ForceBulletin()

	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.broadcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(net.broadcasts))
	}
	if net.broadcasts[0].exclude != nil {
		t.Fatalf("expected forced bulletin to bypass suppression, got exclude=%+v", net.broadcasts[0].exclude)
	}
}

// TestSchedulePublishReleaseFiresImmediatelyWhenAlreadyElapsed covers the
// non-timer branch: a release time already in the past should force a
// bulletin synchronously instead of arming a timer.
func TestSchedulePublishReleaseFiresImmediatelyWhenAlreadyElapsed(t *testing.T) {
	idA := testIdent(1)
	clock := util.NewVirtualClock(time.Unix(1000, 0))
	ch, net, view, _ := newTestChannel(t, []pvss.Identity{idA}, clock)

	anchor := testAnchor(1)
	view.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA)}}, nil, consensus.Hash256{}, nil, time.Time{})

	ch.SchedulePublishRelease(clock.Now().Add(-time.Second))

	net.mu.Lock()
	defer net.mu.Unlock()
	if len(net.broadcasts) != 1 {
		t.Fatalf("expected an immediate forced bulletin, got %d broadcasts", len(net.broadcasts))
	}
}
