package channel

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dpvss/consensus/params"
	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/util"
)

// ServiceDelegated is the service-bit a peer must advertise for the
// channel driver to track it at all, mirroring the original's DELEGATED
// service flag on PeerActive.
const ServiceDelegated uint32 = 1 << 2

// PeerNet is the one-way outbound capability DelegatedChannel holds on
// the transport: send an already-encoded frame to one peer, or broadcast
// it to every tracked peer. Resolves the cyclic-ownership problem between
// the channel and its transport by making the transport a narrow
// capability rather than a shared mutable struct.
type PeerNet interface {
	Send(nonce PeerNonce, frame []byte) error
	Broadcast(frame []byte, exclude map[PeerNonce]struct{}) error
}

// DelegatedChannel ties the chain view, peer scheduler, and wire codec to
// a ConsensusDriver, implementing the inbound frame handling table of
// §4.H. This is CDelegatedChannel.
type DelegatedChannel struct {
	mu sync.Mutex

	cfg    params.Consensus
	view   *ChainView
	sched  *PeerScheduler
	driver *consensus.ConsensusDriver
	net    PeerNet
	clock  util.Clock
	log    *zap.Logger

	// peerKnows[nonce] is the set of items nonce has advertised to this
	// node through its own bulletin bits, so pushBulletin only sends to
	// peers that don't already know at least one advertised bit.
	peerKnows map[PeerNonce]map[Item]struct{}

	bulletinTimer *time.Timer
	publishTimer  *time.Timer
}

// NewDelegatedChannel wires a channel driver over an already-constructed
// chain view, scheduler, and ConsensusDriver.
func NewDelegatedChannel(cfg params.Consensus, view *ChainView, sched *PeerScheduler, driver *consensus.ConsensusDriver, net PeerNet, clock util.Clock, log *zap.Logger) *DelegatedChannel {
	return &DelegatedChannel{
		cfg:       cfg,
		view:      view,
		sched:     sched,
		driver:    driver,
		net:       net,
		clock:     clock,
		log:       log,
		peerKnows: make(map[PeerNonce]map[Item]struct{}),
	}
}

func (d *DelegatedChannel) targetHeight(anchorHeight uint64) uint64 {
	return anchorHeight + uint64(d.cfg.DistributeInterval) + 1
}

// OnPeerActive registers a peer that advertises the delegated service bit.
func (d *DelegatedChannel) OnPeerActive(nonce PeerNonce, serviceBits uint32) {
	if serviceBits&ServiceDelegated == 0 {
		return
	}
	d.sched.AddPeer(nonce)
}

// OnPeerDeactive drops a disconnected peer and reschedules its items.
func (d *DelegatedChannel) OnPeerDeactive(nonce PeerNonce) {
	d.sched.RemovePeer(nonce)
	d.mu.Lock()
	delete(d.peerKnows, nonce)
	d.mu.Unlock()
	d.reschedule()
}

// OnBulletin records every advertised bit against nonce and reschedules
// fetches for anything newly known. A bulletin with more than
// DistributeInterval+1 extra bitmaps is rejected.
func (d *DelegatedChannel) OnBulletin(nonce PeerNonce, raw []byte) error {
	f, err := DecodeBulletin(raw)
	if err != nil {
		return err
	}
	if limit := int(d.cfg.DistributeInterval) + 1; len(f.Extra) > limit {
		return fmt.Errorf("channel: bulletin carries %d extra bitmaps, limit %d", len(f.Extra), limit)
	}
	d.recordBulletinAnchor(nonce, f.Anchor, f.BmDistribute, f.BmPublish)
	for _, extra := range f.Extra {
		d.recordBulletinAnchor(nonce, extra.Anchor, extra.Bitmap, 0)
	}
	d.reschedule()
	return nil
}

func (d *DelegatedChannel) recordBulletinAnchor(nonce PeerNonce, anchor consensus.Hash256, bmDistribute, bmPublish uint64) {
	list := d.view.EnrolledList(anchor)
	var advertised []Item
	for i, id := range list {
		if i >= 64 {
			break
		}
		bit := uint64(1) << uint(i)
		if bmDistribute&bit != 0 {
			advertised = append(advertised, Item{Anchor: anchor, Kind: KindDistribute, DelegateID: id})
		}
		if bmPublish&bit != 0 {
			advertised = append(advertised, Item{Anchor: anchor, Kind: KindPublish, DelegateID: id})
		}
	}
	for _, item := range advertised {
		d.sched.RecordKnown(nonce, item)
	}
	d.mu.Lock()
	known := d.peerKnows[nonce]
	if known == nil {
		known = make(map[Item]struct{})
		d.peerKnows[nonce] = known
	}
	for _, item := range advertised {
		known[item] = struct{}{}
	}
	d.mu.Unlock()
}

// reschedule assigns every unassigned known item still in the chain view
// window and sends a Get request to its new assignee.
func (d *DelegatedChannel) reschedule() {
	assignments := d.sched.Schedule(d.view.InWindow)
	for _, a := range assignments {
		get := GetFrame{Anchor: a.Item.Anchor, Kind: a.Item.Kind, DelegateID: a.Item.DelegateID}
		if err := d.net.Send(a.Nonce, EncodeGet(get)); err != nil {
			d.log.Debug("send get failed", zap.Uint64("nonce", uint64(a.Nonce)), zap.Error(err))
		}
	}
}

// OnGetDelegated answers a peer's fetch request from the chain view. An
// empty payload is a valid "I don't have it" response, not an error.
func (d *DelegatedChannel) OnGetDelegated(nonce PeerNonce, raw []byte) error {
	f, err := DecodeGet(raw)
	if err != nil {
		return err
	}
	switch f.Kind {
	case KindDistribute:
		data, ok := d.view.GetDistribute(f.Anchor, f.DelegateID)
		payload := []byte{}
		if ok {
			payload = EncodePayload(data)
		}
		return d.net.Send(nonce, EncodeDistribute(DataFrame{Anchor: f.Anchor, DelegateID: f.DelegateID, Payload: payload}))
	case KindPublish:
		data, ok := d.view.GetPublish(f.Anchor, f.DelegateID)
		payload := []byte{}
		if ok {
			payload = EncodePayload(data)
		}
		return d.net.Send(nonce, EncodePublish(DataFrame{Anchor: f.Anchor, DelegateID: f.DelegateID, Payload: payload}))
	default:
		return ErrUnknownFrame
	}
}

// OnDistribute handles an inbound Distribute response: validates the
// sender was actually assigned this item, forwards to the consensus
// driver, and on success records it in the chain view and rebroadcasts a
// bulletin.
func (d *DelegatedChannel) OnDistribute(nonce PeerNonce, raw []byte) error {
	f, err := DecodeDistribute(raw)
	if err != nil {
		return err
	}
	return d.handleDataFrame(nonce, f, KindDistribute)
}

// OnPublish handles an inbound Publish response the same way OnDistribute
// does, additionally surfacing whether the round completed.
func (d *DelegatedChannel) OnPublish(nonce PeerNonce, raw []byte) (completed bool, err error) {
	f, decErr := DecodePublish(raw)
	if decErr != nil {
		return false, decErr
	}
	return d.handlePublishFrame(nonce, f)
}

func (d *DelegatedChannel) handleDataFrame(nonce PeerNonce, f DataFrame, kind ItemKind) error {
	if !d.view.InWindow(f.Anchor) {
		return nil // out-of-range anchor: drop silently, not a fault
	}
	item := Item{Anchor: f.Anchor, Kind: kind, DelegateID: f.DelegateID}
	assignee, ok := d.sched.GetAssignedPeer(item)
	if !ok || assignee != nonce {
		d.sched.Penalize(nonce)
		return nil
	}
	if len(f.Payload) == 0 {
		d.sched.RemoveKnown(item)
		return nil
	}

	data, err := DecodePayload(f.Payload)
	if err != nil {
		d.sched.Penalize(nonce)
		return err
	}
	height, ok := d.view.Height(f.Anchor)
	if !ok {
		return nil
	}
	ok, err = d.driver.HandleDistribute(d.targetHeight(height), f.Anchor, f.DelegateID, data)
	if err != nil || !ok {
		return err
	}
	d.sched.RemoveKnown(item)
	d.pushBulletin(false)
	return nil
}

func (d *DelegatedChannel) handlePublishFrame(nonce PeerNonce, f DataFrame) (bool, error) {
	if !d.view.InWindow(f.Anchor) {
		return false, nil
	}
	item := Item{Anchor: f.Anchor, Kind: KindPublish, DelegateID: f.DelegateID}
	assignee, ok := d.sched.GetAssignedPeer(item)
	if !ok || assignee != nonce {
		d.sched.Penalize(nonce)
		return false, nil
	}
	if len(f.Payload) == 0 {
		d.sched.RemoveKnown(item)
		return false, nil
	}

	data, err := DecodePayload(f.Payload)
	if err != nil {
		d.sched.Penalize(nonce)
		return false, err
	}
	height, ok := d.view.Height(f.Anchor)
	if !ok {
		return false, nil
	}
	completed, ok, err := d.driver.HandlePublish(d.targetHeight(height), f.Anchor, f.DelegateID, data)
	if err != nil || !ok {
		return false, err
	}
	d.sched.RemoveKnown(item)
	d.pushBulletin(false)
	return completed, nil
}

// pushBulletin broadcasts the primary anchor's bitmaps plus any other
// in-window anchor with non-zero distribute bits, to every peer that
// doesn't already know at least one bit it advertises. forced bypasses
// that per-peer suppression (used on fork).
func (d *DelegatedChannel) pushBulletin(forced bool) {
	back, ok := d.view.BackAnchor()
	if !ok {
		return
	}
	frame := BulletinFrame{
		Anchor:       back,
		BmDistribute: d.view.DistributeBitmap(back),
		BmPublish:    d.view.PublishBitmap(back),
		Extra:        d.view.OtherAnchorsWithDistributeBits(back),
	}
	encoded := EncodeBulletin(frame)

	if forced {
		if err := d.net.Broadcast(encoded, nil); err != nil {
			d.log.Debug("broadcast bulletin failed", zap.Error(err))
		}
		return
	}
	// Per-peer suppression: skip peers whose own bulletins already
	// advertised every bit in this bulletin.
	d.mu.Lock()
	exclude := make(map[PeerNonce]struct{})
	for nonce, known := range d.peerKnows {
		if d.coversAllBits(known, frame) {
			exclude[nonce] = struct{}{}
		}
	}
	d.mu.Unlock()
	if err := d.net.Broadcast(encoded, exclude); err != nil {
		d.log.Debug("broadcast bulletin failed", zap.Error(err))
	}
}

func (d *DelegatedChannel) coversAllBits(known map[Item]struct{}, frame BulletinFrame) bool {
	list := d.view.EnrolledList(frame.Anchor)
	for i, id := range list {
		if i >= 64 {
			break
		}
		bit := uint64(1) << uint(i)
		if frame.BmDistribute&bit != 0 {
			if _, ok := known[Item{Anchor: frame.Anchor, Kind: KindDistribute, DelegateID: id}]; !ok {
				return false
			}
		}
		if frame.BmPublish&bit != 0 {
			if _, ok := known[Item{Anchor: frame.Anchor, Kind: KindPublish, DelegateID: id}]; !ok {
				return false
			}
		}
	}
	return true
}

// StartBulletinTimer arms the periodic debounced bulletin broadcast.
func (d *DelegatedChannel) StartBulletinTimer() {
	d.mu.Lock()
	if d.bulletinTimer != nil {
		d.bulletinTimer.Stop()
	}
	d.bulletinTimer = time.AfterFunc(d.cfg.BulletinTimeout, d.onBulletinTick)
	d.mu.Unlock()
}

func (d *DelegatedChannel) onBulletinTick() {
	d.pushBulletin(false)
	d.StartBulletinTimer()
}

// ForceBulletin pushes an unconditional bulletin, used on fork so every
// peer re-syncs against the new anchor regardless of what it previously
// knew.
func (d *DelegatedChannel) ForceBulletin() {
	d.pushBulletin(true)
}

// SchedulePublishRelease arms a one-shot timer that forces a bulletin
// broadcast the instant a newly-arrived publish map's release time
// elapses, revealing the publish bitmap to every peer at once.
func (d *DelegatedChannel) SchedulePublishRelease(releaseTime time.Time) {
	d.mu.Lock()
	if d.publishTimer != nil {
		d.publishTimer.Stop()
	}
	delay := releaseTime.Sub(d.clock.Now())
	d.mu.Unlock()
	if delay <= 0 {
		d.ForceBulletin()
		return
	}
	d.mu.Lock()
	d.publishTimer = time.AfterFunc(delay, d.ForceBulletin)
	d.mu.Unlock()
}
