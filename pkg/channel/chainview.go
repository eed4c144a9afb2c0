package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/pvss"
	"github.com/dpvss/consensus/pkg/util"
)

// anchorEntry is one in-window block: the enrolled delegate list at that
// height (fixing bit positions for the bulletin bitmaps) plus whatever
// distribute/publish frames have arrived for it so far.
type anchorEntry struct {
	Height       uint64
	Anchor       consensus.Hash256
	EnrolledList []pvss.Identity

	DistributeMap map[pvss.Identity]consensus.DelegateData
	PublishMap    map[pvss.Identity]consensus.DelegateData

	PublishReleaseTime time.Time
	publishGated       bool
}

func (e *anchorEntry) indexOf(id pvss.Identity) (int, bool) {
	for i, want := range e.EnrolledList {
		if want == id {
			return i, true
		}
	}
	return -1, false
}

// BlockEnroll is one block's contribution to the chain view: the height,
// its hash (the anchor), and the weight map enrolled as of that block.
type BlockEnroll struct {
	Height uint64
	Anchor consensus.Hash256
	Weight map[pvss.Identity]uint32
}

// ChainView is CDelegatedChannelChain: a bounded deque of in-window
// anchors (at most DISTRIBUTE_INTERVAL+1 deep) carrying the distribute and
// publish frames gathered for each, plus the release-time gate on
// publish's bitmap.
type ChainView struct {
	mu    sync.Mutex
	limit int
	clock util.Clock

	deque    []*anchorEntry
	byAnchor map[consensus.Hash256]*anchorEntry
}

// NewChainView builds an empty view bounded to distributeInterval+1 anchors.
func NewChainView(distributeInterval uint32, clock util.Clock) *ChainView {
	return &ChainView{
		limit:    int(distributeInterval) + 1,
		clock:    clock,
		byAnchor: make(map[consensus.Hash256]*anchorEntry),
	}
}

func (cv *ChainView) clear() {
	cv.deque = nil
	cv.byAnchor = make(map[consensus.Hash256]*anchorEntry)
}

// PrimaryUpdate folds one PrimaryUpdate batch into the view: clears on a
// backward startHeight, trims the front to the window bound, pushes the
// new blocks, merges distribute data by anchor, and — only once the window
// is exactly full and publishAnchor matches the current back — installs
// the publish map and its release-time gate.
func (cv *ChainView) PrimaryUpdate(
	startHeight uint64,
	blocks []BlockEnroll,
	distributeData map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData,
	publishAnchor consensus.Hash256,
	publishData map[pvss.Identity]consensus.DelegateData,
	publishReleaseTime time.Time,
) {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	if len(cv.deque) > 0 && startHeight < cv.deque[0].Height {
		cv.clear()
	}

	for len(cv.deque) > cv.limit {
		front := cv.deque[0]
		delete(cv.byAnchor, front.Anchor)
		cv.deque = cv.deque[1:]
	}

	for _, b := range blocks {
		idents := make([]pvss.Identity, 0, len(b.Weight))
		for id := range b.Weight {
			idents = append(idents, id)
		}
		sort.Slice(idents, func(i, j int) bool { return lessIdentWire(idents[i], idents[j]) })

		entry := &anchorEntry{
			Height:        b.Height,
			Anchor:        b.Anchor,
			EnrolledList:  idents,
			DistributeMap: make(map[pvss.Identity]consensus.DelegateData),
			PublishMap:    make(map[pvss.Identity]consensus.DelegateData),
		}
		cv.deque = append(cv.deque, entry)
		cv.byAnchor[b.Anchor] = entry

		for len(cv.deque) > cv.limit {
			front := cv.deque[0]
			delete(cv.byAnchor, front.Anchor)
			cv.deque = cv.deque[1:]
		}
	}

	for anchor, frames := range distributeData {
		entry, ok := cv.byAnchor[anchor]
		if !ok {
			continue
		}
		for id, data := range frames {
			entry.DistributeMap[id] = data
		}
	}

	if len(cv.deque) == cv.limit {
		back := cv.deque[len(cv.deque)-1]
		if back.Anchor == publishAnchor {
			for id, data := range publishData {
				back.PublishMap[id] = data
			}
			back.PublishReleaseTime = publishReleaseTime
			back.publishGated = true
		}
	}
}

// DistributeBitmap reports which enrolled-list positions have a distribute
// frame recorded for anchor.
func (cv *ChainView) DistributeBitmap(anchor consensus.Hash256) uint64 {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	entry, ok := cv.byAnchor[anchor]
	if !ok {
		return 0
	}
	return bitmapOf(entry.EnrolledList, entry.DistributeMap)
}

// PublishBitmap reports which enrolled-list positions have a publish frame
// recorded for anchor, returning 0 before PublishReleaseTime so a peer's
// bitmap can't leak how fast it collected shares.
func (cv *ChainView) PublishBitmap(anchor consensus.Hash256) uint64 {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	entry, ok := cv.byAnchor[anchor]
	if !ok {
		return 0
	}
	if entry.publishGated && cv.clock.Now().Before(entry.PublishReleaseTime) {
		return 0
	}
	return bitmapOf(entry.EnrolledList, entry.PublishMap)
}

func bitmapOf(list []pvss.Identity, have map[pvss.Identity]consensus.DelegateData) uint64 {
	var bm uint64
	for i, id := range list {
		if i >= 64 {
			break
		}
		if _, ok := have[id]; ok {
			bm |= 1 << uint(i)
		}
	}
	return bm
}

// GetDistribute returns the distribute frame recorded for id at anchor.
func (cv *ChainView) GetDistribute(anchor consensus.Hash256, id pvss.Identity) (consensus.DelegateData, bool) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	entry, ok := cv.byAnchor[anchor]
	if !ok {
		return consensus.DelegateData{}, false
	}
	d, ok := entry.DistributeMap[id]
	return d, ok
}

// GetPublish returns the publish frame recorded for id at anchor, honoring
// the same release-time gate as PublishBitmap.
func (cv *ChainView) GetPublish(anchor consensus.Hash256, id pvss.Identity) (consensus.DelegateData, bool) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	entry, ok := cv.byAnchor[anchor]
	if !ok {
		return consensus.DelegateData{}, false
	}
	if entry.publishGated && cv.clock.Now().Before(entry.PublishReleaseTime) {
		return consensus.DelegateData{}, false
	}
	d, ok := entry.PublishMap[id]
	return d, ok
}

// InWindow reports whether anchor is currently tracked by the view, the
// filter ConsensusDriver's Schedule uses to drop stale requests.
func (cv *ChainView) InWindow(anchor consensus.Hash256) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	_, ok := cv.byAnchor[anchor]
	return ok
}

// BackAnchor returns the newest in-window anchor, the primary bulletin
// subject, and whether the view holds anything at all.
func (cv *ChainView) BackAnchor() (consensus.Hash256, bool) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if len(cv.deque) == 0 {
		return consensus.Hash256{}, false
	}
	return cv.deque[len(cv.deque)-1].Anchor, true
}

// EnrolledList returns the ascending-id enrolled list fixing anchor's bit
// positions, or nil if anchor isn't in the window.
func (cv *ChainView) EnrolledList(anchor consensus.Hash256) []pvss.Identity {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	entry, ok := cv.byAnchor[anchor]
	if !ok {
		return nil
	}
	return entry.EnrolledList
}

// Height returns the block height anchor was created at, or false if
// anchor isn't in the window.
func (cv *ChainView) Height(anchor consensus.Hash256) (uint64, bool) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	entry, ok := cv.byAnchor[anchor]
	if !ok {
		return 0, false
	}
	return entry.Height, true
}

// OtherAnchorsWithDistributeBits returns every in-window anchor except
// back whose distribute bitmap is non-zero, for the bulletin's extra
// entries.
func (cv *ChainView) OtherAnchorsWithDistributeBits(back consensus.Hash256) []ExtraBitmap {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	var out []ExtraBitmap
	for _, entry := range cv.deque {
		if entry.Anchor == back {
			continue
		}
		bm := bitmapOf(entry.EnrolledList, entry.DistributeMap)
		if bm != 0 {
			out = append(out, ExtraBitmap{Anchor: entry.Anchor, Bitmap: bm})
		}
	}
	return out
}
