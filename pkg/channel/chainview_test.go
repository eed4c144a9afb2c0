package channel

import (
	"testing"
	"time"

	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/pvss"
	"github.com/dpvss/consensus/pkg/util"
)

func weightOf(ids ...pvss.Identity) map[pvss.Identity]uint32 {
	w := make(map[pvss.Identity]uint32, len(ids))
	for _, id := range ids {
		w[id] = 1
	}
	return w
}

func TestPrimaryUpdateTrimsWindow(t *testing.T) {
	cv := NewChainView(2, util.NewVirtualClock(time.Unix(0, 0))) // limit = 3
	var blocks []BlockEnroll
	for h := uint64(0); h < 5; h++ {
		blocks = append(blocks, BlockEnroll{Height: h, Anchor: testAnchor(byte(h + 1)), Weight: weightOf(testIdent(1))})
	}
	cv.PrimaryUpdate(0, blocks, nil, consensus.Hash256{}, nil, time.Time{})

	if _, ok := cv.BackAnchor(); !ok {
		t.Fatalf("expected a back anchor")
	}
	// Only the last 3 anchors (heights 2,3,4) should remain in window.
	for h := byte(1); h <= 2; h++ {
		if cv.InWindow(testAnchor(h)) {
			t.Fatalf("anchor %d should have been trimmed", h)
		}
	}
	for h := byte(3); h <= 5; h++ {
		if !cv.InWindow(testAnchor(h)) {
			t.Fatalf("anchor %d should still be in window", h)
		}
	}
}

func TestPrimaryUpdateClearsOnRewind(t *testing.T) {
	cv := NewChainView(2, util.NewVirtualClock(time.Unix(0, 0)))
	cv.PrimaryUpdate(10, []BlockEnroll{{Height: 10, Anchor: testAnchor(1), Weight: weightOf(testIdent(1))}}, nil, consensus.Hash256{}, nil, time.Time{})
	if !cv.InWindow(testAnchor(1)) {
		t.Fatalf("expected anchor 1 in window")
	}

	// A PrimaryUpdate starting earlier than the current front signals a
	// reorg: the whole view should be cleared before the new blocks land.
	cv.PrimaryUpdate(2, []BlockEnroll{{Height: 2, Anchor: testAnchor(2), Weight: weightOf(testIdent(1))}}, nil, consensus.Hash256{}, nil, time.Time{})
	if cv.InWindow(testAnchor(1)) {
		t.Fatalf("anchor 1 should have been cleared on rewind")
	}
	if !cv.InWindow(testAnchor(2)) {
		t.Fatalf("expected anchor 2 in window after rewind")
	}
}

func TestDistributeBitmapReflectsRecordedShares(t *testing.T) {
	cv := NewChainView(5, util.NewVirtualClock(time.Unix(0, 0)))
	idA, idB, idC := testIdent(1), testIdent(2), testIdent(3)
	anchor := testAnchor(1)
	cv.PrimaryUpdate(0, []BlockEnroll{{Height: 0, Anchor: anchor, Weight: weightOf(idA, idB, idC)}}, nil, consensus.Hash256{}, nil, time.Time{})

	data := map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData{
		anchor: {
			idA: {IdentFrom: idA},
			idC: {IdentFrom: idC},
		},
	}
	cv.PrimaryUpdate(0, nil, data, consensus.Hash256{}, nil, time.Time{})

	bm := cv.DistributeBitmap(anchor)
	list := cv.EnrolledList(anchor)
	var want uint64
	for i, id := range list {
		if id == idA || id == idC {
			want |= 1 << uint(i)
		}
	}
	if bm != want {
		t.Fatalf("distribute bitmap = %b, want %b", bm, want)
	}
}

func TestPublishBitmapGatedByReleaseTime(t *testing.T) {
	clock := util.NewVirtualClock(time.Unix(1000, 0))
	cv := NewChainView(1, clock) // limit = 2

	idA := testIdent(1)
	b0 := testAnchor(1)
	b1 := testAnchor(2)
	release := clock.Now().Add(5 * time.Second)

	cv.PrimaryUpdate(0, []BlockEnroll{
		{Height: 0, Anchor: b0, Weight: weightOf(idA)},
		{Height: 1, Anchor: b1, Weight: weightOf(idA)},
	}, nil, b1, map[pvss.Identity]consensus.DelegateData{idA: {IdentFrom: idA}}, release)

	if bm := cv.PublishBitmap(b1); bm != 0 {
		t.Fatalf("expected gated publish bitmap to read 0 before release, got %b", bm)
	}
	if _, ok := cv.GetPublish(b1, idA); ok {
		t.Fatalf("expected GetPublish to be gated before release time")
	}

	clock.AdvanceTo(release)

	list := cv.EnrolledList(b1)
	var want uint64
	for i, id := range list {
		if id == idA {
			want |= 1 << uint(i)
		}
	}
	if bm := cv.PublishBitmap(b1); bm != want {
		t.Fatalf("publish bitmap after release = %b, want %b", bm, want)
	}
	if _, ok := cv.GetPublish(b1, idA); !ok {
		t.Fatalf("expected GetPublish to succeed after release time")
	}
}

func TestOtherAnchorsWithDistributeBits(t *testing.T) {
	cv := NewChainView(3, util.NewVirtualClock(time.Unix(0, 0)))
	idA := testIdent(1)
	back := testAnchor(3)
	other := testAnchor(2)
	cv.PrimaryUpdate(0, []BlockEnroll{
		{Height: 0, Anchor: testAnchor(1), Weight: weightOf(idA)},
		{Height: 1, Anchor: other, Weight: weightOf(idA)},
		{Height: 2, Anchor: back, Weight: weightOf(idA)},
	}, map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData{
		other: {idA: {IdentFrom: idA}},
	}, consensus.Hash256{}, nil, time.Time{})

	extras := cv.OtherAnchorsWithDistributeBits(back)
	if len(extras) != 1 || extras[0].Anchor != other || extras[0].Bitmap == 0 {
		t.Fatalf("unexpected extras: %+v", extras)
	}
}
