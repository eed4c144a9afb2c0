package debugapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dpvss/consensus/params"
	"github.com/dpvss/consensus/pkg/channel"
	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/parallel"
	"github.com/dpvss/consensus/pkg/pvss"
	"github.com/dpvss/consensus/pkg/util"
)

func ident(b byte) pvss.Identity {
	var id pvss.Identity
	id[0] = b
	return id
}

func hash(b byte) consensus.Hash256 {
	var h consensus.Hash256
	h[0] = b
	return h
}

// driveFullRound runs exactly the same single-driver round used in
// pkg/consensus's own test, returning the completed round's coordinates so
// the HTTP handlers have something real to read back.
func driveFullRound(t *testing.T) (*consensus.ConsensusDriver, uint64, consensus.Hash256) {
	t.Helper()
	cfg := params.Testnet().Consensus
	idents := []pvss.Identity{ident(1), ident(2), ident(3)}
	weight := map[pvss.Identity]uint32{idents[0]: 1, idents[1]: 1, idents[2]: 1}
	d := consensus.NewConsensusDriver(cfg, idents, parallel.NewPool(4), zap.NewNop())

	res0, err := d.Evolve(0, weight, nil, hash(0))
	if err != nil {
		t.Fatalf("evolve(0): %v", err)
	}
	hbEnroll := hash(2)
	res2, err := d.Evolve(6, weight, res0.EnrollData, hbEnroll)
	if err != nil {
		t.Fatalf("evolve(6): %v", err)
	}
	const targetHeight = 10
	for from, data := range res2.DistributeData {
		if _, err := d.HandleDistribute(targetHeight, hbEnroll, from, data); err != nil {
			t.Fatalf("handle distribute: %v", err)
		}
	}
	res5, err := d.Evolve(9, weight, nil, hash(5))
	if err != nil {
		t.Fatalf("evolve(9): %v", err)
	}
	for from, data := range res5.PublishData {
		if _, _, err := d.HandlePublish(targetHeight, hbEnroll, from, data); err != nil {
			t.Fatalf("handle publish: %v", err)
		}
	}
	return d, targetHeight, hbEnroll
}

func newTestServer(t *testing.T) (*Server, *consensus.ConsensusDriver, uint64, consensus.Hash256) {
	t.Helper()
	d, target, anchor := driveFullRound(t)
	view := channel.NewChainView(params.Testnet().Consensus.DistributeInterval, util.NewVirtualClock(time.Unix(0, 0)))
	sched := channel.NewPeerScheduler()
	return NewServer(d, view, sched, zap.NewNop()), d, target, anchor
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleAgreement(t *testing.T) {
	s, _, target, anchor := newTestServer(t)
	url := "/api/v1/agreement?target=" + strconv.FormatUint(target, 10) + "&anchor=" + hex.EncodeToString(anchor[:])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp AgreementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Weight != 3 {
		t.Fatalf("expected weight 3, got %d", resp.Weight)
	}
	if len(resp.Ballot) != 3 {
		t.Fatalf("expected ballot with 3 entries, got %d", len(resp.Ballot))
	}
}

func TestHandleAgreementUnknownRound(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agreement?target=999&anchor="+hex.EncodeToString(make([]byte, 32)), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleProof(t *testing.T) {
	s, _, target, anchor := newTestServer(t)
	url := "/api/v1/proof?target=" + strconv.FormatUint(target, 10) + "&anchor=" + hex.EncodeToString(anchor[:])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ProofResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("expected 3 proof entries, got %d", len(resp.Entries))
	}
}

func TestHandlePeerStatus(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	s.sched.AddPeer(7)
	s.sched.Penalize(7)
	s.sched.Penalize(7)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/peers/7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp PeerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Misbehavior != 2 {
		t.Fatalf("expected misbehavior 2, got %d", resp.Misbehavior)
	}
}

func TestHandleChainViewEmpty(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chainview", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an empty chain view, got %d", rec.Code)
	}
}
