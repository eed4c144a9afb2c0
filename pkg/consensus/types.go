// Package consensus drives the per-height delegated PVSS state machine:
// PvssVote tracks one target height's enrollment/distribute/publish round,
// and ConsensusDriver advances the sliding window of in-flight rounds as
// new blocks arrive. This is the Go shape of delegatevote.cpp's
// CDelegateVote and delegate.cpp's CDelegate.
package consensus

import (
	"crypto/sha256"
	"sort"

	"github.com/dpvss/consensus/pkg/edcurve"
	"github.com/dpvss/consensus/pkg/pvss"
)

// Hash256 is a generic 32-byte digest: block hashes, distribute anchors,
// and the derived agreement value all share this shape.
type Hash256 [32]byte

// EnrollRecord is the wire-independent form of a sealed box, the payload
// an EnrollTx carries for one candidate.
type EnrollRecord struct {
	PubKey   edcurve.GroupPoint
	EncCoeff []edcurve.GroupPoint
	Sig      edcurve.Signature
}

func (r EnrollRecord) toSealedBox() *pvss.SealedBox {
	return &pvss.SealedBox{EncCoeff: r.EncCoeff, PubKey: r.PubKey, Sig: r.Sig}
}

// DelegateData is one signed distribute-or-publish frame: the sender's
// identity, the per-recipient share batches, and a signature over the
// frame's own hash — mirroring CDelegateData.
type DelegateData struct {
	IdentFrom pvss.Identity
	Shares    map[pvss.Identity][]edcurve.Scalar
	Sig       edcurve.Signature
}

// Hash deterministically hashes Shares (sorted by identity so the digest
// doesn't depend on map iteration order) the way CDelegateData::GetHash
// hashes its serialized mapShare.
func (d DelegateData) Hash() edcurve.Scalar {
	idents := make([]pvss.Identity, 0, len(d.Shares))
	for id := range d.Shares {
		idents = append(idents, id)
	}
	sort.Slice(idents, func(i, j int) bool { return lessIdentity(idents[i], idents[j]) })

	h := sha256.New()
	for _, id := range idents {
		h.Write(id[:])
		for _, v := range d.Shares[id] {
			h.Write(v.Marshal())
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return edcurve.ScalarFromBytes(sum[:])
}

func lessIdentity(a, b pvss.Identity) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Ballot maps an enrolled identity to the weight it contributed toward the
// reconstructed agreement.
type Ballot map[pvss.Identity]uint32
