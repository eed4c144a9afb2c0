package consensus

import (
	"crypto/sha256"
	"sort"

	"github.com/dpvss/consensus/pkg/parallel"
	"github.com/dpvss/consensus/pkg/pvss"
)

// Vote is one target height's round: a witness that tracks the whole
// enrolled set without holding a secret of its own, plus zero or more
// locally-controlled delegate identities this node actually votes as.
// Mirrors CDelegateVote (witness + mapDelegate).
type Vote struct {
	Witness   *pvss.SecretShare
	Delegates map[pvss.Identity]*pvss.SecretShare

	BlockHash        Hash256 // the block that created this round (Setup)
	DistributeAnchor Hash256 // hashDistributeBlock
	IsEnrolled       bool
	IsPublished      bool
	PublishedAnchor  Hash256 // hashPublishBlock

	Collected []DelegateData // proof accumulated at Collect time

	pool *parallel.Pool
}

// NewVote builds a round for the given locally-controlled identities.
func NewVote(localIdents []pvss.Identity, pool *parallel.Pool) *Vote {
	delegates := make(map[pvss.Identity]*pvss.SecretShare, len(localIdents))
	for _, id := range localIdents {
		delegates[id] = pvss.New(id, pool)
	}
	return &Vote{
		Witness:   pvss.New(pvss.Identity{}, pool),
		Delegates: delegates,
		pool:      pool,
	}
}

// Setup seals a fresh polynomial for every locally-controlled identity and
// resets the witness to a non-enrolled observer.
func (v *Vote) Setup(maxThresh int, blockHash Hash256) (map[pvss.Identity]EnrollRecord, error) {
	v.Witness.SetupWitness()
	out := make(map[pvss.Identity]EnrollRecord, len(v.Delegates))
	for ident, delegate := range v.Delegates {
		sealed, err := delegate.Setup(maxThresh)
		if err != nil {
			return nil, err
		}
		out[ident] = EnrollRecord{PubKey: sealed.PubKey, EncCoeff: sealed.EncCoeff, Sig: sealed.Sig}
	}
	v.BlockHash = blockHash
	return out, nil
}

// Enroll builds the candidate list from weight + enrollment records and
// enrolls both the witness and every locally-held delegate against it.
// Candidates missing or malformed enrollment data are silently skipped, the
// same way the original logs and continues past a deserialize failure.
// Candidates are sorted by ascending identity before enrollment: §3.4's
// index assignment is positional (SecretShare.Enroll hands out ranges in
// slice order), so every honest node must build the identical ordering from
// the same weight map rather than rely on Go's randomized map iteration.
func (v *Vote) Enroll(weight map[pvss.Identity]uint32, enrollData map[pvss.Identity]EnrollRecord) {
	candidates := make([]pvss.Candidate, 0, len(weight))
	for ident, w := range weight {
		rec, ok := enrollData[ident]
		if !ok {
			continue
		}
		sealed := rec.toSealedBox()
		candidates = append(candidates, pvss.Candidate{Ident: ident, Weight: w, Sealed: sealed})
	}
	sort.Slice(candidates, func(i, j int) bool { return lessIdentity(candidates[i].Ident, candidates[j].Ident) })

	v.Witness.Enroll(candidates)
	for _, delegate := range v.Delegates {
		delegate.Enroll(candidates)
	}
	v.IsEnrolled = true
}

// Distribute produces a signed DelegateData per locally-held, enrolled
// delegate.
func (v *Vote) Distribute() map[pvss.Identity]DelegateData {
	out := make(map[pvss.Identity]DelegateData)
	for ident, delegate := range v.Delegates {
		if !delegate.IsEnrolled() {
			continue // not enrolled this round
		}
		shares := delegate.Distribute()
		data := DelegateData{IdentFrom: ident, Shares: shares}
		sig, err := delegate.Signature(data.Hash())
		if err != nil {
			continue
		}
		data.Sig = sig
		out[ident] = data
	}
	return out
}

// Publish produces a signed DelegateData revealing every share each
// locally-held, enrolled delegate is willing to open.
func (v *Vote) Publish() map[pvss.Identity]DelegateData {
	out := make(map[pvss.Identity]DelegateData)
	for ident, delegate := range v.Delegates {
		if !delegate.IsEnrolled() {
			continue
		}
		shares := delegate.Publish()
		data := DelegateData{IdentFrom: ident, Shares: shares}
		sig, err := delegate.Signature(data.Hash())
		if err != nil {
			continue
		}
		data.Sig = sig
		out[ident] = data
	}
	return out
}

// VerifySignature checks data's self-signature via the witness, which knows
// every enrolled participant's public key.
func (v *Vote) VerifySignature(data DelegateData) bool {
	return v.Witness.VerifySignature(data.IdentFrom, data.Hash(), data.Sig)
}

// Accept verifies and routes one peer's distribute frame to every locally
// held delegate it concerns.
func (v *Vote) Accept(fromIdent pvss.Identity, data DelegateData) bool {
	if data.IdentFrom != fromIdent || !v.VerifySignature(data) {
		return false
	}
	for ident, delegate := range v.Delegates {
		if !delegate.IsEnrolled() {
			continue
		}
		share, ok := data.Shares[ident]
		if !ok {
			continue
		}
		if !delegate.Accept(data.IdentFrom, share) {
			return false
		}
	}
	return true
}

// Collect verifies a peer's publish frame and folds it into the witness,
// reporting whether the round is now complete.
func (v *Vote) Collect(fromIdent pvss.Identity, data DelegateData) (completed bool, ok bool) {
	if data.IdentFrom != fromIdent || !v.VerifySignature(data) {
		return false, false
	}
	if v.Witness.IsCollectCompleted() {
		return true, true
	}
	if !v.Witness.Collect(data.IdentFrom, data.Shares, true) {
		return false, false
	}
	v.Collected = append(v.Collected, data)
	return v.Witness.IsCollectCompleted(), true
}

func (v *Vote) IsCollectCompleted() bool {
	return v.Witness.IsCollectCompleted()
}

// GetAgreement reconstructs the agreed secret: every fully-opened identity's
// secret is concatenated in ascending identity order and hashed, the
// weights summed, and a ballot built mapping each contributing identity to
// its weight.
func (v *Vote) GetAgreement() (agreement Hash256, weight uint32, ballot Ballot) {
	secrets := v.Witness.Reconstruct()
	if len(secrets) == 0 {
		return Hash256{}, 0, nil
	}

	idents := make([]pvss.Identity, 0, len(secrets))
	for id := range secrets {
		idents = append(idents, id)
	}
	sortIdentities(idents)

	h := sha256.New()
	ballot = make(Ballot, len(idents))
	for _, id := range idents {
		rs := secrets[id]
		h.Write(rs.Secret.Marshal())
		weight += rs.Weight
		ballot[id] = rs.Weight
	}
	var out Hash256
	copy(out[:], h.Sum(nil))
	return out, weight, ballot
}

// GetProof returns the accumulated publish frames that justify the
// agreement, for the host to persist as an audit trail.
func (v *Vote) GetProof() []DelegateData {
	return v.Collected
}

// Clone returns an independent round seeded from v's witness and delegate
// boxes but with empty enrollment/collection state, one per competing chain
// tip that reaches the same enrollEnd height. The target-height entry itself
// is Setup once and never cloned in place; ConsensusDriver clones it fresh
// into byDistributeAnchor for every distinct block hash it sees there.
func (v *Vote) Clone() *Vote {
	delegates := make(map[pvss.Identity]*pvss.SecretShare, len(v.Delegates))
	for ident, d := range v.Delegates {
		delegates[ident] = d.Clone()
	}
	return &Vote{
		Witness:   v.Witness.Clone(),
		Delegates: delegates,
		BlockHash: v.BlockHash,
		pool:      v.pool,
	}
}

func sortIdentities(ids []pvss.Identity) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && lessIdentity(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
