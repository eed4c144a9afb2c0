package pvss

import "github.com/dpvss/consensus/pkg/edcurve"

// Candidate is what HandleDistribute/Enroll receives from the host about
// every delegate standing for a round: its weight and its sealed
// commitment. Sealed is a pointer because PrecalcPolynomial fills in a
// per-participant cache on it once the round's threshold is known.
type Candidate struct {
	Ident  Identity
	Weight uint32
	Sealed *SealedBox
}

func (c Candidate) Verify() bool {
	if c.Sealed == nil {
		return false
	}
	return c.Sealed.VerifySignature(c.Ident)
}

// IndexedShare is one opened (index, value) pair collected toward
// threshold reconstruction.
type IndexedShare struct {
	Index uint32
	Value edcurve.Scalar
}

// Participant tracks one other enrolled delegate from this node's point of
// view: the ECDH key shared with them, the contiguous index range they were
// assigned, and the shares they've sent us.
type Participant struct {
	Candidate Candidate
	SharedKey edcurve.GroupPoint
	Index     uint32
	Shares    []edcurve.Scalar
}

func NewParticipant(candidate Candidate, sharedKey edcurve.GroupPoint) *Participant {
	return &Participant{Candidate: candidate, SharedKey: sharedKey}
}

// xorMask XORs a 32-byte shared-key mask over data, matching
// CMPParticipant::Encrypt/Decrypt (the same operation both ways).
func (p *Participant) xorMask(v edcurve.Scalar) edcurve.Scalar {
	key := p.SharedKey.Marshal()
	data := v.Marshal()
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return edcurve.ReduceWide(out)
}

func (p *Participant) Encrypt(v edcurve.Scalar) edcurve.Scalar { return p.xorMask(v) }
func (p *Participant) Decrypt(v edcurve.Scalar) edcurve.Scalar { return p.xorMask(v) }

// AcceptShare decrypts and verifies a weight-sized batch of shares sent by
// this participant for indices [indexIn, indexIn+len). Idempotent: a second
// call with the same-length batch is a no-op success, matching the
// original's "already have this many" short circuit.
func (p *Participant) AcceptShare(indexIn uint32, encShare []edcurve.Scalar) bool {
	if len(p.Shares) == len(encShare) {
		return true
	}
	shares := make([]edcurve.Scalar, len(encShare))
	for i, enc := range encShare {
		v := p.Decrypt(enc)
		if !p.Candidate.Sealed.VerifyPolynomial(indexIn+uint32(i), v) {
			return false
		}
		shares[i] = v
	}
	p.Shares = shares
	return true
}

// VerifyShare checks a batch of already-opened (plaintext) shares against
// this participant's commitment, used when collecting shares forwarded by
// a third party rather than decrypted locally.
func (p *Participant) VerifyShare(indexIn uint32, shares []edcurve.Scalar) bool {
	for i, v := range shares {
		if !p.Candidate.Sealed.VerifyPolynomial(indexIn+uint32(i), v) {
			return false
		}
	}
	return true
}

// PrepareVerification precalculates this participant's encrypted-share
// table so VerifyShare/AcceptShare are O(1) point comparisons per index.
func (p *Participant) PrepareVerification(thresh, lastIndex int, table *edcurve.PowerTable) error {
	return p.Candidate.Sealed.PrecalcPolynomial(thresh, lastIndex, table)
}

func (p *Participant) IsNull() bool {
	return p.SharedKey.IsIdentity()
}
