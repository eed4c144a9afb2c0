package pvss

import (
	"crypto/rand"

	"github.com/dpvss/consensus/pkg/edcurve"
	"github.com/dpvss/consensus/pkg/parallel"
)

// SecretShare is one node's view of a single PVSS round: its own box (if it
// is itself a delegate) plus every other enrolled participant, their
// assigned index ranges, and the shares collected toward threshold
// reconstruction. This is CMPSecretShare.
type SecretShare struct {
	Ident Identity
	MyBox OpenedBox

	Index  uint32
	Thresh int
	Weight uint32

	Participants map[Identity]*Participant
	Opened       map[Identity][]IndexedShare

	collectCompleted bool

	pool  *parallel.Pool
	table *edcurve.PowerTable
}

func New(ident Identity, pool *parallel.Pool) *SecretShare {
	return &SecretShare{
		Ident:        ident,
		Participants: make(map[Identity]*Participant),
		Opened:       make(map[Identity][]IndexedShare),
		pool:         pool,
	}
}

// randShare draws a fresh random 256-bit value, the Go equivalent of
// RandShare (the original additionally masks the top byte to keep the
// value well below 2^256; circl's scalar arithmetic already reduces mod ℓ
// on every operation so that masking has no remaining purpose here).
func randShare() (edcurve.Scalar, error) {
	return edcurve.RandomScalar(rand.Reader)
}

// Setup generates this node's own secret polynomial (maxThresh
// coefficients) and a fresh signing key, retrying until MakeSealed succeeds
// (it always does on the first attempt barring a zero nonce draw, mirroring
// the original's do/while).
func (s *SecretShare) Setup(maxThresh int) (SealedBox, error) {
	for {
		coeff := make([]edcurve.Scalar, maxThresh)
		for i := range coeff {
			c, err := randShare()
			if err != nil {
				return SealedBox{}, err
			}
			coeff[i] = c
		}
		priv, err := randShare()
		if err != nil {
			return SealedBox{}, err
		}
		s.MyBox = OpenedBox{Coeff: coeff, PrivKey: priv}

		r, err := randShare()
		if err != nil {
			return SealedBox{}, err
		}
		sealed, err := s.MyBox.MakeSealed(s.Ident, r)
		if err != nil {
			continue
		}

		s.Index = 0
		s.Thresh = 0
		s.Weight = 0
		s.collectCompleted = false
		s.Participants = make(map[Identity]*Participant)
		s.Opened = make(map[Identity][]IndexedShare)
		return sealed, nil
	}
}

// SetupWitness resets this node to a non-enrolled observer role: it tracks
// and verifies the round without contributing its own secret.
func (s *SecretShare) SetupWitness() {
	s.MyBox = OpenedBox{}
	s.Ident = Identity{}
	s.Index = 0
	s.Thresh = 0
	s.Weight = 0
	s.collectCompleted = false
	s.Participants = make(map[Identity]*Participant)
	s.Opened = make(map[Identity][]IndexedShare)
}

// IsEnrolled reports whether this node itself holds an assigned index range
// in the current round.
func (s *SecretShare) IsEnrolled() bool {
	return s.Index != 0
}

// GetParticipantRange reports the contiguous index range assigned to ident,
// either this node itself or one of its tracked participants.
func (s *SecretShare) GetParticipantRange(ident Identity) (index uint32, weight uint32, ok bool) {
	if ident == s.Ident {
		return s.Index, s.Weight, true
	}
	p, found := s.Participants[ident]
	if !found {
		return 0, 0, false
	}
	return p.Index, p.Candidate.Weight, true
}

// Enroll assigns each candidate a contiguous block of ascending indices
// sized to its weight, verifying every candidate's self-signature in
// parallel first. A candidate that fails verification is dropped and takes
// no index range.
func (s *SecretShare) Enroll(candidates []Candidate) {
	type slot struct {
		participant *Participant
		weight      uint32
		self        bool
	}
	slots := make([]slot, len(candidates))
	for i, c := range candidates {
		switch {
		case c.Ident == s.Ident:
			s.Weight = c.Weight
			slots[i] = slot{self: true, weight: c.Weight}
		case s.Participants[c.Ident] != nil:
			// already enrolled this round, index range is unchanged
		default:
			shared := s.MyBox.SharedKey(c.Sealed.PubKey)
			p := NewParticipant(c, shared)
			s.Participants[c.Ident] = p
			slots[i] = slot{participant: p, weight: c.Weight}
		}
	}

	verified := parallel.Transform(s.pool, slots, func(sl slot) bool {
		if sl.participant == nil {
			return false
		}
		return sl.participant.Candidate.Verify()
	})

	lastIndex := uint32(1)
	for i, sl := range slots {
		switch {
		case sl.self:
			s.Index = lastIndex
			lastIndex += sl.weight
		case sl.participant != nil && verified[i]:
			sl.participant.Index = lastIndex
			lastIndex += sl.weight
		case sl.participant != nil:
			delete(s.Participants, candidates[i].Ident)
		}
	}
	s.Thresh = int((lastIndex-1)/2 + 1)
	s.table = edcurve.NewPowerTable(int(lastIndex), s.Thresh)

	participants := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}
	parallel.Execute(s.pool, participants, func(p *Participant) {
		_ = p.PrepareVerification(s.Thresh, int(lastIndex), s.table)
	})
}

// Distribute evaluates this node's polynomial at every enrolled
// participant's assigned indices and XOR-encrypts each value under the
// ECDH key shared with them, producing the per-peer frame the host
// broadcasts.
func (s *SecretShare) Distribute() map[Identity][]edcurve.Scalar {
	participants := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}

	type keyed struct {
		ident Identity
		share []edcurve.Scalar
	}
	results := parallel.Transform(s.pool, participants, func(p *Participant) keyed {
		share := make([]edcurve.Scalar, p.Candidate.Weight)
		for i := uint32(0); i < p.Candidate.Weight; i++ {
			v, err := s.MyBox.Polynomial(s.Thresh, p.Index+i, s.table)
			if err != nil {
				continue
			}
			share[i] = p.Encrypt(v)
		}
		return keyed{ident: p.Candidate.Ident, share: share}
	})

	out := make(map[Identity][]edcurve.Scalar, len(results))
	for _, r := range results {
		out[r.ident] = r.share
	}
	return out
}

// Accept decrypts and verifies the share batch sent by fromIdent, storing it
// against that participant on success.
func (s *SecretShare) Accept(fromIdent Identity, encShare []edcurve.Scalar) bool {
	if uint32(len(encShare)) != s.Weight {
		return false
	}
	p, ok := s.Participants[fromIdent]
	if !ok {
		return false
	}
	return p.AcceptShare(s.Index, encShare)
}

// Publish returns every share this node is willing to reveal in the clear:
// every participant it has successfully accepted a share from, plus its own
// polynomial evaluated at its own index range.
func (s *SecretShare) Publish() map[Identity][]edcurve.Scalar {
	out := make(map[Identity][]edcurve.Scalar, len(s.Participants)+1)
	for ident, p := range s.Participants {
		if len(p.Shares) > 0 {
			out[ident] = p.Shares
		}
	}
	mine := make([]edcurve.Scalar, s.Weight)
	for i := uint32(0); i < s.Weight; i++ {
		v, err := s.MyBox.Polynomial(s.Thresh, s.Index+i, s.table)
		if err != nil {
			continue
		}
		mine[i] = v
	}
	out[s.Ident] = mine
	return out
}

// Collect verifies and records a published batch from fromIdent (who
// published on behalf of every participant range in shareMap), storing up
// to Thresh opened (index, value) pairs per referenced identity.
func (s *SecretShare) Collect(fromIdent Identity, shareMap map[Identity][]edcurve.Scalar, checkRepeated bool) bool {
	indexFrom, weightFrom, ok := s.GetParticipantRange(fromIdent)
	if !ok {
		return false
	}

	type verifyJob struct {
		p     *Participant
		share []edcurve.Scalar
	}
	var jobs []verifyJob

	for ident, share := range shareMap {
		if uint32(len(share)) != weightFrom {
			return false
		}
		if ident == s.Ident {
			for i, v := range share {
				want, err := s.MyBox.Polynomial(s.Thresh, indexFrom+uint32(i), s.table)
				if err != nil || !want.Equal(v) {
					return false
				}
			}
			continue
		}
		p, found := s.Participants[ident]
		if !found {
			return false
		}
		jobs = append(jobs, verifyJob{p: p, share: share})
	}

	if !parallel.ExecuteUntil(s.pool, jobs, func(j verifyJob) bool {
		return j.p.VerifyShare(indexFrom, j.share)
	}) {
		return false
	}

	for ident, share := range shareMap {
		opened := s.Opened[ident]
		for i := uint32(0); i < weightFrom && len(opened) < s.Thresh; i++ {
			entry := IndexedShare{Index: indexFrom + i, Value: share[i]}
			if checkRepeated {
				dup := false
				for _, e := range opened {
					if e.Index == entry.Index && e.Value.Equal(entry.Value) {
						dup = true
						break
					}
				}
				if dup {
					continue
				}
			}
			opened = append(opened, entry)
		}
		s.Opened[ident] = opened
	}
	return true
}

// ReconstructedSecret is one identity's recovered secret, with the weight
// it was enrolled at so the caller can form a ballot.
type ReconstructedSecret struct {
	Secret edcurve.Scalar
	Weight uint32
}

// Reconstruct interpolates every identity whose opened-share set has
// reached Thresh entries.
func (s *SecretShare) Reconstruct() map[Identity]ReconstructedSecret {
	type job struct {
		ident  Identity
		shares []IndexedShare
	}
	jobs := make([]job, 0, len(s.Opened))
	for ident, shares := range s.Opened {
		jobs = append(jobs, job{ident: ident, shares: shares})
	}

	type result struct {
		secret edcurve.Scalar
		weight uint32
		ok     bool
	}
	results := parallel.Transform(s.pool, jobs, func(j job) result {
		if len(j.shares) != s.Thresh {
			return result{}
		}
		_, weight, ok := s.GetParticipantRange(j.ident)
		if !ok {
			return result{}
		}
		return result{secret: Newton(j.shares), weight: weight, ok: true}
	})

	out := make(map[Identity]ReconstructedSecret, len(jobs))
	for i, j := range jobs {
		if results[i].ok {
			out[j.ident] = ReconstructedSecret{Secret: results[i].secret, Weight: results[i].weight}
		}
	}
	return out
}

// Signature produces a fresh (R, S) pair over hash using this node's own
// box.
func (s *SecretShare) Signature(hash edcurve.Scalar) (edcurve.Signature, error) {
	r, err := randShare()
	if err != nil {
		return edcurve.Signature{}, err
	}
	return s.MyBox.Sign(hash, r), nil
}

// VerifySignature checks a (R, S) pair claimed to come from fromIdent,
// either this node's own box or a tracked participant's sealed box.
func (s *SecretShare) VerifySignature(fromIdent Identity, hash edcurve.Scalar, sig edcurve.Signature) bool {
	if fromIdent == s.Ident {
		return s.MyBox.VerifySignature(hash, sig)
	}
	p, ok := s.Participants[fromIdent]
	if !ok {
		return false
	}
	return p.Candidate.Sealed.VerifySignatureHash(hash, sig)
}

// IsCollectCompleted implements the original's weighted completion rule:
// completed once every distributed peer (one we've accepted a share from,
// plus ourselves if we are a delegate) has an opened-share entry at
// threshold.
func (s *SecretShare) IsCollectCompleted() bool {
	distributed := 0
	if s.Weight > 0 {
		distributed = 1
	}
	for _, p := range s.Participants {
		if len(p.Shares) > 0 {
			distributed++
		}
	}

	collected := 0
	for _, shares := range s.Opened {
		if len(shares) == s.Thresh {
			collected++
		}
	}

	s.collectCompleted = (distributed == 0 && collected == len(s.Opened)) || collected >= distributed
	return s.collectCompleted
}
