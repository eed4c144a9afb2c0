package pvss

// Clone returns a fresh SecretShare carrying the same box and identity but
// with empty participant/opened-share state. ConsensusDriver uses this to
// give each competing chain tip at the same target height its own
// independent Enroll/Distribute/Collect run from the same freshly-Setup
// polynomial, matching the original's "mapVote[target] is Setup once and
// never mutated again; every fork gets its own copy at the distribute-anchor
// key" design.
func (s *SecretShare) Clone() *SecretShare {
	return &SecretShare{
		Ident:        s.Ident,
		MyBox:        s.MyBox,
		Participants: make(map[Identity]*Participant),
		Opened:       make(map[Identity][]IndexedShare),
		pool:         s.pool,
	}
}
