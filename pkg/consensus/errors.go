package consensus

import "errors"

// Sentinel errors for ConsensusDriver's height-indexed lookups. Every one
// of these corresponds to a StdError/StdLog call in the original that used
// to merely log and return false. The first four are returned by
// HandleDistribute/HandlePublish/GetAgreement/GetProof; ErrAlreadyEnrolled,
// ErrNotEnrolled and ErrAlreadyPublished are not returned anywhere — Evolve
// only logs those conditions.
var (
	ErrTargetNotFound           = errors.New("consensus: target height not found")
	ErrDistributeAnchorNull     = errors.New("consensus: distribute anchor not yet set")
	ErrDistributeAnchorMismatch = errors.New("consensus: distribute anchor mismatch")
	ErrDistributeVoteNotFound   = errors.New("consensus: distribute vote not found")
	ErrAlreadyEnrolled          = errors.New("consensus: target height already set up")
	ErrNotEnrolled              = errors.New("consensus: round never reached enroll")
	ErrAlreadyPublished         = errors.New("consensus: round already published for this anchor")
)
