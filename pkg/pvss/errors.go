package pvss

import "errors"

// Sentinel errors per §7 of the spec: every failure here is caught and
// logged by the caller with (target_height, distribute_anchor, from) — none
// of these ever panics the process.
var (
	ErrBoxNull            = errors.New("pvss: box is null")
	ErrBoxInsufficient    = errors.New("pvss: box has fewer coefficients than threshold")
	ErrInvalidCommitment  = errors.New("pvss: commitment does not verify")
	ErrInvalidSignature   = errors.New("pvss: signature does not verify")
	ErrInvalidShare       = errors.New("pvss: encrypted share does not verify against sealed box")
	ErrUnknownParticipant = errors.New("pvss: participant is not enrolled")
	ErrNotEnoughShares    = errors.New("pvss: fewer opened shares than threshold")
	ErrAlreadyCollected   = errors.New("pvss: share already collected")
)
