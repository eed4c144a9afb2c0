package debugapi

// AgreementResponse is the JSON shape of a completed round's reconstructed
// agreement.
type AgreementResponse struct {
	TargetHeight uint64            `json:"targetHeight"`
	Anchor       string            `json:"anchor"`
	Agreement    string            `json:"agreement"`
	Weight       uint32            `json:"weight"`
	Ballot       map[string]uint32 `json:"ballot"`
}

// ProofEntry summarizes one delegate's accumulated publish frame without
// dumping raw scalar bytes into the response.
type ProofEntry struct {
	IdentFrom  string `json:"identFrom"`
	ShareCount int    `json:"shareCount"`
}

// ProofResponse lists the publish frames backing an agreement.
type ProofResponse struct {
	TargetHeight uint64       `json:"targetHeight"`
	Anchor       string       `json:"anchor"`
	Entries      []ProofEntry `json:"entries"`
}

// ChainViewStatus reports the view's current primary anchor and its bitmaps.
type ChainViewStatus struct {
	BackAnchor   string `json:"backAnchor"`
	InWindow     bool   `json:"inWindow"`
	Distribute   uint64 `json:"distributeBitmap"`
	Publish      uint64 `json:"publishBitmap"`
	EnrolledSize int    `json:"enrolledSize"`
}

// PeerStatus reports one peer's scheduling standing.
type PeerStatus struct {
	Nonce       uint64 `json:"nonce"`
	Misbehavior int    `json:"misbehavior"`
}

// RoundCompletedEvent is pushed over the WebSocket feed whenever a publish
// frame completes a round, so an observer doesn't have to poll.
type RoundCompletedEvent struct {
	TargetHeight uint64 `json:"targetHeight"`
	Anchor       string `json:"anchor"`
	Agreement    string `json:"agreement"`
	Weight       uint32 `json:"weight"`
}

// errorResponse is the JSON body written for any handler error.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
