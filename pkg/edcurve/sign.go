package edcurve

import "crypto/rand"

// Signature is the (R, S) pair produced by Sign, laid out exactly like
// CMPOpenedBox::Signature's (nR, nS) out-params.
type Signature struct {
	R GroupPoint
	S Scalar
}

// Sign implements BigBang's custom scheme: sig = priv + r*hash, with
// R = r*G carried alongside so Verify doesn't need the signer's public key
// to recompute R. hash is whatever identity/message scalar the caller wants
// bound into the signature (PvssBox signs over the participant identity).
func Sign(priv Scalar, r Scalar, hash Scalar) Signature {
	return Signature{
		R: r.BasePoint(),
		S: priv.Add(r.Mul(hash)),
	}
}

// Verify checks sig.S*G == pub + sig.R*hash, rejecting an identity R outright
// (mirroring crypto_core_ed25519_is_valid_point's rejection on every unpack
// in the original): an identity R lets S alone satisfy the equation against
// any pub, so it must never be treated as a valid signature nonce point.
func Verify(pub GroupPoint, sig Signature, hash Scalar) bool {
	if sig.R.IsIdentity() {
		return false
	}
	lhs := sig.S.BasePoint()
	rhs := pub.Add(sig.R.ScalarMul(hash))
	return lhs.Equal(rhs)
}

// SharedKey derives an ECDH shared secret point, used to XOR-mask secret
// shares between enrolled delegates (MPEccSharedKey).
func SharedKey(priv Scalar, peerPub GroupPoint) GroupPoint {
	return peerPub.ScalarMul(priv)
}

// NewNonce draws a fresh random nonce scalar for Sign.
func NewNonce() (Scalar, error) {
	return RandomScalar(rand.Reader)
}
