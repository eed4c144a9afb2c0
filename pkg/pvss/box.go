// Package pvss implements the publicly verifiable secret sharing core:
// OpenedBox/SealedBox polynomial commitments and the Participant/SecretShare
// protocol (Enroll, Distribute, Accept, Publish, Collect, Reconstruct) built
// on top of pkg/edcurve.
package pvss

import (
	"fmt"

	"github.com/dpvss/consensus/pkg/edcurve"
)

// Identity is a 256-bit delegate/participant identifier, the same role
// uint256 nIdent plays in the original.
type Identity [32]byte

func (id Identity) Scalar() edcurve.Scalar {
	return edcurve.ScalarFromBytes(id[:])
}

// OpenedBox is a participant's private polynomial: Coeff[0..thresh) are the
// secret-sharing coefficients and PrivKey is a separate signing key (BigBang
// keeps the two distinct — the coefficients commit the shared secret, the
// private key only authenticates the sealed box).
type OpenedBox struct {
	Coeff   []edcurve.Scalar
	PrivKey edcurve.Scalar
}

func (b OpenedBox) IsNull() bool {
	return len(b.Coeff) == 0
}

func (b OpenedBox) PubKey() edcurve.GroupPoint {
	return b.PrivKey.BasePoint()
}

// SharedKey derives the ECDH secret used to XOR-mask a share sent to peer.
func (b OpenedBox) SharedKey(peerPub edcurve.GroupPoint) edcurve.GroupPoint {
	return edcurve.SharedKey(b.PrivKey, peerPub)
}

// Polynomial evaluates f(x) = Coeff[0] + sum_{i=1}^{thresh-1} Coeff[i]*x^i
// using a precomputed power table.
func (b OpenedBox) Polynomial(thresh int, x uint32, table *edcurve.PowerTable) (edcurve.Scalar, error) {
	if b.IsNull() || thresh > len(b.Coeff) {
		return edcurve.Scalar{}, ErrBoxInsufficient
	}
	f := b.Coeff[0]
	for i := 1; i < thresh; i++ {
		f = f.Add(b.Coeff[i].Mul(table.Pow(x, i)))
	}
	return f, nil
}

// Sign produces a (R, S) signature pair binding hash to this box's keys,
// using nonce r.
func (b OpenedBox) Sign(hash edcurve.Scalar, r edcurve.Scalar) edcurve.Signature {
	return edcurve.Sign(b.PrivKey, r, hash)
}

func (b OpenedBox) VerifySignature(hash edcurve.Scalar, sig edcurve.Signature) bool {
	return edcurve.Verify(b.PubKey(), sig, hash)
}

// MakeSealed seals this box for identity ident: every coefficient is
// revealed only as coeff*G, and the box is self-signed over ident so peers
// can check it came from the claimed participant without revealing any
// secret.
func (b OpenedBox) MakeSealed(ident Identity, r edcurve.Scalar) (SealedBox, error) {
	if b.IsNull() || r.IsZero() {
		return SealedBox{}, ErrBoxNull
	}
	encCoeff := make([]edcurve.GroupPoint, len(b.Coeff))
	for i, c := range b.Coeff {
		encCoeff[i] = c.BasePoint()
	}
	sig := b.Sign(ident.Scalar(), r)
	return SealedBox{
		EncCoeff: encCoeff,
		PubKey:   b.PubKey(),
		Sig:      sig,
	}, nil
}

// SealedBox is the public commitment a participant broadcasts: encrypted
// (point-form) coefficients plus a self-signature over its own identity.
type SealedBox struct {
	EncCoeff []edcurve.GroupPoint
	PubKey   edcurve.GroupPoint
	Sig      edcurve.Signature

	// encShare[x] caches coeff(x)*G for x in [1, lastIndex), filled by
	// PrecalcPolynomial so VerifyPolynomial doesn't recompute the sum of
	// scalar-multiplications for every accepted share.
	encShare []edcurve.GroupPoint
}

func (b SealedBox) IsNull() bool {
	return len(b.EncCoeff) == 0
}

// VerifySignature checks every encrypted coefficient is a valid (nonzero,
// non-identity) pubkey, then verifies the self-signature over ident.
func (b SealedBox) VerifySignature(ident Identity) bool {
	if b.IsNull() {
		return false
	}
	for _, c := range b.EncCoeff {
		if _, ok := edcurve.ValidatePubkey(c.Marshal()); !ok {
			return false
		}
	}
	return edcurve.Verify(b.PubKey, b.Sig, ident.Scalar())
}

// VerifySignatureHash verifies an externally supplied signature against an
// arbitrary hash rather than this box's own identity (used for cross-
// checking a peer-supplied (R, S) against a claimed identity at Accept
// time).
func (b SealedBox) VerifySignatureHash(hash edcurve.Scalar, sig edcurve.Signature) bool {
	if b.IsNull() {
		return false
	}
	return edcurve.Verify(b.PubKey, sig, hash)
}

// PrecalcPolynomial fills encShare[1..lastIndex) with coeff(x)*G for every
// enrolled index, so VerifyPolynomial is a single point comparison.
func (b *SealedBox) PrecalcPolynomial(thresh, lastIndex int, table *edcurve.PowerTable) error {
	if thresh > len(b.EncCoeff) {
		return fmt.Errorf("pvss: precalc thresh %d exceeds %d coefficients", thresh, len(b.EncCoeff))
	}
	b.encShare = make([]edcurve.GroupPoint, lastIndex)
	for x := 1; x < lastIndex; x++ {
		p := b.EncCoeff[0]
		for i := 1; i < thresh; i++ {
			p = p.Add(b.EncCoeff[i].ScalarMul(table.Pow(uint32(x), i)))
		}
		b.encShare[x] = p
	}
	return nil
}

// VerifyPolynomial checks that v*G equals the precomputed share point for x.
func (b SealedBox) VerifyPolynomial(x uint32, v edcurve.Scalar) bool {
	if int(x) >= len(b.encShare) {
		return false
	}
	return b.encShare[x].Equal(v.BasePoint())
}
