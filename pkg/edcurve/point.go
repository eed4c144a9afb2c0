package edcurve

import (
	"fmt"

	"github.com/cloudflare/circl/group"
)

// GroupPoint is an element of the Ed25519 group, used both as a public key
// (s*G) and as an encrypted polynomial coefficient (coeff*G).
type GroupPoint struct {
	p group.Element
}

// IdentityPoint returns the group identity element.
func IdentityPoint() GroupPoint {
	p := curve.NewElement()
	p.SetIdentity()
	return GroupPoint{p: p}
}

// UnmarshalPoint unpacks a compressed 32-byte Edwards point, rejecting the
// identity element the way MPEccPubkeyValidate does (a zero pubkey is never
// a valid delegate key).
func UnmarshalPoint(b []byte) (GroupPoint, error) {
	if len(b) != ByteLen {
		return GroupPoint{}, fmt.Errorf("edcurve: point must be %d bytes, got %d", ByteLen, len(b))
	}
	p := curve.NewElement()
	if err := p.UnmarshalBinary(b); err != nil {
		return GroupPoint{}, fmt.Errorf("edcurve: unmarshal point: %w", err)
	}
	if p.IsIdentity() {
		return GroupPoint{}, fmt.Errorf("edcurve: point is the identity element")
	}
	return GroupPoint{p: p}, nil
}

// ValidatePubkey mirrors MPEccPubkeyValidate: nonzero bytes, successfully
// unpacked, and not the identity element.
func ValidatePubkey(b []byte) (GroupPoint, bool) {
	allZero := true
	for _, c := range b {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return GroupPoint{}, false
	}
	p, err := UnmarshalPoint(b)
	if err != nil || p.IsIdentity() {
		return GroupPoint{}, false
	}
	return p, true
}

func (p GroupPoint) Marshal() []byte {
	b, _ := p.p.MarshalBinary()
	return b
}

func (p GroupPoint) Add(q GroupPoint) GroupPoint {
	out := curve.NewElement()
	out.Add(p.p, q.p)
	return GroupPoint{p: out}
}

func (p GroupPoint) Sub(q GroupPoint) GroupPoint {
	out := curve.NewElement()
	out.Sub(p.p, q.p)
	return GroupPoint{p: out}
}

func (p GroupPoint) Neg() GroupPoint {
	out := curve.NewElement()
	out.Neg(p.p)
	return GroupPoint{p: out}
}

// ScalarMul returns s*P, used for ECDH shared-key derivation and for
// R.ScalarMult(hash) in signature verification.
func (p GroupPoint) ScalarMul(s Scalar) GroupPoint {
	out := curve.NewElement()
	out.Mul(p.p, s.s)
	return GroupPoint{p: out}
}

func (p GroupPoint) IsIdentity() bool {
	return p.p.IsIdentity()
}

func (p GroupPoint) Equal(q GroupPoint) bool {
	return p.p.IsEqual(q.p)
}
