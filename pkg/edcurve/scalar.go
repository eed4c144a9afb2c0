// Package edcurve implements the Ed25519 scalar/point arithmetic and the
// custom Schnorr-style signature scheme the PVSS layer is built on. This is
// not a general Ed25519 signing API: BigBang's mpbox.cpp signs with
// sig = priv + r*hash (scalar addition) and verifies with
// sig*G == pub + R*hash, which has no off-the-shelf package, so the field
// elements are exposed directly instead of being hidden behind Sign/Verify
// on raw messages.
package edcurve

import (
	"crypto/sha512"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/group"
)

var curve = group.Ed25519

// edwardsOrder is ℓ, the prime order of the Ed25519 base-point subgroup.
// This is a fixed public constant of the curve, not something we derive
// from circl at runtime.
var edwardsOrder = func() *big.Int {
	l := new(big.Int).Lsh(big.NewInt(1), 252)
	c, _ := new(big.Int).SetString("27742317777372353535851937790883648493", 10)
	return l.Add(l, c)
}()

// ByteLen is the wire size of a packed scalar or point.
const ByteLen = 32

// Scalar is an element of the Ed25519 group's scalar field, reduced mod the
// group order ℓ.
type Scalar struct {
	s group.Scalar
}

// ZeroScalar returns the additive identity.
func ZeroScalar() Scalar {
	return Scalar{s: curve.NewScalar()}
}

// RandomScalar draws a uniformly random nonzero scalar, used for PVSS
// polynomial coefficients and signature nonces.
func RandomScalar(rng io.Reader) (Scalar, error) {
	s := curve.RandomNonZeroScalar(rng)
	return Scalar{s: s}, nil
}

// ScalarFromUint64 builds a small scalar, used for evaluation points
// (delegate indices 1..N).
func ScalarFromUint64(v uint64) Scalar {
	s := curve.NewScalar()
	s.SetUint64(v)
	return Scalar{s: s}
}

// ReduceWide reinterprets a little-endian byte string as an integer and
// reduces it mod ℓ. This is the Go equivalent of CSC25519's implicit
// mod-order reduction of a raw uint256: BigBang signs over a plain identity
// value and decrypts XOR'd shares directly as field elements without ever
// hashing them, so a straight reduction (not a hash-to-scalar) is the
// faithful operation here.
func ReduceWide(b []byte) Scalar {
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	x := new(big.Int).SetBytes(be)
	x.Mod(x, edwardsOrder)

	out := make([]byte, ByteLen)
	xb := x.Bytes()
	for i := 0; i < len(xb); i++ {
		out[len(xb)-1-i] = xb[i]
	}
	s, err := UnmarshalScalar(out)
	if err != nil {
		return ZeroScalar()
	}
	return s
}

// ScalarFromHash reduces the first 32 bytes of a SHA-512 digest via
// ReduceWide; the remaining 32 bytes are not used.
func ScalarFromHash(h [sha512.Size]byte) Scalar {
	return ReduceWide(h[:32])
}

// ScalarFromBytes reduces an identity or anchor-hash byte string into a
// scalar via ReduceWide.
func ScalarFromBytes(b []byte) Scalar {
	return ReduceWide(b)
}

// UnmarshalScalar reads a canonical 32-byte little-endian scalar.
func UnmarshalScalar(b []byte) (Scalar, error) {
	if len(b) != ByteLen {
		return Scalar{}, fmt.Errorf("edcurve: scalar must be %d bytes, got %d", ByteLen, len(b))
	}
	s := curve.NewScalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return Scalar{}, fmt.Errorf("edcurve: unmarshal scalar: %w", err)
	}
	return Scalar{s: s}, nil
}

func (a Scalar) Marshal() []byte {
	b, _ := a.s.MarshalBinary()
	return b
}

func (a Scalar) Add(b Scalar) Scalar {
	out := curve.NewScalar()
	out.Add(a.s, b.s)
	return Scalar{s: out}
}

func (a Scalar) Sub(b Scalar) Scalar {
	out := curve.NewScalar()
	out.Sub(a.s, b.s)
	return Scalar{s: out}
}

func (a Scalar) Mul(b Scalar) Scalar {
	out := curve.NewScalar()
	out.Mul(a.s, b.s)
	return Scalar{s: out}
}

func (a Scalar) Neg() Scalar {
	out := curve.NewScalar()
	out.Neg(a.s)
	return Scalar{s: out}
}

// Inv returns the multiplicative inverse mod ℓ, used by the interpolation
// divided-difference quotients.
func (a Scalar) Inv() Scalar {
	out := curve.NewScalar()
	out.Inv(a.s)
	return Scalar{s: out}
}

func (a Scalar) IsZero() bool {
	return a.s.IsZero()
}

func (a Scalar) Equal(b Scalar) bool {
	return a.s.IsEqual(b.s)
}

// BasePoint returns this scalar's image under the base-point map (s -> s*G),
// i.e. the public key for a private scalar.
func (a Scalar) BasePoint() GroupPoint {
	p := curve.NewElement()
	p.MulGen(a.s)
	return GroupPoint{p: p}
}
