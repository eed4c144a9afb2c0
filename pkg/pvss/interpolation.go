package pvss

import "github.com/dpvss/consensus/pkg/edcurve"

// Newton reconstructs f(0) from threshold (index, value) pairs via Newton's
// divided-difference interpolation over the scalar field. mpinterpolation.h
// only declares MPNewton/MPLagrange in the retrieved corpus (no bodies), so
// this is the standard numerical-methods algorithm re-expressed over
// edcurve.Scalar rather than anything copied from the original.
func Newton(shares []IndexedShare) edcurve.Scalar {
	n := len(shares)
	if n == 0 {
		return edcurve.ZeroScalar()
	}
	xs := make([]edcurve.Scalar, n)
	dd := make([]edcurve.Scalar, n)
	for i, sh := range shares {
		xs[i] = edcurve.ScalarFromUint64(uint64(sh.Index))
		dd[i] = sh.Value
	}

	// Build the divided-difference table in place: after pass j, dd[i]
	// holds f[x_i, ..., x_{i+j}].
	for j := 1; j < n; j++ {
		for i := n - 1; i >= j; i-- {
			num := dd[i].Sub(dd[i-1])
			den := xs[i].Sub(xs[i-j])
			dd[i] = num.Mul(den.Inv())
		}
	}

	// Horner-evaluate the Newton form at x = 0:
	// P(0) = dd[0] + (0-x0)(dd[1] + (0-x1)(dd[2] + ...))
	result := dd[n-1]
	for i := n - 2; i >= 0; i-- {
		result = dd[i].Add(edcurve.ZeroScalar().Sub(xs[i]).Mul(result))
	}
	return result
}

// Lagrange reconstructs f(0) via direct Lagrange interpolation, used as a
// cross-check against Newton in tests: both must agree on every threshold
// share set.
func Lagrange(shares []IndexedShare) edcurve.Scalar {
	n := len(shares)
	if n == 0 {
		return edcurve.ZeroScalar()
	}
	xs := make([]edcurve.Scalar, n)
	for i, sh := range shares {
		xs[i] = edcurve.ScalarFromUint64(uint64(sh.Index))
	}

	sum := edcurve.ZeroScalar()
	for i := 0; i < n; i++ {
		num := edcurve.ScalarFromUint64(1)
		den := edcurve.ScalarFromUint64(1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			num = num.Mul(edcurve.ZeroScalar().Sub(xs[j]))
			den = den.Mul(xs[i].Sub(xs[j]))
		}
		term := shares[i].Value.Mul(num.Mul(den.Inv()))
		sum = sum.Add(term)
	}
	return sum
}
