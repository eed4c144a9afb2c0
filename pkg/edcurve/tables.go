package edcurve

// PowerTable precomputes x^i for every enrolled index x in [1, n) and every
// power i in [1, thresh], mirroring CSC25519::naturalPowTable so Polynomial
// evaluation and PrecalcPolynomial don't repeat scalar multiplications for
// every (x, i) pair.
type PowerTable struct {
	// rows[x][i] = x^(i+1) (row 0 is unused), the counterpart of
	// naturalPowTable[nX-1][i-1] (1-indexed power, 0-indexed array) from the
	// original.
	rows [][]Scalar
}

// NewPowerTable builds the table for delegate indices 1..n-1 (n exclusive,
// matching nLastIndex) and powers 1..thresh.
func NewPowerTable(n, thresh int) *PowerTable {
	t := &PowerTable{rows: make([][]Scalar, n)}
	for x := 1; x < n; x++ {
		row := make([]Scalar, thresh)
		cur := ScalarFromUint64(uint64(x))
		row[0] = cur
		for i := 1; i < thresh; i++ {
			cur = cur.Mul(ScalarFromUint64(uint64(x)))
			row[i] = cur
		}
		t.rows[x] = row
	}
	return t
}

// Pow returns x^power for 1 <= power <= thresh used at construction.
func (t *PowerTable) Pow(x uint32, power int) Scalar {
	if int(x) >= len(t.rows) || power < 1 || power > len(t.rows[x]) {
		return ZeroScalar()
	}
	return t.rows[x][power-1]
}
