package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ridgeSolve solves the normal equations (X'X + diag(penalties)) b = X'y.
// A zero penalty vector degrades to ordinary least squares; the engine always
// passes at least a tiny jitter so near-collinear designs stay solvable.
func ridgeSolve(x *mat.Dense, y, penalties []float64) ([]float64, error) {
	_, cols := x.Dims()
	if len(penalties) != cols {
		return nil, fmt.Errorf("ridge solve: %d penalties for %d columns", len(penalties), cols)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i, p := range penalties {
		xtx.Set(i, i, xtx.At(i, i)+p)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var lu mat.LU
	lu.Factorize(&xtx)
	var beta mat.VecDense
	if err := lu.SolveVecTo(&beta, false, &xty); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	out := make([]float64, cols)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
