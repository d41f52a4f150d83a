package geom

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Mat66 is a 6x6 covariance matrix stored in row-major order.
type Mat66 [36]float64

// IdentityMat66 returns the 6x6 identity.
func IdentityMat66() Mat66 {
	var m Mat66
	for i := 0; i < 6; i++ {
		m[i*6+i] = 1
	}
	return m
}

// DiagonalMat66 returns a matrix with d on the diagonal.
func DiagonalMat66(d [6]float64) Mat66 {
	var m Mat66
	for i, v := range d {
		m[i*6+i] = v
	}
	return m
}

// At returns the element at row i, column j.
func (m *Mat66) At(i, j int) float64 { return m[i*6+j] }

// Dense copies m into a gonum matrix.
func (m *Mat66) Dense() *mat.Dense {
	data := make([]float64, len(m))
	copy(data, m[:])
	return mat.NewDense(6, 6, data)
}

// Mat66FromMatrix copies a 6x6 gonum matrix.
func Mat66FromMatrix(a mat.Matrix) (Mat66, error) {
	var m Mat66
	if r, c := a.Dims(); r != 6 || c != 6 {
		return m, fmt.Errorf("geom: expected 6x6 matrix, got %dx%d", r, c)
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			m[i*6+j] = a.At(i, j)
		}
	}
	return m, nil
}

// IsSymmetric reports whether m equals its transpose within tol.
func (m *Mat66) IsSymmetric(tol float64) bool {
	return mat.EqualApprox(m.Dense(), m.Dense().T(), tol)
}
