package stats

import (
	"errors"
	"math"
)

// ErrSingularMatrix is returned when a covariance matrix cannot be inverted.
var ErrSingularMatrix = errors.New("stats: singular matrix")

// ErrDimensionMismatch is returned when vector or matrix dimensions disagree.
var ErrDimensionMismatch = errors.New("stats: dimension mismatch")

// CovarianceMatrix computes the population covariance matrix of the given
// observation rows. Each row is one observation; all rows must share the same
// dimension. Returns nil for fewer than two rows.
func CovarianceMatrix(rows [][]float64) [][]float64 {
	count := len(rows)
	if count < 2 {
		return nil
	}

	dim := len(rows[0])
	means := make([]float64, dim)

	for _, row := range rows {
		for j, v := range row {
			means[j] += v
		}
	}

	for j := range means {
		means[j] /= float64(count)
	}

	cov := make([][]float64, dim)
	for i := range cov {
		cov[i] = make([]float64, dim)
	}

	for _, row := range rows {
		for i := range dim {
			di := row[i] - means[i]
			for j := i; j < dim; j++ {
				cov[i][j] += di * (row[j] - means[j])
			}
		}
	}

	for i := range dim {
		for j := i; j < dim; j++ {
			cov[i][j] /= float64(count)
			cov[j][i] = cov[i][j]
		}
	}

	return cov
}

// Regularize adds epsilon to the diagonal of the square matrix m, in place,
// and returns m. Keeps near-singular covariance matrices invertible.
func Regularize(m [][]float64, epsilon float64) [][]float64 {
	for i := range m {
		m[i][i] += epsilon
	}

	return m
}

// MahalanobisDistance computes the Mahalanobis distance of x from the
// distribution with the given mean vector and covariance matrix.
// Returns [ErrSingularMatrix] when the covariance matrix is not invertible
// and [ErrDimensionMismatch] when shapes disagree.
func MahalanobisDistance(x, mean []float64, cov [][]float64) (float64, error) {
	dim := len(x)
	if len(mean) != dim || len(cov) != dim {
		return 0, ErrDimensionMismatch
	}

	inv, err := invertMatrix(cov)
	if err != nil {
		return 0, err
	}

	diff := make([]float64, dim)
	for i := range dim {
		diff[i] = x[i] - mean[i]
	}

	// d^2 = diff^T * inv * diff.
	var dsq float64

	for i := range dim {
		var acc float64
		for j := range dim {
			acc += inv[i][j] * diff[j]
		}

		dsq += diff[i] * acc
	}

	if dsq < 0 {
		dsq = 0
	}

	return math.Sqrt(dsq), nil
}

// invertMatrix inverts a square matrix via Gauss-Jordan elimination with
// partial pivoting. The input is not modified.
func invertMatrix(m [][]float64) ([][]float64, error) {
	dim := len(m)

	aug := make([][]float64, dim)
	for i := range dim {
		if len(m[i]) != dim {
			return nil, ErrDimensionMismatch
		}

		aug[i] = make([]float64, 2*dim)
		copy(aug[i], m[i])
		aug[i][dim+i] = 1
	}

	for col := range dim {
		pivot := col
		for row := col + 1; row < dim; row++ {
			if math.Abs(aug[row][col]) > math.Abs(aug[pivot][col]) {
				pivot = row
			}
		}

		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, ErrSingularMatrix
		}

		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for j := range 2 * dim {
			aug[col][j] /= pv
		}

		for row := range dim {
			if row == col {
				continue
			}

			factor := aug[row][col]
			if factor == 0 {
				continue
			}

			for j := range 2 * dim {
				aug[row][j] -= factor * aug[col][j]
			}
		}
	}

	inv := make([][]float64, dim)
	for i := range dim {
		inv[i] = make([]float64, dim)
		copy(inv[i], aug[i][dim:])
	}

	return inv, nil
}
