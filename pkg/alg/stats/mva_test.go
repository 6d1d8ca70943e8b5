package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCovarianceMatrix(t *testing.T) {
	t.Parallel()

	t.Run("fewer_than_two_rows", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, CovarianceMatrix(nil))
		assert.Nil(t, CovarianceMatrix([][]float64{{1, 2}}))
	})

	t.Run("known_values", func(t *testing.T) {
		t.Parallel()

		cov := CovarianceMatrix([][]float64{{1, 2}, {3, 4}})
		require.Len(t, cov, 2)
		assert.InDelta(t, 1.0, cov[0][0], 0.0001)
		assert.InDelta(t, 1.0, cov[0][1], 0.0001)
		assert.InDelta(t, 1.0, cov[1][0], 0.0001)
		assert.InDelta(t, 1.0, cov[1][1], 0.0001)
	})

	t.Run("symmetry", func(t *testing.T) {
		t.Parallel()

		cov := CovarianceMatrix([][]float64{
			{1, 5, 2},
			{4, 1, 7},
			{2, 3, 3},
		})
		require.Len(t, cov, 3)

		for i := range 3 {
			for j := range 3 {
				assert.InDelta(t, cov[j][i], cov[i][j], 1e-12)
			}
		}
	})
}

func TestRegularize(t *testing.T) {
	t.Parallel()

	m := [][]float64{{1, 2}, {3, 4}}
	got := Regularize(m, 0.5)

	assert.InDelta(t, 1.5, got[0][0], 0.0001)
	assert.InDelta(t, 4.5, got[1][1], 0.0001)
	assert.InDelta(t, 2.0, got[0][1], 0.0001, "off-diagonal untouched")
}

func TestMahalanobisDistance(t *testing.T) {
	t.Parallel()

	t.Run("identity_covariance_is_euclidean", func(t *testing.T) {
		t.Parallel()

		identity := [][]float64{{1, 0}, {0, 1}}

		d, err := MahalanobisDistance([]float64{3, 4}, []float64{0, 0}, identity)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, d, 0.0001)
	})

	t.Run("at_mean_is_zero", func(t *testing.T) {
		t.Parallel()

		identity := [][]float64{{1, 0}, {0, 1}}

		d, err := MahalanobisDistance([]float64{2, 7}, []float64{2, 7}, identity)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, d, 0.0001)
	})

	t.Run("scaled_covariance_shrinks_distance", func(t *testing.T) {
		t.Parallel()

		// Variance 4 along each axis halves the normalized distance.
		cov := [][]float64{{4, 0}, {0, 4}}

		d, err := MahalanobisDistance([]float64{3, 4}, []float64{0, 0}, cov)
		require.NoError(t, err)
		assert.InDelta(t, 2.5, d, 0.0001)
	})

	t.Run("singular_matrix", func(t *testing.T) {
		t.Parallel()

		singular := [][]float64{{1, 1}, {1, 1}}

		_, err := MahalanobisDistance([]float64{1, 2}, []float64{0, 0}, singular)
		assert.ErrorIs(t, err, ErrSingularMatrix)
	})

	t.Run("dimension_mismatch", func(t *testing.T) {
		t.Parallel()

		identity := [][]float64{{1, 0}, {0, 1}}

		_, err := MahalanobisDistance([]float64{1}, []float64{0, 0}, identity)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}
