package consensus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/models"
)

var cats = []string{"A", "B", "C", "D"}

func part(t *testing.T, labels ...int) models.Partition {
	t.Helper()
	p, err := models.NewPartition(cats, labels)
	require.NoError(t, err)
	return p
}

func testConfig() *Config {
	config := NewConfig()
	config.Set("logging.level", "error")
	return config
}

func TestMajorityStructureWins(t *testing.T) {
	parts := []models.Partition{
		part(t, 1, 1, 2, 2),
		part(t, 1, 1, 2, 2),
		part(t, 1, 2, 2, 2),
	}
	result, err := Resolve(parts, testConfig())
	require.NoError(t, err)

	assert.False(t, result.Fallback)
	assert.Equal(t, [][]string{{"A", "B"}, {"C", "D"}}, result.Partition.Groups())
	assert.InDelta(t, 3.0/9, result.Loss, 1e-12)
	require.Len(t, result.Agreement, 3)
	assert.InDelta(t, 1, result.Agreement[0], 1e-12)
	assert.Less(t, result.Agreement[2], 1.0)
	require.Len(t, result.AdjustedRand, 3)
	assert.InDelta(t, 1, result.AdjustedRand[1], 1e-12)
	assert.Less(t, result.AdjustedRand[2], 1.0)
}

func TestNeverCoClusteredPairsStaySeparate(t *testing.T) {
	runs := [][]models.Partition{
		{part(t, 1, 2, 3, 4), part(t, 1, 1, 2, 2), part(t, 1, 2, 1, 2)},
		{part(t, 1, 1, 1, 2), part(t, 1, 1, 1, 2), part(t, 1, 2, 2, 2)},
		{part(t, 1, 1, 1, 1), part(t, 1, 2, 3, 4)},
		{part(t, 1, 2, 2, 1), part(t, 1, 1, 2, 2)},
	}
	for i, parts := range runs {
		result, err := Resolve(parts, testConfig())
		require.NoError(t, err)
		co := result.CoClustering
		for a := 0; a < 4; a++ {
			for b := a + 1; b < 4; b++ {
				if co.At(a, b) == 0 {
					assert.False(t, result.Partition.Same(a, b), "case %d merged %d and %d", i, a, b)
				}
			}
		}
	}
}

type failingMethod struct{ err error }

func (f failingMethod) Cluster(mat.Symmetric) ([]int, error) { return nil, f.err }

type mergeAll struct{}

func (mergeAll) Cluster(co mat.Symmetric) ([]int, error) {
	return make([]int, co.SymmetricDim()), nil
}

func TestFallbackOnMethodFailure(t *testing.T) {
	parts := []models.Partition{
		part(t, 1, 1, 2, 2),
		part(t, 1, 1, 2, 2),
		part(t, 1, 2, 2, 2),
	}
	tests := []struct {
		name   string
		method Method
	}{
		{"error", failingMethod{errors.New("did not converge")}},
		{"inadmissible output", mergeAll{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := (&Resolver{Method: tt.method}).Resolve(parts, testConfig())
			require.NoError(t, err)
			assert.True(t, result.Fallback)
			assert.Equal(t, []int{1, 1, 2, 2}, result.Partition.Labels)
		})
	}
}

func TestGreedy(t *testing.T) {
	co := mat.NewSymDense(4, []float64{
		1, 0.6, 0.6, 0,
		0.6, 1, 0.4, 0,
		0.6, 0.4, 1, 0.9,
		0, 0, 0.9, 1,
	})
	// C co-clusters with A but not B, so it opens group 2.
	assert.Equal(t, []int{1, 1, 2, 2}, Greedy(co, 0.5))
	assert.Equal(t, []int{1, 1, 1, 2}, Greedy(co, 0.3))
}

func TestResolveValidation(t *testing.T) {
	_, err := Resolve([]models.Partition{part(t, 1, 1, 2, 2)}, testConfig())
	var ve models.ValidationError
	assert.True(t, errors.As(err, &ve))

	other, _ := models.NewPartition([]string{"A", "B", "C"}, []int{1, 1, 2})
	_, err = Resolve([]models.Partition{part(t, 1, 1, 2, 2), other}, testConfig())
	assert.Error(t, err)

	config := testConfig()
	config.Set("consensus.fallback_threshold", -0.1)
	_, err = Resolve([]models.Partition{part(t, 1, 1, 2, 2), part(t, 1, 1, 2, 2)}, config)
	assert.True(t, errors.As(err, &ve))
}
