package partition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioc/airpart/pkg/models"
)

func mustPartition(t *testing.T, labels ...int) models.Partition {
	t.Helper()
	cats := []string{"A", "B", "C", "D"}[:len(labels)]
	p, err := models.NewPartition(cats, labels)
	require.NoError(t, err)
	return p
}

func TestFromValues(t *testing.T) {
	p, err := FromValues([]string{"A", "B", "C", "D"}, []float64{0.5, -1.2, 0.5, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 3}, p.Labels)

	_, err = FromValues([]string{"A"}, []float64{1, 2})
	require.Error(t, err)
}

func TestCoClustering(t *testing.T) {
	parts := []models.Partition{
		mustPartition(t, 1, 1, 2, 2),
		mustPartition(t, 1, 1, 2, 2),
		mustPartition(t, 1, 2, 2, 2),
	}
	co, err := CoClustering(parts)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, co.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0/3, co.At(0, 1), 1e-12)
	assert.InDelta(t, 1.0, co.At(2, 3), 1e-12)
	assert.InDelta(t, 1.0/3, co.At(1, 2), 1e-12)
	assert.InDelta(t, 0.0, co.At(0, 3), 1e-12)
	assert.Equal(t, co.At(1, 2), co.At(2, 1))
}

func TestCoClusteringRejectsMismatchedCategories(t *testing.T) {
	a := mustPartition(t, 1, 2)
	b, err := models.NewPartition([]string{"B", "A"}, []int{1, 2})
	require.NoError(t, err)
	_, err = CoClustering([]models.Partition{a, b})
	require.Error(t, err)

	_, err = CoClustering(nil)
	require.Error(t, err)
}

func TestNMI(t *testing.T) {
	a := mustPartition(t, 1, 1, 2, 2)
	b := mustPartition(t, 5, 5, 9, 9)
	nmi, err := NMI(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, nmi, 1e-12)

	single := mustPartition(t, 1, 1, 1, 1)
	nmi, err = NMI(single, single)
	require.NoError(t, err)
	assert.Equal(t, 1.0, nmi)

	c := mustPartition(t, 1, 2, 1, 2)
	nmi, err = NMI(a, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, nmi, 1e-12)
}

func TestAdjustedRand(t *testing.T) {
	a := mustPartition(t, 1, 1, 2, 2)
	ari, err := AdjustedRand(a, mustPartition(t, 3, 3, 4, 4))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ari, 1e-12)

	ari, err = AdjustedRand(a, mustPartition(t, 1, 2, 1, 2))
	require.NoError(t, err)
	assert.True(t, ari < 0 || math.Abs(ari) < 1e-12)
}
