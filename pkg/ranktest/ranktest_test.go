package ranktest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankSumExact(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
		want float64
	}{
		{"fully separated 3v3", []float64{1, 2, 3}, []float64{4, 5, 6}, 0.1},
		{"fully separated 4v4", []float64{0.18, 0.19, 0.21, 0.22}, []float64{0.78, 0.79, 0.81, 0.82}, 2.0 / 70},
		{"reversed order is symmetric", []float64{4, 5, 6}, []float64{1, 2, 3}, 0.1},
		{"interleaved", []float64{0.18, 0.19, 0.21, 0.22}, []float64{0.17, 0.20, 0.205, 0.23}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := RankSum(tt.x, tt.y, DefaultOptions())
			require.True(t, ok)
			assert.InDelta(t, tt.want, p, 1e-12)
		})
	}
}

func TestRankSumExactAlwaysIsBounded(t *testing.T) {
	// 120 × 120 exceeds MaxExactProduct, so the normal approximation is used.
	x := make([]float64, 120)
	y := make([]float64, 120)
	for i := range x {
		x[i] = float64(2 * i)
		y[i] = float64(2*i + 1)
	}
	require.Greater(t, len(x)*len(y), MaxExactProduct)

	always, ok := RankSum(x, y, Options{Exact: ExactAlways, Correct: true})
	require.True(t, ok)
	never, ok := RankSum(x, y, Options{Exact: ExactNever, Correct: true})
	require.True(t, ok)
	assert.Equal(t, never, always)

	// Within the bound the exact path is still taken.
	small, ok := RankSum(x[:3], []float64{1000, 1001, 1002}, Options{Exact: ExactAlways})
	require.True(t, ok)
	assert.InDelta(t, 0.1, small, 1e-12)
}

func TestRankSumNormalApproximation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{6, 7, 8, 9, 10}

	p, ok := RankSum(x, y, Options{Exact: ExactNever, Correct: true})
	require.True(t, ok)
	assert.InDelta(t, 0.01219, p, 1e-4)

	uncorrected, ok := RankSum(x, y, Options{Exact: ExactNever})
	require.True(t, ok)
	assert.Less(t, uncorrected, p)
}

func TestRankSumTiesUseApproximation(t *testing.T) {
	x := []float64{0.5, 0.5, 0.2, 0.1}
	y := []float64{0.5, 0.5, 0.2, 0.1}

	p, ok := RankSum(x, y, Options{Exact: ExactAlways, Correct: true})
	require.True(t, ok)
	assert.InDelta(t, 1, p, 1e-12)
}

func TestRankSumUndefined(t *testing.T) {
	_, ok := RankSum(nil, []float64{1, 2}, DefaultOptions())
	assert.False(t, ok)

	_, ok = RankSum([]float64{math.NaN()}, []float64{1, 2}, DefaultOptions())
	assert.False(t, ok, "non-finite values are dropped before testing")

	p, ok := RankSum([]float64{0.3, 0.3}, []float64{0.3, 0.3, 0.3}, DefaultOptions())
	assert.False(t, ok)
	assert.True(t, math.IsNaN(p))
}

func TestUDistributionSumsToBinomial(t *testing.T) {
	counts := uDistribution(4, 4)
	require.Len(t, counts, 17)
	var total float64
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 70.0, total)
	assert.Equal(t, 1.0, counts[0])
	assert.Equal(t, 1.0, counts[16])
	assert.Equal(t, counts[3], counts[13])
}

func TestAdjust(t *testing.T) {
	p := []float64{0.01, 0.04, 0.03, 0.005}
	tests := []struct {
		method AdjustMethod
		want   []float64
	}{
		{AdjustNone, []float64{0.01, 0.04, 0.03, 0.005}},
		{AdjustBonferroni, []float64{0.04, 0.16, 0.12, 0.02}},
		{AdjustHolm, []float64{0.03, 0.06, 0.06, 0.02}},
		{AdjustBH, []float64{0.02, 0.04, 0.04, 0.02}},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			got, err := Adjust(p, tt.method)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}

	by, err := Adjust(p, AdjustBY)
	require.NoError(t, err)
	bh, _ := Adjust(p, AdjustBH)
	for i := range by {
		assert.GreaterOrEqual(t, by[i], bh[i])
	}

	_, err = Adjust(p, AdjustMethod("nope"))
	assert.Error(t, err)
}

func TestAdjustKeepsNaN(t *testing.T) {
	got, err := Adjust([]float64{0.01, math.NaN()}, AdjustBonferroni)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, got[0], 1e-12)
	assert.True(t, math.IsNaN(got[1]))
}

func TestParseModes(t *testing.T) {
	m, err := ParseExactMode("never")
	require.NoError(t, err)
	assert.Equal(t, ExactNever, m)
	_, err = ParseExactMode("sometimes")
	assert.Error(t, err)

	a, err := ParseAdjustMethod("fdr")
	require.NoError(t, err)
	assert.Equal(t, AdjustBH, a)
}
