package fusedlasso

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CurveMeans returns, for each path point (column), the mean deviance over
// folds (rows) and the standard error of that mean. NaN entries are
// ignored.
func CurveMeans(dev mat.Matrix) (mean, se []float64) {
	_, l := dev.Dims()
	mean = make([]float64, l)
	se = make([]float64, l)
	for j := 0; j < l; j++ {
		col := finiteColumn(dev, j)
		if len(col) == 0 {
			mean[j], se[j] = math.NaN(), math.NaN()
			continue
		}
		mean[j] = stat.Mean(col, nil)
		if len(col) > 1 {
			se[j] = stat.StdDev(col, nil) / math.Sqrt(float64(len(col)))
		}
	}
	return mean, se
}

// SelectMin returns the path index with the lowest mean deviance.
func SelectMin(dev mat.Matrix) int {
	mean, _ := CurveMeans(dev)
	return argmin(mean)
}

// SelectOneSE returns the first (largest λ) path index whose mean deviance
// is within one standard error of the minimum.
func SelectOneSE(dev mat.Matrix) int {
	mean, se := CurveMeans(dev)
	best := argmin(mean)
	return firstWithin(mean, mean[best]+se[best])
}

// SelectAdaptiveSE returns the first (largest λ) path index whose mean
// deviance is within mult·SE of the minimum, where SE is the standard
// deviation of the mean deviance curve over the path divided by sqrt(k)
// for k folds.
func SelectAdaptiveSE(dev mat.Matrix, mult float64) int {
	k, _ := dev.Dims()
	mean, _ := CurveMeans(dev)
	curve := make([]float64, 0, len(mean))
	for _, m := range mean {
		if !math.IsNaN(m) {
			curve = append(curve, m)
		}
	}
	var se float64
	if len(curve) > 1 {
		se = stat.StdDev(curve, nil) / math.Sqrt(float64(k))
	}
	best := argmin(mean)
	return firstWithin(mean, mean[best]+mult*se)
}

func argmin(v []float64) int {
	best := -1
	for i, x := range v {
		if math.IsNaN(x) {
			continue
		}
		if best < 0 || x < v[best] {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func firstWithin(v []float64, bound float64) int {
	for i, x := range v {
		if x <= bound {
			return i
		}
	}
	return argmin(v)
}

func finiteColumn(m mat.Matrix, j int) []float64 {
	r, _ := m.Dims()
	out := make([]float64, 0, r)
	for i := 0; i < r; i++ {
		if v := m.At(i, j); !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
