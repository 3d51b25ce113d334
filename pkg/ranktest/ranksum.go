// Package ranktest provides the two-sample Wilcoxon rank-sum
// (Mann-Whitney) test and multiple-testing p-value adjustment.
package ranktest

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExactMode controls when the exact null distribution is used.
type ExactMode int

const (
	// ExactAuto uses the exact distribution when both samples have fewer
	// than 50 values and there are no ties.
	ExactAuto ExactMode = iota
	// ExactAlways uses the exact distribution whenever there are no ties
	// and nx·ny is at most MaxExactProduct.
	ExactAlways
	// ExactNever always uses the normal approximation.
	ExactNever
)

// ParseExactMode maps "auto", "always"/"true" and "never"/"false".
func ParseExactMode(s string) (ExactMode, error) {
	switch s {
	case "", "auto":
		return ExactAuto, nil
	case "always", "true":
		return ExactAlways, nil
	case "never", "false":
		return ExactNever, nil
	}
	return ExactAuto, fmt.Errorf("unknown exact mode %q", s)
}

// Options configures RankSum.
type Options struct {
	Exact ExactMode
	// Correct applies a continuity correction to the normal approximation.
	Correct bool
}

// DefaultOptions matches the conventional two-sided test.
func DefaultOptions() Options {
	return Options{Exact: ExactAuto, Correct: true}
}

const exactLimit = 50

// MaxExactProduct bounds nx·ny for the exact distribution. Building it
// takes memory of order nx·ny², so larger samples use the normal
// approximation in every mode.
const MaxExactProduct = 10000

// RankSum returns the two-sided p-value for a location shift between x and
// y. Non-finite values are dropped. ok is false when the p-value is
// undefined: an empty sample, or every value tied so the statistic has no
// variance.
func RankSum(x, y []float64, opts Options) (p float64, ok bool) {
	x = finite(x)
	y = finite(y)
	nx, ny := len(x), len(y)
	if nx == 0 || ny == 0 {
		return math.NaN(), false
	}

	type entry struct {
		v     float64
		first bool
	}
	all := make([]entry, 0, nx+ny)
	for _, v := range x {
		all = append(all, entry{v, true})
	}
	for _, v := range y {
		all = append(all, entry{v, false})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].v < all[j].v })

	n := len(all)
	var rx, tieSum float64
	hasTies := false
	for i := 0; i < n; {
		j := i
		for j < n && all[j].v == all[i].v {
			j++
		}
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if all[k].first {
				rx += rank
			}
		}
		if t := float64(j - i); t > 1 {
			hasTies = true
			tieSum += t*t*t - t
		}
		i = j
	}

	fx, fy := float64(nx), float64(ny)
	u := rx - fx*(fx+1)/2

	exact := !hasTies && nx*ny <= MaxExactProduct &&
		(opts.Exact == ExactAlways || (opts.Exact == ExactAuto && nx < exactLimit && ny < exactLimit))
	if exact {
		return exactPValue(int(math.Round(u)), nx, ny), true
	}

	z := u - fx*fy/2
	sigma := math.Sqrt((fx * fy / 12) * ((fx + fy + 1) - tieSum/((fx+fy)*(fx+fy-1))))
	if sigma == 0 || math.IsNaN(sigma) {
		return math.NaN(), false
	}
	if opts.Correct {
		switch {
		case z > 0:
			z -= 0.5
		case z < 0:
			z += 0.5
		}
	}
	z /= sigma
	p = 2 * math.Min(distuv.UnitNormal.CDF(z), distuv.UnitNormal.Survival(z))
	return math.Min(p, 1), true
}

// exactPValue returns the two-sided exact p-value of Mann-Whitney U=u for
// sample sizes m and n.
func exactPValue(u, m, n int) float64 {
	counts := uDistribution(m, n)
	var total float64
	for _, c := range counts {
		total += c
	}
	cdf := func(q int) float64 {
		if q < 0 {
			return 0
		}
		var s float64
		for i := 0; i <= q && i < len(counts); i++ {
			s += counts[i]
		}
		return s / total
	}
	var p float64
	if float64(u) > float64(m*n)/2 {
		p = 1 - cdf(u-1)
	} else {
		p = cdf(u)
	}
	return math.Min(2*p, 1)
}

// uDistribution returns the number of arrangements yielding each U value,
// for U in 0..m*n, by the recurrence f(m,n,u) = f(m-1,n,u-n) + f(m,n-1,u).
func uDistribution(m, n int) []float64 {
	// prev[j][u] holds f(i-1, j, u) while row i is built.
	prev := make([][]float64, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = []float64{1}
	}
	for i := 1; i <= m; i++ {
		cur := make([][]float64, n+1)
		cur[0] = []float64{1}
		for j := 1; j <= n; j++ {
			row := make([]float64, i*j+1)
			for u := range row {
				if u-j >= 0 && u-j < len(prev[j]) {
					row[u] += prev[j][u-j]
				}
				if u < len(cur[j-1]) {
					row[u] += cur[j-1][u]
				}
			}
			cur[j] = row
		}
		prev = cur
	}
	return prev[n]
}

func finite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}
