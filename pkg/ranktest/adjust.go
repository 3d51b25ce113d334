package ranktest

import (
	"fmt"
	"math"
	"sort"
)

// AdjustMethod names a multiple-testing correction.
type AdjustMethod string

const (
	AdjustNone       AdjustMethod = "none"
	AdjustBonferroni AdjustMethod = "bonferroni"
	AdjustHolm       AdjustMethod = "holm"
	AdjustBH         AdjustMethod = "BH"
	AdjustBY         AdjustMethod = "BY"
)

// ParseAdjustMethod accepts the method names above; "fdr" is an alias of BH.
func ParseAdjustMethod(s string) (AdjustMethod, error) {
	switch s {
	case "", "none":
		return AdjustNone, nil
	case "bonferroni":
		return AdjustBonferroni, nil
	case "holm":
		return AdjustHolm, nil
	case "BH", "fdr":
		return AdjustBH, nil
	case "BY":
		return AdjustBY, nil
	}
	return AdjustNone, fmt.Errorf("unknown p-value adjustment %q", s)
}

// Adjust returns adjusted p-values. NaN entries are kept as NaN and do not
// count towards the number of tests.
func Adjust(p []float64, method AdjustMethod) ([]float64, error) {
	out := make([]float64, len(p))
	copy(out, p)

	idx := make([]int, 0, len(p))
	for i, v := range p {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	m := float64(len(idx))
	if len(idx) == 0 {
		return out, nil
	}

	switch method {
	case AdjustNone:
		return out, nil
	case AdjustBonferroni:
		for _, i := range idx {
			out[i] = math.Min(1, p[i]*m)
		}
		return out, nil
	}

	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	switch method {
	case AdjustHolm:
		running := 0.0
		for rank, i := range idx {
			v := math.Min(1, (m-float64(rank))*p[i])
			running = math.Max(running, v)
			out[i] = running
		}
	case AdjustBH, AdjustBY:
		q := 1.0
		if method == AdjustBY {
			q = 0
			for k := 1.0; k <= m; k++ {
				q += 1 / k
			}
		}
		running := 1.0
		for rank := len(idx) - 1; rank >= 0; rank-- {
			i := idx[rank]
			v := math.Min(1, q*p[i]*m/float64(rank+1))
			running = math.Min(running, v)
			out[i] = running
		}
	default:
		return nil, fmt.Errorf("unknown p-value adjustment %q", method)
	}
	return out, nil
}
