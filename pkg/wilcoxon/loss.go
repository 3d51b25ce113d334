package wilcoxon

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
)

// minRSS floors the residual sum of squares so a partition whose groups
// have no within-group spread scores a finite loss. Among such partitions
// the k·log(n) term then prefers the one with fewer groups.
const minRSS = 1e-12

// BIC scores a partition of the table's categories:
// n·log(RSS/n) + k·log(n), with residuals taken against each group's mean
// ratio and RSS floored at minRSS. Lower is better.
func BIC(t *observation.Table, p models.Partition) (float64, error) {
	if len(p.Labels) != t.NumCategories() {
		return 0, fmt.Errorf("partition has %d labels, table has %d categories", len(p.Labels), t.NumCategories())
	}
	slot := make(map[int]int)
	for _, l := range p.Labels {
		if _, ok := slot[l]; !ok {
			slot[l] = len(slot)
		}
	}
	groups := make([][]float64, len(slot))
	for i, c := range t.Category {
		k := slot[p.Labels[c]]
		groups[k] = append(groups[k], t.Ratio[i])
	}
	var rss float64
	var n int
	for _, values := range groups {
		mean := stat.Mean(values, nil)
		for _, v := range values {
			rss += (v - mean) * (v - mean)
		}
		n += len(values)
	}
	if n == 0 {
		return 0, fmt.Errorf("table has no observations")
	}
	fn := float64(n)
	rss = math.Max(rss, minRSS)
	return fn*math.Log(rss/fn) + float64(len(groups))*math.Log(fn), nil
}
