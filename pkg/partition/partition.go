// Package partition provides helpers shared by the partitioning engines:
// deriving a partition from fitted values, co-clustering frequencies, and
// agreement scores between partitions.
package partition

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/models"
)

// FromValues groups categories whose values are exactly equal. Solvers snap
// fused coefficients to identical values, so floating equality is the
// equivalence test. Labels follow first appearance.
func FromValues(categories []string, values []float64) (models.Partition, error) {
	if len(categories) != len(values) {
		return models.Partition{}, fmt.Errorf("values length %d does not match %d categories", len(values), len(categories))
	}
	labels := make([]int, len(values))
	next := 1
	seen := make(map[float64]int, len(values))
	for i, v := range values {
		l, ok := seen[v]
		if !ok {
			l = next
			seen[v] = l
			next++
		}
		labels[i] = l
	}
	return models.NewPartition(categories, labels)
}

// CoClustering returns the symmetric matrix whose (i,j) entry is the fraction
// of partitions in which categories i and j share a label. The diagonal is 1.
func CoClustering(parts []models.Partition) (*mat.SymDense, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no partitions supplied")
	}
	n := len(parts[0].Categories)
	for r, p := range parts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("partition %d: %w", r, err)
		}
		if len(p.Categories) != n {
			return nil, fmt.Errorf("partition %d has %d categories, want %d", r, len(p.Categories), n)
		}
		for i, c := range p.Categories {
			if c != parts[0].Categories[i] {
				return nil, fmt.Errorf("partition %d category %d is %q, want %q", r, i, c, parts[0].Categories[i])
			}
		}
	}

	co := mat.NewSymDense(n, nil)
	w := 1 / float64(len(parts))
	for _, p := range parts {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				if p.Labels[i] == p.Labels[j] {
					co.SetSym(i, j, co.At(i, j)+w)
				}
			}
		}
	}
	return co, nil
}
