package partition

import (
	"fmt"
	"math"

	"github.com/bioc/airpart/pkg/models"
)

// NMI calculates the normalized mutual information between two partitions
// of the same categories. It returns 1 when both have a single group.
func NMI(a, b models.Partition) (float64, error) {
	if len(a.Labels) != len(b.Labels) {
		return 0, fmt.Errorf("partitions must have the same length")
	}
	n := len(a.Labels)
	if n == 0 {
		return 0, nil
	}

	table := contingency(a.Labels, b.Labels)
	mi := mutualInformation(table, n)

	h1 := entropy(a.Labels)
	h2 := entropy(b.Labels)
	avg := (h1 + h2) / 2
	if avg == 0 {
		return 1.0, nil
	}
	return mi / avg, nil
}

// AdjustedRand returns the Hubert-Arabie adjusted Rand index.
func AdjustedRand(a, b models.Partition) (float64, error) {
	if len(a.Labels) != len(b.Labels) {
		return 0, fmt.Errorf("partitions must have the same length")
	}
	n := len(a.Labels)
	if n < 2 {
		return 1, nil
	}
	table := contingency(a.Labels, b.Labels)
	rows := make(map[int]int)
	cols := make(map[int]int)
	var index float64
	for k, c := range table {
		rows[k[0]] += c
		cols[k[1]] += c
		index += choose2(c)
	}
	var sumRows, sumCols float64
	for _, c := range rows {
		sumRows += choose2(c)
	}
	for _, c := range cols {
		sumCols += choose2(c)
	}
	expected := sumRows * sumCols / choose2(n)
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		return 1, nil
	}
	return (index - expected) / (maxIndex - expected), nil
}

func choose2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// contingency counts co-occurrences of label pairs.
func contingency(a, b []int) map[[2]int]int {
	table := make(map[[2]int]int)
	for i := range a {
		table[[2]int{a[i], b[i]}]++
	}
	return table
}

func mutualInformation(table map[[2]int]int, n int) float64 {
	counts1 := make(map[int]int)
	counts2 := make(map[int]int)
	for k, c := range table {
		counts1[k[0]] += c
		counts2[k[1]] += c
	}

	mi := 0.0
	for k, nij := range table {
		ni := counts1[k[0]]
		nj := counts2[k[1]]
		if nij > 0 {
			mi += float64(nij) / float64(n) * math.Log2(float64(nij*n)/float64(ni*nj))
		}
	}
	return mi
}

func entropy(labels []int) float64 {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	n := float64(len(labels))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / n
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}
