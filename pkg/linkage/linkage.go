// Package linkage implements agglomerative hierarchical clustering on a
// symmetric distance matrix and cutting of the resulting dendrogram.
package linkage

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Method selects how the distance between merged clusters is updated.
type Method int

const (
	Single Method = iota
	Complete
	Average
)

func (m Method) String() string {
	switch m {
	case Single:
		return "single"
	case Complete:
		return "complete"
	case Average:
		return "average"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod maps a method name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "single":
		return Single, nil
	case "complete":
		return Complete, nil
	case "average":
		return Average, nil
	}
	return Single, fmt.Errorf("unknown linkage method %q", s)
}

// ErrTooFewClusters is returned by CutK when the dendrogram stopped early
// (infinite distances) and cannot reach the requested number of clusters.
var ErrTooFewClusters = errors.New("dendrogram cannot be cut into that few clusters")

// Merge records one agglomeration step. A and B index clusters: values below
// n are observations, value n+s is the cluster created at step s.
type Merge struct {
	A, B   int
	Height float64
}

// Dendrogram is the result of Cluster.
type Dendrogram struct {
	N      int
	Merges []Merge
}

// Cluster agglomerates n observations using distance matrix d. Pairs at
// +Inf distance are never merged, so the dendrogram may be incomplete.
// Ties are broken by the lowest (row, column) pair of active clusters.
func Cluster(d mat.Symmetric, method Method) (*Dendrogram, error) {
	n := d.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("empty distance matrix")
	}
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			v := d.At(i, j)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("NaN distance at (%d,%d)", i, j)
			}
			dist[i][j] = v
		}
	}

	active := make([]bool, n)
	ids := make([]int, n)
	sizes := make([]int, n)
	for i := range active {
		active[i] = true
		ids[i] = i
		sizes[i] = 1
	}

	dg := &Dendrogram{N: n}
	for step := 0; step < n-1; step++ {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}
		if bi < 0 {
			break
		}

		a, b := ids[bi], ids[bj]
		if a > b {
			a, b = b, a
		}
		dg.Merges = append(dg.Merges, Merge{A: a, B: b, Height: best})

		// Slot bi holds the merged cluster.
		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			var v float64
			switch method {
			case Single:
				v = math.Min(dist[bi][k], dist[bj][k])
			case Complete:
				v = math.Max(dist[bi][k], dist[bj][k])
			case Average:
				v = (float64(sizes[bi])*dist[bi][k] + float64(sizes[bj])*dist[bj][k]) / float64(sizes[bi]+sizes[bj])
			default:
				return nil, fmt.Errorf("unknown linkage method %v", method)
			}
			dist[bi][k] = v
			dist[k][bi] = v
		}
		sizes[bi] += sizes[bj]
		active[bj] = false
		ids[bi] = n + step
	}
	return dg, nil
}

// MinClusters is the smallest number of clusters any cut can produce.
func (dg *Dendrogram) MinClusters() int {
	return dg.N - len(dg.Merges)
}

// CutHeight assigns labels by applying every merge at height <= h. Labels
// are numbered from 1 in order of first appearance.
func (dg *Dendrogram) CutHeight(h float64) []int {
	steps := 0
	for _, m := range dg.Merges {
		if m.Height > h {
			break
		}
		steps++
	}
	return dg.apply(steps)
}

// CutK assigns labels for exactly k clusters.
func (dg *Dendrogram) CutK(k int) ([]int, error) {
	if k < 1 || k > dg.N {
		return nil, fmt.Errorf("k=%d out of range [1,%d]", k, dg.N)
	}
	if k < dg.MinClusters() {
		return nil, fmt.Errorf("k=%d: %w (minimum %d)", k, ErrTooFewClusters, dg.MinClusters())
	}
	return dg.apply(dg.N - k), nil
}

// apply performs the first steps merges with a union-find and labels the
// observations.
func (dg *Dendrogram) apply(steps int) []int {
	parent := make([]int, dg.N+len(dg.Merges))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for s := 0; s < steps; s++ {
		m := dg.Merges[s]
		node := dg.N + s
		parent[find(m.A)] = node
		parent[find(m.B)] = node
	}

	labels := make([]int, dg.N)
	seen := make(map[int]int)
	for i := 0; i < dg.N; i++ {
		root := find(i)
		l, ok := seen[root]
		if !ok {
			l = len(seen) + 1
			seen[root] = l
		}
		labels[i] = l
	}
	return labels
}
