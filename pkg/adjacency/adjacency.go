// Package adjacency builds and validates category adjacency matrices. An
// edge between two categories allows them to be fused directly by the
// penalized engine, and allows the nonparametric engine to treat them as
// similar.
package adjacency

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/models"
)

// Matrix is a symmetric zero/one category adjacency matrix labelled by
// category. The diagonal is ignored.
type Matrix struct {
	categories []string
	m          *mat.SymDense
}

// Full returns the fully connected adjacency for categories.
func Full(categories []string) *Matrix {
	n := len(categories)
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.SetSym(i, j, 1)
		}
	}
	return &Matrix{categories: append([]string(nil), categories...), m: m}
}

// Ordered returns the chain adjacency in which every category is connected
// only to its immediate predecessor.
func Ordered(categories []string) *Matrix {
	n := len(categories)
	m := mat.NewSymDense(n, nil)
	for i := 1; i < n; i++ {
		m.SetSym(i, i-1, 1)
	}
	return &Matrix{categories: append([]string(nil), categories...), m: m}
}

// FromDense builds an adjacency from a caller-supplied matrix whose rows and
// columns are named by names. The result is reordered to follow categories.
// The matrix must be square, symmetric and zero/one valued off the diagonal,
// and its names must cover exactly the category set.
func FromDense(categories, names []string, a mat.Matrix) (*Matrix, error) {
	var errs models.ValidationErrors
	r, c := a.Dims()
	if r != c {
		return nil, models.ValidationError{Field: "adjacency", Message: "matrix must be square", Value: fmt.Sprintf("%dx%d", r, c)}
	}
	if len(names) == 0 {
		return nil, models.ValidationError{Field: "names", Message: "adjacency must carry category labels as row/column names"}
	}
	if len(names) != r {
		return nil, models.ValidationError{Field: "names", Message: "name count must equal matrix dimension", Value: fmt.Sprintf("%d != %d", len(names), r)}
	}
	if len(categories) != r {
		return nil, models.ValidationError{Field: "adjacency", Message: "dimension must equal number of categories", Value: fmt.Sprintf("%d != %d", r, len(categories))}
	}

	index := make(map[string]int, len(names))
	for i, name := range names {
		if _, dup := index[name]; dup {
			errs = append(errs, models.ValidationError{Field: "names", Message: "duplicate name", Value: name})
		}
		index[name] = i
	}
	for _, cat := range categories {
		if _, ok := index[cat]; !ok {
			errs = append(errs, models.ValidationError{Field: "names", Message: "category missing from adjacency names", Value: cat})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v, w := a.At(i, j), a.At(j, i)
			if v != w {
				errs = append(errs, models.ValidationError{Field: "adjacency", Message: "matrix is not symmetric", Value: fmt.Sprintf("[%s,%s]", names[i], names[j])})
			}
			if v != 0 && v != 1 {
				errs = append(errs, models.ValidationError{Field: "adjacency", Message: "entries must be 0 or 1", Value: fmt.Sprintf("[%s,%s]=%g", names[i], names[j], v)})
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	n := len(categories)
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.SetSym(i, j, a.At(index[categories[i]], index[categories[j]]))
		}
	}
	return &Matrix{categories: append([]string(nil), categories...), m: m}, nil
}

// Categories returns the category labels in matrix order.
func (a *Matrix) Categories() []string { return a.categories }

// Match checks that the matrix is labelled with exactly categories, in
// order.
func (a *Matrix) Match(categories []string) error {
	if len(a.categories) != len(categories) {
		return models.ValidationError{
			Field:   "adjacency",
			Message: "adjacency size must equal the number of categories",
			Value:   fmt.Sprintf("%d != %d", len(a.categories), len(categories)),
		}
	}
	for i, c := range a.categories {
		if c != categories[i] {
			return models.ValidationError{Field: "adjacency", Message: "adjacency categories must follow the category order", Value: c}
		}
	}
	return nil
}

// Len returns the number of categories.
func (a *Matrix) Len() int { return len(a.categories) }

// Allowed reports whether categories i and j may be placed together directly.
func (a *Matrix) Allowed(i, j int) bool {
	if i == j {
		return true
	}
	return a.m.At(i, j) != 0
}

// Edges returns the allowed pairs (i<j) in row-major order.
func (a *Matrix) Edges() [][2]int {
	var edges [][2]int
	n := a.Len()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if a.m.At(i, j) != 0 {
				edges = append(edges, [2]int{i, j})
			}
		}
	}
	return edges
}

// Components returns the connected components of the adjacency graph, each
// sorted ascending and ordered by their smallest member.
func (a *Matrix) Components() [][]int {
	return Components(a.Len(), a.Edges())
}

// Components returns the connected components of the undirected graph on
// nodes 0..n-1 with the given edges.
func Components(n int, edges [][2]int) [][]int {
	g := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, e := range edges {
		if e[0] == e[1] {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(e[0]), simple.Node(e[1])))
	}

	cc := topo.ConnectedComponents(g)
	out := make([][]int, len(cc))
	for i, comp := range cc {
		ids := make([]int, len(comp))
		for j, node := range comp {
			ids[j] = int(node.ID())
		}
		sort.Ints(ids)
		out[i] = ids
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
