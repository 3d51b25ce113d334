// Package observation flattens a genes × cells allelic count dataset into
// the long observation table consumed by the partitioning engines.
package observation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/models"
)

const (
	DefaultCategoryColumn = "x"
	DefaultClusterColumn  = "cluster"
)

// Dataset is a structured count dataset. Layers are genes × cells. Either
// Ratio or Alt must be set; when only Alt is present the ratio is derived as
// Alt/Total.
type Dataset struct {
	Genes []string
	Cells []string

	Ratio *mat.Dense
	Alt   *mat.Dense
	Total *mat.Dense

	// CellData holds per-cell categorical columns, GeneData per-gene ones.
	CellData map[string][]string
	GeneData map[string][]string

	CategoryColumn string
	ClusterColumn  string
	// CategoryLevels fixes the category order. When empty the sorted
	// distinct values of the category column are used.
	CategoryLevels []string
}

func (ds *Dataset) categoryColumn() string {
	if ds.CategoryColumn == "" {
		return DefaultCategoryColumn
	}
	return ds.CategoryColumn
}

func (ds *Dataset) clusterColumn() string {
	if ds.ClusterColumn == "" {
		return DefaultClusterColumn
	}
	return ds.ClusterColumn
}

// Validate checks that layers and columns are aligned with the gene and cell
// ids.
func (ds *Dataset) Validate() error {
	var errs models.ValidationErrors
	ng, nc := len(ds.Genes), len(ds.Cells)
	if ng == 0 {
		errs = append(errs, models.ValidationError{Field: "genes", Message: "dataset has no genes"})
	}
	if nc == 0 {
		errs = append(errs, models.ValidationError{Field: "cells", Message: "dataset has no cells"})
	}

	checkLayer := func(name string, m *mat.Dense) {
		if m == nil {
			return
		}
		r, c := m.Dims()
		if r != ng || c != nc {
			errs = append(errs, models.ValidationError{
				Field:   name,
				Message: "layer shape must be genes × cells",
				Value:   fmt.Sprintf("%dx%d, want %dx%d", r, c, ng, nc),
			})
		}
	}
	if ds.Total == nil {
		errs = append(errs, models.ValidationError{Field: "total", Message: "total count layer is required"})
	}
	if ds.Ratio == nil && ds.Alt == nil {
		errs = append(errs, models.ValidationError{Field: "ratio", Message: "either ratio or alt layer is required"})
	}
	checkLayer("total", ds.Total)
	checkLayer("ratio", ds.Ratio)
	checkLayer("alt", ds.Alt)

	for name, col := range ds.CellData {
		if len(col) != nc {
			errs = append(errs, models.ValidationError{
				Field: "cell_data." + name, Message: "column length must equal cell count",
				Value: fmt.Sprintf("%d != %d", len(col), nc),
			})
		}
	}
	for name, col := range ds.GeneData {
		if len(col) != ng {
			errs = append(errs, models.ValidationError{
				Field: "gene_data." + name, Message: "column length must equal gene count",
				Value: fmt.Sprintf("%d != %d", len(col), ng),
			})
		}
	}
	return errs.OrNil()
}

// RatioAt returns the allelic ratio of gene g in cell c, NaN when undefined.
func (ds *Dataset) RatioAt(g, c int) float64 {
	if ds.Ratio != nil {
		return ds.Ratio.At(g, c)
	}
	total := ds.Total.At(g, c)
	if total == 0 {
		return math.NaN()
	}
	return ds.Alt.At(g, c) / total
}

// Categories returns the ordered category set taken from the whole dataset,
// so category indices are stable across gene clusters.
func (ds *Dataset) Categories() ([]string, error) {
	name := ds.categoryColumn()
	col, err := ds.CellCategories()
	if err != nil {
		return nil, err
	}
	if len(ds.CategoryLevels) > 0 {
		known := make(map[string]bool, len(ds.CategoryLevels))
		for _, l := range ds.CategoryLevels {
			if known[l] {
				return nil, models.ValidationError{Field: "category_levels", Message: "duplicate level", Value: l}
			}
			known[l] = true
		}
		for _, v := range col {
			if !known[v] {
				return nil, models.ValidationError{Field: name, Message: "value not among category levels", Value: v}
			}
		}
		return append([]string(nil), ds.CategoryLevels...), nil
	}
	return sortedUnique(col), nil
}

// CellCategories returns the category column value of every cell.
func (ds *Dataset) CellCategories() ([]string, error) {
	name := ds.categoryColumn()
	col, ok := ds.CellData[name]
	if !ok {
		return nil, fmt.Errorf("category column %q: %w", name, models.ErrMissingParameter)
	}
	return col, nil
}

// GeneIndices returns the genes whose cluster column equals cluster.
func (ds *Dataset) GeneIndices(cluster string) ([]int, error) {
	if cluster == "" {
		return nil, fmt.Errorf("gene cluster id: %w", models.ErrMissingParameter)
	}
	name := ds.clusterColumn()
	col, ok := ds.GeneData[name]
	if !ok {
		return nil, fmt.Errorf("gene cluster column %q: %w", name, models.ErrMissingParameter)
	}
	var genes []int
	for g, v := range col {
		if v == cluster {
			genes = append(genes, g)
		}
	}
	return genes, nil
}

func sortedUnique(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
