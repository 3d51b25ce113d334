package observation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/models"
)

// Covariate is a categorical nuisance column aligned with the table rows.
// Levels only contains values observed in the surviving rows.
type Covariate struct {
	Name   string
	Levels []string
	Codes  []int
}

// Table is the long observation table: one row per (gene, cell) pair with a
// defined ratio.
type Table struct {
	Ratio    []float64
	Weight   []float64
	Category []int
	Gene     []int
	Cell     []int

	Covariates []Covariate
	Categories []string
}

// Request selects the gene cluster and extra covariates to attach.
type Request struct {
	Cluster string
	// CellCovariates are read from the dataset's per-cell columns.
	CellCovariates []string
	// GeneCovariates are read from the dataset's per-gene columns.
	GeneCovariates []string
}

// Build restricts ds to the requested gene cluster and flattens it into a
// Table. Rows with an undefined ratio are dropped. It fails with
// ErrMissingParameter when the cluster id or a required column is absent,
// and with ErrDesignDegenerate when some category has no surviving rows.
func Build(ds *Dataset, req Request) (*Table, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	categories, err := ds.Categories()
	if err != nil {
		return nil, err
	}
	if len(categories) < 2 {
		return nil, models.ValidationError{Field: ds.categoryColumn(), Message: "at least two categories are required"}
	}
	genes, err := ds.GeneIndices(req.Cluster)
	if err != nil {
		return nil, err
	}
	if len(genes) == 0 {
		return nil, fmt.Errorf("gene cluster %q has no genes: %w", req.Cluster, models.ErrDesignDegenerate)
	}

	index := make(map[string]int, len(categories))
	for i, c := range categories {
		index[c] = i
	}
	catCol := ds.CellData[ds.categoryColumn()]

	cellCov := make([][]string, len(req.CellCovariates))
	for i, name := range req.CellCovariates {
		col, ok := ds.CellData[name]
		if !ok {
			return nil, fmt.Errorf("cell covariate %q: %w", name, models.ErrMissingParameter)
		}
		cellCov[i] = col
	}
	geneCov := make([][]string, len(req.GeneCovariates))
	for i, name := range req.GeneCovariates {
		col, ok := ds.GeneData[name]
		if !ok {
			return nil, fmt.Errorf("gene covariate %q: %w", name, models.ErrMissingParameter)
		}
		geneCov[i] = col
	}

	t := &Table{Categories: categories}
	cellRaw := make([][]string, len(cellCov))
	geneRaw := make([][]string, len(geneCov))
	for _, g := range genes {
		for c := range ds.Cells {
			r := ds.RatioAt(g, c)
			if math.IsNaN(r) {
				continue
			}
			t.Ratio = append(t.Ratio, r)
			t.Weight = append(t.Weight, ds.Total.At(g, c))
			t.Category = append(t.Category, index[catCol[c]])
			t.Gene = append(t.Gene, g)
			t.Cell = append(t.Cell, c)
			for i, col := range cellCov {
				cellRaw[i] = append(cellRaw[i], col[c])
			}
			for i, col := range geneCov {
				geneRaw[i] = append(geneRaw[i], col[g])
			}
		}
	}
	for i, name := range req.CellCovariates {
		t.Covariates = append(t.Covariates, encode(name, cellRaw[i]))
	}
	for i, name := range req.GeneCovariates {
		t.Covariates = append(t.Covariates, encode(name, geneRaw[i]))
	}

	if err := t.CheckRank(); err != nil {
		return nil, err
	}
	return t, nil
}

// encode factors values, dropping unused levels.
func encode(name string, values []string) Covariate {
	levels := sortedUnique(values)
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	codes := make([]int, len(values))
	for i, v := range values {
		codes[i] = index[v]
	}
	return Covariate{Name: name, Levels: levels, Codes: codes}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Ratio) }

// NumCategories returns nct.
func (t *Table) NumCategories() int { return len(t.Categories) }

// Counts returns the number of rows per category.
func (t *Table) Counts() []int {
	counts := make([]int, len(t.Categories))
	for _, c := range t.Category {
		counts[c]++
	}
	return counts
}

// CheckRank verifies that the one-hot category design has full column rank.
func (t *Table) CheckRank() error {
	nct := len(t.Categories)
	xtx := mat.NewSymDense(nct, nil)
	for _, c := range t.Category {
		xtx.SetSym(c, c, xtx.At(c, c)+1)
	}
	var svd mat.SVD
	if !svd.Factorize(xtx, mat.SVDNone) {
		return fmt.Errorf("factorizing category design: %w", models.ErrDesignDegenerate)
	}
	if rank := svd.Rank(1e-10); rank < nct {
		var empty []string
		for i, n := range t.Counts() {
			if n == 0 {
				empty = append(empty, t.Categories[i])
			}
		}
		return fmt.Errorf("rank %d < %d, categories without observations %v: %w", rank, nct, empty, models.ErrDesignDegenerate)
	}
	return nil
}

// ByCategory splits the ratio column by category.
func (t *Table) ByCategory() [][]float64 {
	out := make([][]float64, len(t.Categories))
	for i, c := range t.Category {
		out[c] = append(out[c], t.Ratio[i])
	}
	return out
}

// CovariateIndex returns the position of the named covariate.
func (t *Table) CovariateIndex(name string) (int, bool) {
	for i, c := range t.Covariates {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}
