// Package projection maps final category partitions back onto the cells and
// observation rows of a dataset and packages the call-level metadata.
package projection

import (
	"fmt"

	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
)

// Column is a named partition, "part" for a single partition and
// "part1".."partN" for per-run partitions.
type Column struct {
	Name      string           `json:"name"`
	Partition models.Partition `json:"partition"`
}

// Tuning records the selected tuning values.
type Tuning struct {
	Engine    string    `json:"engine"`
	Lambdas   []float64 `json:"lambdas,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
}

// Meta is the engine output carried into the projection.
type Meta struct {
	Tuning Tuning
	// Effects holds one category → fitted effect map per run.
	Effects []map[string]float64
}

// Entry is one row of the partition table.
type Entry struct {
	Category string    `json:"category"`
	Labels   []int     `json:"labels"`
	Effects  []float64 `json:"effects,omitempty"`
}

// Projection is the partition table plus per-cell and per-observation labels.
type Projection struct {
	Columns []string `json:"columns"`
	Summary []Entry  `json:"summary"`
	// CellLabels[k][c] is the label of cell c under column k.
	CellLabels [][]int `json:"cell_labels"`
	// RowLabels[k][r] is the label of observation row r under column k.
	RowLabels [][]int `json:"row_labels"`
	Tuning    Tuning  `json:"tuning"`
}

// Project broadcasts every column's category labels onto the dataset's
// cells and the table's rows. Category order is the table's.
func Project(ds *observation.Dataset, t *observation.Table, cols []Column, meta Meta) (*Projection, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("no partitions to project")
	}
	for _, col := range cols {
		if err := sameCategories(t.Categories, col.Partition); err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
	}
	index := make(map[string]int, len(t.Categories))
	for i, c := range t.Categories {
		index[c] = i
	}

	proj := &Projection{Tuning: meta.Tuning}
	for _, col := range cols {
		proj.Columns = append(proj.Columns, col.Name)
	}
	for i, c := range t.Categories {
		e := Entry{Category: c}
		for _, col := range cols {
			e.Labels = append(e.Labels, col.Partition.Labels[i])
		}
		for r, effects := range meta.Effects {
			v, ok := effects[c]
			if !ok {
				return nil, fmt.Errorf("run %d has no effect for category %q", r+1, c)
			}
			e.Effects = append(e.Effects, v)
		}
		proj.Summary = append(proj.Summary, e)
	}

	catCol, err := ds.CellCategories()
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		cells := make([]int, len(catCol))
		for c, name := range catCol {
			i, ok := index[name]
			if !ok {
				return nil, models.ValidationError{Field: "category", Message: "cell category not in category set", Value: name}
			}
			cells[c] = col.Partition.Labels[i]
		}
		proj.CellLabels = append(proj.CellLabels, cells)

		rows := make([]int, t.Len())
		for r, c := range t.Category {
			rows[r] = col.Partition.Labels[c]
		}
		proj.RowLabels = append(proj.RowLabels, rows)
	}
	return proj, nil
}

func sameCategories(categories []string, p models.Partition) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.Categories) != len(categories) {
		return fmt.Errorf("partition has %d categories, want %d", len(p.Categories), len(categories))
	}
	for i, c := range p.Categories {
		if c != categories[i] {
			return fmt.Errorf("partition category %d is %q, want %q", i, c, categories[i])
		}
	}
	return nil
}
