// Package dataio reads datasets, adjacency matrices and partitions from JSON
// and writes results back out.
package dataio

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/adjacency"
	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
)

// DatasetFile is the JSON form of an observation.Dataset. Layers are
// genes × cells; a null ratio entry is read as NaN.
type DatasetFile struct {
	Genes          []string            `json:"genes"`
	Cells          []string            `json:"cells"`
	Ratio          [][]*float64        `json:"ratio,omitempty"`
	Alt            [][]float64         `json:"alt,omitempty"`
	Total          [][]float64         `json:"total"`
	CellData       map[string][]string `json:"cell_data"`
	GeneData       map[string][]string `json:"gene_data"`
	CategoryColumn string              `json:"category_column,omitempty"`
	ClusterColumn  string              `json:"cluster_column,omitempty"`
	CategoryLevels []string            `json:"category_levels,omitempty"`
}

// Dataset converts the file into a validated dataset.
func (f *DatasetFile) Dataset() (*observation.Dataset, error) {
	ng, nc := len(f.Genes), len(f.Cells)
	ds := &observation.Dataset{
		Genes:          f.Genes,
		Cells:          f.Cells,
		CellData:       f.CellData,
		GeneData:       f.GeneData,
		CategoryColumn: f.CategoryColumn,
		ClusterColumn:  f.ClusterColumn,
		CategoryLevels: f.CategoryLevels,
	}
	var err error
	if ds.Total, err = dense("total", f.Total, ng, nc); err != nil {
		return nil, err
	}
	if f.Alt != nil {
		if ds.Alt, err = dense("alt", f.Alt, ng, nc); err != nil {
			return nil, err
		}
	}
	if f.Ratio != nil {
		rows := make([][]float64, len(f.Ratio))
		for g, row := range f.Ratio {
			rows[g] = make([]float64, len(row))
			for c, v := range row {
				if v == nil {
					rows[g][c] = math.NaN()
				} else {
					rows[g][c] = *v
				}
			}
		}
		if ds.Ratio, err = dense("ratio", rows, ng, nc); err != nil {
			return nil, err
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func dense(field string, rows [][]float64, ng, nc int) (*mat.Dense, error) {
	if len(rows) != ng {
		return nil, models.ValidationError{Field: field, Message: "row count must equal gene count", Value: fmt.Sprintf("%d != %d", len(rows), ng)}
	}
	if ng == 0 || nc == 0 {
		return nil, models.ValidationError{Field: field, Message: "layer is empty"}
	}
	m := mat.NewDense(ng, nc, nil)
	for g, row := range rows {
		if len(row) != nc {
			return nil, models.ValidationError{Field: field, Message: "column count must equal cell count", Value: fmt.Sprintf("row %d: %d != %d", g, len(row), nc)}
		}
		m.SetRow(g, row)
	}
	return m, nil
}

// DecodeDataset reads a DatasetFile from r.
func DecodeDataset(r io.Reader) (*observation.Dataset, error) {
	var f DatasetFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return f.Dataset()
}

// ReadDataset reads a dataset JSON file.
func ReadDataset(path string) (*observation.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()
	return DecodeDataset(file)
}

// AdjacencyFile is a named 0/1 category adjacency matrix.
type AdjacencyFile struct {
	Names  []string    `json:"names"`
	Matrix [][]float64 `json:"matrix"`
}

// Adjacency validates the matrix against categories.
func (f *AdjacencyFile) Adjacency(categories []string) (*adjacency.Matrix, error) {
	n := len(f.Matrix)
	if n == 0 {
		return nil, models.ValidationError{Field: "matrix", Message: "adjacency matrix is empty"}
	}
	m := mat.NewDense(n, n, nil)
	for i, row := range f.Matrix {
		if len(row) != n {
			return nil, models.ValidationError{Field: "matrix", Message: "matrix must be square", Value: fmt.Sprintf("row %d has %d entries", i, len(row))}
		}
		m.SetRow(i, row)
	}
	return adjacency.FromDense(categories, f.Names, m)
}

// ReadAdjacency reads an adjacency JSON file and aligns it to categories.
func ReadAdjacency(path string, categories []string) (*adjacency.Matrix, error) {
	var f AdjacencyFile
	if err := readJSON(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read adjacency: %w", err)
	}
	return f.Adjacency(categories)
}

// ReadPartitions reads a JSON array of partitions over the same categories.
func ReadPartitions(path string) ([]models.Partition, error) {
	var parts []models.Partition
	if err := readJSON(path, &parts); err != nil {
		return nil, fmt.Errorf("failed to read partitions: %w", err)
	}
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("partition %d: %w", i+1, err)
		}
	}
	return parts, nil
}

func readJSON(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(v)
}

// Encode writes v as indented JSON.
func Encode(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResult writes v as indented JSON to path, or to stdout when path is
// empty or "-".
func WriteResult(path string, v interface{}) error {
	if path == "" || path == "-" {
		return Encode(os.Stdout, v)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Encode(file, v); err != nil {
		file.Close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	return file.Close()
}
