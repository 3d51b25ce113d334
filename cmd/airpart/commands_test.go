package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioc/airpart/pkg/dataio"
	"github.com/bioc/airpart/pkg/models"
)

func writeJSON(t *testing.T, dir, name string, v interface{}) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, dataio.WriteResult(path, v))
	return path
}

func fixtureDataset() dataio.DatasetFile {
	row := []float64{0.29, 0.31, 0.31, 0.33, 0.79, 0.81}
	f := dataio.DatasetFile{
		Cells:    []string{"c1", "c2", "c3", "c4", "c5", "c6"},
		CellData: map[string][]string{"x": {"A", "A", "B", "B", "C", "C"}},
		GeneData: map[string][]string{"cluster": {}},
	}
	for _, g := range []string{"g1", "g2", "g3", "g4", "g5"} {
		f.Genes = append(f.Genes, g)
		f.GeneData["cluster"] = append(f.GeneData["cluster"], "1")
		ratio := make([]*float64, len(row))
		for i := range row {
			ratio[i] = &row[i]
		}
		f.Ratio = append(f.Ratio, ratio)
		f.Total = append(f.Total, []float64{10, 10, 10, 10, 10, 10})
	}
	return f
}

type output struct {
	Engine     string `json:"engine"`
	Projection struct {
		Columns    []string `json:"columns"`
		CellLabels [][]int  `json:"cell_labels"`
	} `json:"projection"`
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

// captureStdout runs fn with os.Stdout redirected and returns what was
// written to it.
func captureStdout(t *testing.T, fn func() error) ([]byte, error) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(r)
		done <- data
	}()
	runErr := fn()
	w.Close()
	data := <-done
	r.Close()
	return data, runErr
}

func readOutput(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestFusedLassoCommand(t *testing.T) {
	dir := t.TempDir()
	ds := writeJSON(t, dir, "dataset.json", fixtureDataset())
	out := filepath.Join(dir, "out.json")

	err := execute(t, "fusedlasso", "-d", ds, "-c", "1", "-o", out, "--log-level", "error",
		"--family", "gaussian", "--penalty", "chain", "--lambda", "0.02", "--seed", "3")
	require.NoError(t, err)

	var got output
	readOutput(t, out, &got)
	assert.Equal(t, "fusedlasso", got.Engine)
	assert.Equal(t, []string{"part"}, got.Projection.Columns)
	assert.Equal(t, [][]int{{1, 1, 1, 1, 2, 2}}, got.Projection.CellLabels)
}

func TestFusedLassoCommandConsensus(t *testing.T) {
	dir := t.TempDir()
	ds := writeJSON(t, dir, "dataset.json", fixtureDataset())
	out := filepath.Join(dir, "out.json")

	err := execute(t, "fl", "-d", ds, "-c", "1", "-o", out, "--log-level", "error",
		"--family", "gaussian", "--penalty", "chain", "--lambda", "0.02",
		"--niter", "2", "--consensus")
	require.NoError(t, err)

	var got output
	readOutput(t, out, &got)
	assert.Equal(t, []string{"part"}, got.Projection.Columns)
}

func TestWilcoxonCommand(t *testing.T) {
	dir := t.TempDir()
	ds := writeJSON(t, dir, "dataset.json", fixtureDataset())
	out := filepath.Join(dir, "out.json")

	err := execute(t, "wilcoxon", "-d", ds, "-c", "1", "-o", out, "--log-level", "error")
	require.NoError(t, err)

	var got output
	readOutput(t, out, &got)
	assert.Equal(t, "wilcoxon", got.Engine)
	require.Len(t, got.Projection.CellLabels, 1)
	assert.Len(t, got.Projection.CellLabels[0], 6)
}

func TestStdoutCarriesOnlyResult(t *testing.T) {
	dir := t.TempDir()
	ds := writeJSON(t, dir, "dataset.json", fixtureDataset())

	tests := []struct {
		name string
		args []string
	}{
		{"wilcoxon", []string{"wilcoxon", "-d", ds, "-c", "1", "--log-level", "debug"}},
		{"fusedlasso", []string{"fusedlasso", "-d", ds, "-c", "1", "--log-level", "debug",
			"--family", "gaussian", "--penalty", "chain", "--lambda", "0.02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := captureStdout(t, func() error { return execute(t, tt.args...) })
			require.NoError(t, err)

			var got output
			require.NoError(t, json.Unmarshal(data, &got), "stdout: %.80s", data)
			assert.Equal(t, tt.name, got.Engine)
		})
	}
}

func TestConsensusCommand(t *testing.T) {
	dir := t.TempDir()
	cats := []string{"A", "B", "C", "D"}
	parts := writeJSON(t, dir, "parts.json", []models.Partition{
		{Categories: cats, Labels: []int{1, 1, 2, 2}},
		{Categories: cats, Labels: []int{1, 1, 2, 2}},
		{Categories: cats, Labels: []int{1, 2, 3, 3}},
	})
	out := filepath.Join(dir, "out.json")

	require.NoError(t, execute(t, "consensus", "-p", parts, "-o", out, "--log-level", "error"))

	var got struct {
		Partition    models.Partition `json:"partition"`
		Fallback     bool             `json:"fallback"`
		Agreement    []float64        `json:"agreement"`
		AdjustedRand []float64        `json:"adjusted_rand"`
	}
	readOutput(t, out, &got)
	assert.Equal(t, []int{1, 1, 2, 2}, got.Partition.Labels)
	assert.False(t, got.Fallback)
	require.Len(t, got.AdjustedRand, 3)
	assert.Equal(t, 1.0, got.AdjustedRand[0])
	assert.Less(t, got.AdjustedRand[2], 1.0)
	assert.Len(t, got.Agreement, 3)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	ds := writeJSON(t, dir, "dataset.json", fixtureDataset())

	tests := []struct {
		name string
		args []string
	}{
		{"missing dataset flag", []string{"wilcoxon", "-c", "1"}},
		{"missing dataset file", []string{"wilcoxon", "-d", filepath.Join(dir, "nope.json"), "-c", "1"}},
		{"unknown cluster", []string{"wilcoxon", "-d", ds, "-c", "9", "--log-level", "error"}},
		{"bad family", []string{"fusedlasso", "-d", ds, "-c", "1", "--family", "poisson", "--log-level", "error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, execute(t, tt.args...))
		})
	}
}
