package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioc/airpart/pkg/airpart"
	"github.com/bioc/airpart/pkg/dataio"
	pkgmodels "github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/server/config"
	"github.com/bioc/airpart/server/models"
)

func datasetFile() *dataio.DatasetFile {
	row := []float64{0.29, 0.31, 0.31, 0.33, 0.79, 0.81}
	f := &dataio.DatasetFile{
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

func jobConfig() config.JobConfig {
	return config.JobConfig{
		MaxWorkers:    2,
		MaxPerDataset: 3,
		JobTimeout:    time.Minute,
		ResultTTL:     time.Hour,
	}
}

func setup(t *testing.T, cfg config.JobConfig) (*JobService, string) {
	t.Helper()
	datasets := NewDatasetService()
	ds, err := datasets.Upload("fixture", datasetFile())
	require.NoError(t, err)
	jobs := NewJobService(datasets, cfg, "error")
	t.Cleanup(jobs.Close)
	return jobs, ds.ID
}

func waitFor(t *testing.T, jobs *JobService, jobID string, status models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		got, err := jobs.Get(jobID)
		if err != nil {
			return false
		}
		job = got
		return got.Status == status
	}, 10*time.Second, 5*time.Millisecond)
	return job
}

// blockingRunner returns once its context is done.
func blockingRunner(started chan<- struct{}) Runner {
	return func(ctx context.Context, _ *observation.Dataset, _ airpart.Options) (*airpart.Output, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestDatasetUpload(t *testing.T) {
	datasets := NewDatasetService()
	ds, err := datasets.Upload("", datasetFile())
	require.NoError(t, err)

	assert.Equal(t, "Unnamed Dataset", ds.Name)
	assert.Equal(t, models.DatasetStatusReady, ds.Status)
	assert.Equal(t, []string{"A", "B", "C"}, ds.Metadata.Categories)
	assert.Equal(t, []string{"1"}, ds.Metadata.Clusters)
	assert.Equal(t, 5, ds.Metadata.GeneCount)
	assert.Equal(t, 1, datasets.Count())

	bad := datasetFile()
	bad.Total = bad.Total[:2]
	_, err = datasets.Upload("bad", bad)
	assert.Error(t, err)

	require.NoError(t, datasets.Delete(ds.ID))
	_, err = datasets.Get(ds.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(datasets.Delete(ds.ID), ErrNotFound))
}

func TestJobCompletes(t *testing.T) {
	jobs, datasetID := setup(t, jobConfig())

	job, err := jobs.Submit(datasetID, "fusedlasso", models.JobParameters{
		Cluster: "1",
		Settings: map[string]interface{}{
			"model.family":  "gaussian",
			"model.penalty": "chain",
			"lambda.values": []float64{0.02},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	done := waitFor(t, jobs, job.ID, models.JobStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, []string{"part"}, done.Result.Columns)
	assert.Equal(t, []int{2}, done.Result.NumGroups)
	assert.Equal(t, []float64{0.02}, done.Result.Lambdas)
	assert.Equal(t, 100, done.Progress.Percentage)

	out, err := jobs.GetResult(job.ID)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 1, 1, 1, 2, 2}}, out.Projection.CellLabels)
	assert.Len(t, jobs.List(datasetID), 1)
}

func TestJobSubmitErrors(t *testing.T) {
	jobs, datasetID := setup(t, jobConfig())

	tests := []struct {
		name    string
		dataset string
		engine  string
		params  models.JobParameters
		wantErr error
	}{
		{"unknown dataset", "nope", "wilcoxon", models.JobParameters{Cluster: "1"}, ErrNotFound},
		{"unknown engine", datasetID, "kmeans", models.JobParameters{Cluster: "1"}, nil},
		{"missing cluster", datasetID, "wilcoxon", models.JobParameters{}, pkgmodels.ErrMissingParameter},
		{"bad family", datasetID, "fusedlasso", models.JobParameters{Cluster: "1", Settings: map[string]interface{}{"model.family": "poisson"}}, nil},
		{"unparseable lambda", datasetID, "fusedlasso", models.JobParameters{Cluster: "1", Settings: map[string]interface{}{"lambda.values": []interface{}{"abc", 0.1}}}, nil},
		{"unparseable lambda string", datasetID, "fusedlasso", models.JobParameters{Cluster: "1", Settings: map[string]interface{}{"lambda.values": "0.1,oops"}}, nil},
		{"negative lambda", datasetID, "fusedlasso", models.JobParameters{Cluster: "1", Settings: map[string]interface{}{"lambda.values": []float64{-0.1}}}, nil},
		{"bad thresholds", datasetID, "wilcoxon", models.JobParameters{Cluster: "1", Settings: map[string]interface{}{"threshold.values": []float64{2}}}, nil},
		{"bad adjacency", datasetID, "wilcoxon", models.JobParameters{Cluster: "1", Adjacency: &dataio.AdjacencyFile{Names: []string{"A"}, Matrix: [][]float64{{0}}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jobs.Submit(tt.dataset, tt.engine, tt.params)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestJobCancel(t *testing.T) {
	jobs, datasetID := setup(t, jobConfig())
	started := make(chan struct{}, 1)
	jobs.SetRunner(blockingRunner(started))

	job, err := jobs.Submit(datasetID, "wilcoxon", models.JobParameters{Cluster: "1"})
	require.NoError(t, err)
	<-started
	waitFor(t, jobs, job.ID, models.JobStatusRunning)

	require.NoError(t, jobs.Cancel(job.ID))
	got, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// The runner's failure after cancellation does not overwrite the status.
	time.Sleep(20 * time.Millisecond)
	got, _ = jobs.Get(job.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	_, err = jobs.GetResult(job.ID)
	assert.Error(t, err)
	assert.True(t, errors.Is(jobs.Cancel("nope"), ErrNotFound))
}

func TestJobTimeout(t *testing.T) {
	cfg := jobConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	jobs, datasetID := setup(t, cfg)
	jobs.SetRunner(blockingRunner(nil))

	job, err := jobs.Submit(datasetID, "wilcoxon", models.JobParameters{Cluster: "1"})
	require.NoError(t, err)

	failed := waitFor(t, jobs, job.ID, models.JobStatusFailed)
	assert.Contains(t, failed.Error, "timeout")
}

func TestJobLimitPerDataset(t *testing.T) {
	cfg := jobConfig()
	cfg.MaxPerDataset = 1
	jobs, datasetID := setup(t, cfg)
	jobs.SetRunner(blockingRunner(nil))

	_, err := jobs.Submit(datasetID, "wilcoxon", models.JobParameters{Cluster: "1"})
	require.NoError(t, err)
	_, err = jobs.Submit(datasetID, "wilcoxon", models.JobParameters{Cluster: "1"})
	assert.True(t, errors.Is(err, ErrTooManyJobs))
	assert.Equal(t, 1, jobs.ActiveCount())
}

func TestJobCleanup(t *testing.T) {
	jobs, datasetID := setup(t, jobConfig())
	jobs.SetRunner(blockingRunner(nil))

	job, err := jobs.Submit(datasetID, "wilcoxon", models.JobParameters{Cluster: "1"})
	require.NoError(t, err)

	// Unfinished jobs are never removed.
	assert.Equal(t, 0, jobs.cleanup(time.Now().Add(2*time.Hour)))

	require.NoError(t, jobs.Cancel(job.ID))
	assert.Equal(t, 0, jobs.cleanup(time.Now()))
	assert.Equal(t, 1, jobs.cleanup(time.Now().Add(2*time.Hour)))
	_, err = jobs.Get(job.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
