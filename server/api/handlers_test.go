package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioc/airpart/pkg/dataio"
	"github.com/bioc/airpart/server/config"
	"github.com/bioc/airpart/server/models"
	"github.com/bioc/airpart/server/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Jobs.CleanupInterval = 0

	datasets := service.NewDatasetService()
	jobs := service.NewJobService(datasets, cfg.Jobs, "error")
	t.Cleanup(jobs.Close)

	srv := httptest.NewServer(NewRouter(NewHandlers(datasets, jobs), cfg))
	t.Cleanup(srv.Close)
	return srv
}

func datasetFile() dataio.DatasetFile {
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

// call sends a JSON request and decodes the response's data into out.
func call(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		models.APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, resp.StatusCode < 300, envelope.Success)
	if out != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return resp.StatusCode
}

func TestPartitionJobFlow(t *testing.T) {
	srv := newTestServer(t)
	api := srv.URL + "/api/v1"

	var uploaded models.UploadResponse
	status := call(t, "POST", api+"/datasets", models.UploadRequest{Name: "fixture", Dataset: datasetFile()}, &uploaded)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, []string{"A", "B", "C"}, uploaded.Dataset.Metadata.Categories)

	var started models.PartitionResponse
	status = call(t, "POST", api+"/datasets/"+uploaded.DatasetID+"/partitions", models.PartitionRequest{
		Engine: "fusedlasso",
		Parameters: models.JobParameters{
			Cluster: "1",
			Settings: map[string]interface{}{
				"model.family":  "gaussian",
				"model.penalty": "chain",
				"lambda.values": []float64{0.02},
			},
		},
	}, &started)
	require.Equal(t, http.StatusAccepted, status)

	var job models.Job
	deadline := time.Now().Add(10 * time.Second)
	for !job.Status.Done() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		job = models.Job{}
		call(t, "GET", api+"/jobs/"+started.JobID, nil, &job)
	}
	require.Equal(t, models.JobStatusCompleted, job.Status, job.Error)
	assert.Equal(t, []int{2}, job.Result.NumGroups)

	var result struct {
		Projection struct {
			CellLabels [][]int `json:"cell_labels"`
		} `json:"projection"`
	}
	require.Equal(t, http.StatusOK, call(t, "GET", api+"/jobs/"+started.JobID+"/result", nil, &result))
	assert.Equal(t, [][]int{{1, 1, 1, 1, 2, 2}}, result.Projection.CellLabels)

	var jobs []models.Job
	require.Equal(t, http.StatusOK, call(t, "GET", api+"/datasets/"+uploaded.DatasetID+"/partitions", nil, &jobs))
	assert.Len(t, jobs, 1)

	var health models.HealthResponse
	require.Equal(t, http.StatusOK, call(t, "GET", api+"/health", nil, &health))
	assert.Equal(t, 1, health.Datasets)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	api := srv.URL + "/api/v1"

	var uploaded models.UploadResponse
	require.Equal(t, http.StatusCreated, call(t, "POST", api+"/datasets", models.UploadRequest{Dataset: datasetFile()}, &uploaded))
	bad := datasetFile()
	bad.Cells = bad.Cells[:2]

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"invalid dataset", "POST", "/datasets", models.UploadRequest{Dataset: bad}, http.StatusBadRequest},
		{"unknown dataset", "GET", "/datasets/nope", nil, http.StatusNotFound},
		{"unknown job", "GET", "/jobs/nope", nil, http.StatusNotFound},
		{"unknown job result", "GET", "/jobs/nope/result", nil, http.StatusNotFound},
		{"cancel unknown job", "POST", "/jobs/nope/cancel", nil, http.StatusNotFound},
		{"partition unknown dataset", "POST", "/datasets/nope/partitions", models.PartitionRequest{Engine: "wilcoxon", Parameters: models.JobParameters{Cluster: "1"}}, http.StatusNotFound},
		{"unknown engine", "POST", "/datasets/" + uploaded.DatasetID + "/partitions", models.PartitionRequest{Engine: "kmeans", Parameters: models.JobParameters{Cluster: "1"}}, http.StatusBadRequest},
		{"missing cluster", "POST", "/datasets/" + uploaded.DatasetID + "/partitions", models.PartitionRequest{Engine: "wilcoxon"}, http.StatusBadRequest},
		{"unparseable lambda", "POST", "/datasets/" + uploaded.DatasetID + "/partitions", models.PartitionRequest{Engine: "fusedlasso", Parameters: models.JobParameters{Cluster: "1", Settings: map[string]interface{}{"lambda.values": []interface{}{"oops"}}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, tt.method, api+tt.path, tt.body, nil))
		})
	}
}

func TestDeleteDataset(t *testing.T) {
	srv := newTestServer(t)
	api := srv.URL + "/api/v1"

	var uploaded models.UploadResponse
	require.Equal(t, http.StatusCreated, call(t, "POST", api+"/datasets", models.UploadRequest{Dataset: datasetFile()}, &uploaded))
	assert.Equal(t, http.StatusOK, call(t, "DELETE", api+"/datasets/"+uploaded.DatasetID, nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, "GET", api+"/datasets/"+uploaded.DatasetID, nil, nil))
}
