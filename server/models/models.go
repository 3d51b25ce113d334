package models

import (
	"time"

	"github.com/bioc/airpart/pkg/dataio"
)

// Dataset is an uploaded allelic count dataset.
type Dataset struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    DatasetStatus   `json:"status"`
	Metadata  DatasetMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type DatasetStatus string

const (
	DatasetStatusReady   DatasetStatus = "ready"
	DatasetStatusDeleted DatasetStatus = "deleted"
)

type DatasetMetadata struct {
	GeneCount  int      `json:"geneCount"`
	CellCount  int      `json:"cellCount"`
	Categories []string `json:"categories"`
	Clusters   []string `json:"clusters"`
}

// Job is one partitioning request against a dataset.
type Job struct {
	ID          string        `json:"id"`
	DatasetID   string        `json:"datasetId"`
	Engine      string        `json:"engine"`
	Parameters  JobParameters `json:"parameters"`
	Status      JobStatus     `json:"status"`
	Progress    JobProgress   `json:"progress"`
	Result      *JobResult    `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// JobParameters selects the gene cluster and overrides engine config keys,
// e.g. {"model.family": "gaussian", "lambda.values": [0.02]}.
type JobParameters struct {
	Cluster        string                 `json:"cluster"`
	CellCovariates []string               `json:"cellCovariates,omitempty"`
	GeneCovariates []string               `json:"geneCovariates,omitempty"`
	Settings       map[string]interface{} `json:"settings,omitempty"`
	Consensus      bool                   `json:"consensus,omitempty"`
	// ConsensusSettings overrides consensus config keys.
	ConsensusSettings map[string]interface{} `json:"consensusSettings,omitempty"`
	Adjacency         *dataio.AdjacencyFile  `json:"adjacency,omitempty"`
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Done reports whether the job reached a final state.
func (s JobStatus) Done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type JobProgress struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// JobResult summarizes a completed job; the full output is served separately.
type JobResult struct {
	Columns          []string  `json:"columns"`
	NumGroups        []int     `json:"numGroups"`
	Lambdas          []float64 `json:"lambdas,omitempty"`
	Threshold        float64   `json:"threshold,omitempty"`
	Boundary         bool      `json:"boundary,omitempty"`
	FailedRuns       int       `json:"failedRuns,omitempty"`
	Fallback         bool      `json:"fallback,omitempty"`
	ProcessingTimeMS int64     `json:"processingTimeMS"`
}

// API Response types
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type UploadRequest struct {
	Name    string             `json:"name"`
	Dataset dataio.DatasetFile `json:"dataset"`
}

type UploadResponse struct {
	DatasetID string  `json:"datasetId"`
	Dataset   Dataset `json:"dataset"`
}

type PartitionRequest struct {
	Engine     string        `json:"engine"`
	Parameters JobParameters `json:"parameters"`
}

type PartitionResponse struct {
	JobID string `json:"jobId"`
	Job   Job    `json:"job"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Datasets   int    `json:"datasets"`
	ActiveJobs int    `json:"activeJobs"`
}
