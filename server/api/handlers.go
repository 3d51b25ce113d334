package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/bioc/airpart/pkg/airpart"
	pkgmodels "github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/server/models"
	"github.com/bioc/airpart/server/service"
)

// Handlers contains HTTP request handlers
type Handlers struct {
	datasetService *service.DatasetService
	jobService     *service.JobService
}

// NewHandlers creates new API handlers
func NewHandlers(datasetService *service.DatasetService, jobService *service.JobService) *Handlers {
	return &Handlers{
		datasetService: datasetService,
		jobService:     jobService,
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var ve pkgmodels.ValidationError
	var ves pkgmodels.ValidationErrors
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case errors.As(err, &ve), errors.As(err, &ves), errors.Is(err, pkgmodels.ErrMissingParameter):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// UploadDataset stores a JSON dataset.
func (h *Handlers) UploadDataset(w http.ResponseWriter, r *http.Request) {
	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dataset, err := h.datasetService.Upload(req.Name, &req.Dataset)
	if err != nil {
		log.Error().Err(err).Msg("Dataset upload failed")
		WriteErrorResponse(w, http.StatusBadRequest, "Dataset upload failed", err)
		return
	}

	WriteSuccessResponse(w, http.StatusCreated, "Dataset uploaded successfully", models.UploadResponse{
		DatasetID: dataset.ID,
		Dataset:   *dataset,
	})
}

// ListDatasets lists all datasets
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	WriteSuccessResponse(w, http.StatusOK, "Datasets retrieved successfully", h.datasetService.List())
}

// GetDataset retrieves a specific dataset
func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["datasetId"]

	dataset, err := h.datasetService.Get(datasetID)
	if err != nil {
		WriteErrorResponse(w, statusFor(err), "Dataset not found", err)
		return
	}
	WriteSuccessResponse(w, http.StatusOK, "Dataset retrieved successfully", dataset)
}

// DeleteDataset deletes a dataset
func (h *Handlers) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["datasetId"]

	if err := h.datasetService.Delete(datasetID); err != nil {
		WriteErrorResponse(w, statusFor(err), "Dataset deletion failed", err)
		return
	}
	WriteSuccessResponse(w, http.StatusOK, "Dataset deleted successfully", nil)
}

// StartPartition submits a partition job for a dataset.
func (h *Handlers) StartPartition(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["datasetId"]

	var req models.PartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	job, err := h.jobService.Submit(datasetID, req.Engine, req.Parameters)
	if err != nil {
		log.Error().
			Str("dataset_id", datasetID).
			Str("engine", req.Engine).
			Err(err).
			Msg("Failed to start partition job")
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		WriteErrorResponse(w, status, "Failed to start partition job", err)
		return
	}

	WriteSuccessResponse(w, http.StatusAccepted, "Partition job started", models.PartitionResponse{
		JobID: job.ID,
		Job:   *job,
	})
}

// ListPartitionJobs lists the jobs of a dataset.
func (h *Handlers) ListPartitionJobs(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["datasetId"]

	if _, err := h.datasetService.Get(datasetID); err != nil {
		WriteErrorResponse(w, statusFor(err), "Dataset not found", err)
		return
	}
	WriteSuccessResponse(w, http.StatusOK, "Jobs retrieved successfully", h.jobService.List(datasetID))
}

// GetJob returns job status.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := h.jobService.Get(jobID)
	if err != nil {
		WriteErrorResponse(w, statusFor(err), "Job not found", err)
		return
	}
	WriteSuccessResponse(w, http.StatusOK, "Job retrieved successfully", job)
}

// GetJobResult returns the full output of a completed job.
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := h.jobService.Get(jobID)
	if err != nil {
		WriteErrorResponse(w, statusFor(err), "Job not found", err)
		return
	}
	if job.Status != models.JobStatusCompleted {
		WriteErrorResponse(w, http.StatusConflict, "Job not completed: "+string(job.Status), nil)
		return
	}
	out, err := h.jobService.GetResult(jobID)
	if err != nil {
		WriteErrorResponse(w, statusFor(err), "Result not available", err)
		return
	}
	WriteSuccessResponse(w, http.StatusOK, "Result retrieved successfully", out)
}

// CancelJob cancels a queued or running job.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	if err := h.jobService.Cancel(jobID); err != nil {
		WriteErrorResponse(w, statusFor(err), "Job cancellation failed", err)
		return
	}
	job, err := h.jobService.Get(jobID)
	if err != nil {
		WriteErrorResponse(w, statusFor(err), "Job not found", err)
		return
	}
	WriteSuccessResponse(w, http.StatusOK, "Job cancelled", job)
}

// HealthCheck reports service status.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteSuccessResponse(w, http.StatusOK, "Service is healthy", models.HealthResponse{
		Status:     "ok",
		Datasets:   h.datasetService.Count(),
		ActiveJobs: h.jobService.ActiveCount(),
	})
}

// ListEngines lists the available partitioning engines.
func (h *Handlers) ListEngines(w http.ResponseWriter, r *http.Request) {
	engines := []map[string]interface{}{
		{
			"name":        string(airpart.FusedLasso),
			"description": "Penalized GLM with fused category effects; equal effects share a label",
			"settings": []string{
				"model.family", "model.penalty", "lambda.values", "lambda.selection",
				"lambda.length", "lambda.min_ratio", "cv.k", "se_rule.nct", "se_rule.mult",
				"algorithm.niter", "algorithm.random_seed",
			},
		},
		{
			"name":        string(airpart.Wilcoxon),
			"description": "Pairwise rank-sum tests, binarized at a BIC-selected threshold",
			"settings": []string{
				"threshold.values", "test.exact", "test.correct", "test.p_adjust", "cluster.linkage",
			},
		},
	}
	WriteSuccessResponse(w, http.StatusOK, "Engines retrieved successfully", engines)
}
