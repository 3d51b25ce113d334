package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bioc/airpart/pkg/airpart"
	"github.com/bioc/airpart/pkg/consensus"
	"github.com/bioc/airpart/pkg/fusedlasso"
	pkgmodels "github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/pkg/wilcoxon"
	"github.com/bioc/airpart/server/config"
	"github.com/bioc/airpart/server/models"
)

// ErrTooManyJobs is returned when a dataset already has the maximum number
// of queued or running jobs.
var ErrTooManyJobs = errors.New("too many active jobs for dataset")

// Runner executes one partitioning call.
type Runner func(ctx context.Context, ds *observation.Dataset, opts airpart.Options) (*airpart.Output, error)

// JobService runs partition jobs on a bounded pool of worker slots.
type JobService struct {
	jobs     map[string]*models.Job
	results  map[string]*airpart.Output
	cancels  map[string]context.CancelFunc
	workers  chan struct{}
	datasets *DatasetService
	mutex    sync.RWMutex

	cfg      config.JobConfig
	logLevel string
	run      Runner
	stop     chan struct{}
	stopOnce sync.Once
}

// NewJobService creates a job service and starts its cleanup loop.
func NewJobService(datasets *DatasetService, cfg config.JobConfig, logLevel string) *JobService {
	s := &JobService{
		jobs:     make(map[string]*models.Job),
		results:  make(map[string]*airpart.Output),
		cancels:  make(map[string]context.CancelFunc),
		workers:  make(chan struct{}, cfg.MaxWorkers),
		datasets: datasets,
		cfg:      cfg,
		logLevel: logLevel,
		run:      airpart.Partition,
		stop:     make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// SetRunner replaces the partitioning call, for tests.
func (s *JobService) SetRunner(run Runner) { s.run = run }

// Close stops the cleanup loop and cancels every unfinished job.
func (s *JobService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

// Submit validates the request and queues a job.
func (s *JobService) Submit(datasetID, engineName string, params models.JobParameters) (*models.Job, error) {
	data, err := s.datasets.Data(datasetID)
	if err != nil {
		return nil, err
	}
	engine, err := airpart.ParseEngine(engineName)
	if err != nil {
		return nil, err
	}
	opts, err := s.options(data, engine, params)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cfg.MaxPerDataset > 0 && s.activeLocked(datasetID) >= s.cfg.MaxPerDataset {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManyJobs, s.cfg.MaxPerDataset)
	}

	now := time.Now()
	job := &models.Job{
		ID:         uuid.New().String(),
		DatasetID:  datasetID,
		Engine:     string(engine),
		Parameters: params,
		Status:     models.JobStatusQueued,
		Progress:   models.JobProgress{Percentage: 0, Message: "Queued"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.jobs[job.ID] = job
	s.cancels[job.ID] = cancel

	log.Info().
		Str("job_id", job.ID).
		Str("dataset_id", datasetID).
		Str("engine", job.Engine).
		Str("cluster", params.Cluster).
		Msg("Job submitted")

	go s.processJob(ctx, job.ID, data, opts)

	copied := *job
	return &copied, nil
}

// options turns request parameters into engine configs. Settings are applied
// with Config.Set and parsed once here so bad values fail the submission.
func (s *JobService) options(data *observation.Dataset, engine airpart.Engine, params models.JobParameters) (airpart.Options, error) {
	if params.Cluster == "" {
		return airpart.Options{}, fmt.Errorf("gene cluster id: %w", pkgmodels.ErrMissingParameter)
	}
	opts := airpart.Options{
		Engine: engine,
		Request: observation.Request{
			Cluster:        params.Cluster,
			CellCovariates: params.CellCovariates,
			GeneCovariates: params.GeneCovariates,
		},
	}
	if params.Adjacency != nil {
		categories, err := data.Categories()
		if err != nil {
			return opts, err
		}
		if opts.Adjacency, err = params.Adjacency.Adjacency(categories); err != nil {
			return opts, err
		}
	}

	switch engine {
	case airpart.FusedLasso:
		cfg := fusedlasso.NewConfig()
		s.apply(cfg, params.Settings)
		if terms := append(append([]string(nil), params.CellCovariates...), params.GeneCovariates...); len(terms) > 0 {
			cfg.Set("model.extra_terms", terms)
		}
		if _, err := cfg.Family(); err != nil {
			return opts, err
		}
		if _, err := cfg.Model(); err != nil {
			return opts, err
		}
		if _, err := cfg.Selection(); err != nil {
			return opts, err
		}
		if _, err := cfg.Lambdas(); err != nil {
			return opts, err
		}
		opts.FusedLasso = cfg
		if params.Consensus {
			cc := consensus.NewConfig()
			s.apply(cc, params.ConsensusSettings)
			opts.Consensus = cc
		}
	case airpart.Wilcoxon:
		cfg := wilcoxon.NewConfig()
		s.apply(cfg, params.Settings)
		if _, err := cfg.Thresholds(); err != nil {
			return opts, err
		}
		if _, err := cfg.TestOptions(); err != nil {
			return opts, err
		}
		if _, err := cfg.PAdjust(); err != nil {
			return opts, err
		}
		if _, err := cfg.Linkage(); err != nil {
			return opts, err
		}
		opts.Wilcoxon = cfg
	}
	return opts, nil
}

type settable interface {
	Set(key string, value interface{})
}

func (s *JobService) apply(cfg settable, settings map[string]interface{}) {
	cfg.Set("logging.level", s.logLevel)
	if s.cfg.EngineWorkers > 0 {
		cfg.Set("performance.num_workers", s.cfg.EngineWorkers)
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Set(k, settings[k])
	}
}

// Get retrieves a snapshot of a job by ID
func (s *JobService) Get(jobID string) (*models.Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	copied := *job
	return &copied, nil
}

// GetResult retrieves the output of a completed job
func (s *JobService) GetResult(jobID string) (*airpart.Output, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("job not completed, status: %s", job.Status)
	}
	return s.results[jobID], nil
}

// List returns all jobs for a dataset, oldest first.
func (s *JobService) List(datasetID string) []*models.Job {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.DatasetID == datasetID {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// ActiveCount returns the number of queued or running jobs.
func (s *JobService) ActiveCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if !job.Status.Done() {
			n++
		}
	}
	return n
}

func (s *JobService) activeLocked(datasetID string) int {
	n := 0
	for _, job := range s.jobs {
		if job.DatasetID == datasetID && !job.Status.Done() {
			n++
		}
	}
	return n
}

// Cancel stops a queued or running job. Cancelling a finished job is a no-op.
func (s *JobService) Cancel(jobID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if job.Status.Done() {
		return nil
	}
	s.finishLocked(job, models.JobStatusCancelled, "Cancelled")

	log.Info().
		Str("job_id", jobID).
		Msg("Job cancelled")

	return nil
}

// processJob waits for a worker slot and runs the job under the job timeout.
func (s *JobService) processJob(ctx context.Context, jobID string, data *observation.Dataset, opts airpart.Options) {
	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		return
	}

	if !s.markRunning(jobID) {
		return
	}
	log.Info().
		Str("job_id", jobID).
		Str("engine", string(opts.Engine)).
		Msg("Job processing started")

	runCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	out, err := s.run(runCtx, data, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("job exceeded timeout of %s: %w", s.cfg.JobTimeout, err)
		}
		s.failJob(jobID, err)
		return
	}
	s.completeJob(jobID, out)
}

func (s *JobService) markRunning(jobID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.Status != models.JobStatusQueued {
		return false
	}
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.Progress = models.JobProgress{Percentage: 10, Message: "Partitioning"}
	job.StartedAt = &now
	job.UpdatedAt = now
	return true
}

// completeJob marks a job as completed with results
func (s *JobService) completeJob(jobID string, out *airpart.Output) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.Status.Done() {
		return
	}
	s.finishLocked(job, models.JobStatusCompleted, "Complete")
	job.Progress.Percentage = 100
	job.Result = summarize(out)
	s.results[jobID] = out

	log.Info().
		Str("job_id", jobID).
		Strs("columns", job.Result.Columns).
		Int64("processing_time_ms", out.RuntimeMS).
		Msg("Job completed successfully")
}

// failJob marks a job as failed
func (s *JobService) failJob(jobID string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.Status.Done() {
		return
	}
	s.finishLocked(job, models.JobStatusFailed, "Failed")
	job.Error = err.Error()

	log.Error().
		Str("job_id", jobID).
		Err(err).
		Msg("Job failed")
}

func (s *JobService) finishLocked(job *models.Job, status models.JobStatus, message string) {
	now := time.Now()
	job.Status = status
	job.Progress.Message = message
	job.CompletedAt = &now
	job.UpdatedAt = now
	if cancel, ok := s.cancels[job.ID]; ok {
		cancel()
		delete(s.cancels, job.ID)
	}
}

func summarize(out *airpart.Output) *models.JobResult {
	res := &models.JobResult{
		Columns:          out.Projection.Columns,
		Lambdas:          out.Projection.Tuning.Lambdas,
		Threshold:        out.Projection.Tuning.Threshold,
		ProcessingTimeMS: out.RuntimeMS,
	}
	for k := range out.Projection.Columns {
		seen := make(map[int]bool)
		for _, e := range out.Projection.Summary {
			seen[e.Labels[k]] = true
		}
		res.NumGroups = append(res.NumGroups, len(seen))
	}
	if out.Wilcoxon != nil {
		res.Boundary = out.Wilcoxon.Boundary
	}
	if out.FusedLasso != nil {
		res.FailedRuns = out.FusedLasso.Failed
	}
	if out.Consensus != nil {
		res.Fallback = out.Consensus.Fallback
	}
	return res
}

// cleanupLoop periodically removes finished jobs older than the result TTL.
func (s *JobService) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stop:
			return
		}
	}
}

// cleanup removes finished jobs last updated before now minus the TTL.
func (s *JobService) cleanup(now time.Time) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := now.Add(-s.cfg.ResultTTL)
	cleaned := 0
	for jobID, job := range s.jobs {
		if job.Status.Done() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, jobID)
			delete(s.results, jobID)
			cleaned++
		}
	}

	if cleaned > 0 {
		log.Info().
			Int("cleaned_jobs", cleaned).
			Msg("Job cleanup completed")
	}
	return cleaned
}
