// Package fusedlasso partitions categories with a penalized GLM whose
// fusion penalty shrinks differences between category effects to exactly
// zero. Categories with equal fitted effects form one group.
package fusedlasso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/adjacency"
	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/pkg/partition"
)

// seedStride spreads per-run seeds over the int64 range.
const seedStride uint64 = 0x9E3779B97F4A7C15

// RunSeed derives the seed of run r from the base seed.
func RunSeed(base int64, r int) int64 {
	return int64(uint64(base) + uint64(r)*seedStride)
}

// RunInfo is the outcome of one independent run.
type RunInfo struct {
	Index   int       `json:"index"`
	Seed    int64     `json:"seed"`
	Lambda  float64   `json:"lambda"`
	Lambdas []float64 `json:"lambdas,omitempty"`
	// Deviance is the folds × path held-out deviance of the path fit.
	Deviance *mat.Dense `json:"-"`
	// AdaptiveSE is set when λ was chosen by the adaptive SE rule and
	// refitted.
	AdaptiveSE bool `json:"adaptive_se"`
	// Unconverged counts solves that stopped at algorithm.max_iterations.
	Unconverged int     `json:"unconverged,omitempty"`
	Intercept   float64 `json:"intercept"`
	// Effects holds the absolute category effects on the link scale.
	Effects    map[string]float64 `json:"effects,omitempty"`
	Covariates map[string]float64 `json:"covariates,omitempty"`
	Partition  models.Partition   `json:"partition"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// Failed reports whether the run was aborted.
func (r RunInfo) Failed() bool { return r.Err != nil }

// Result represents the engine output
type Result struct {
	Categories []string  `json:"categories"`
	Runs       []RunInfo `json:"runs"`
	// Partition is the single partition of a one-run call.
	Partition models.Partition `json:"partition"`
	// Partitions holds one partition per successful run, in run order.
	Partitions []models.Partition `json:"partitions"`
	Failed     int                `json:"failed"`
	RuntimeMS  int64              `json:"runtime_ms"`
}

// Column is the partition and absolute effects of one successful run.
type Column struct {
	Name      string
	Partition models.Partition
	Effects   map[string]float64
}

// Columns returns part1..partN for the successful runs.
func (r *Result) Columns() []Column {
	var out []Column
	for _, run := range r.Runs {
		if run.Failed() {
			continue
		}
		out = append(out, Column{
			Name:      fmt.Sprintf("part%d", run.Index+1),
			Partition: run.Partition,
			Effects:   run.Effects,
		})
	}
	return out
}

// Lambdas returns the selected λ of every successful run.
func (r *Result) Lambdas() []float64 {
	var out []float64
	for _, run := range r.Runs {
		if !run.Failed() {
			out = append(out, run.Lambda)
		}
	}
	return out
}

// Engine drives a Solver over independent runs.
type Engine struct {
	Solver Solver
}

// Run partitions the table's categories with the default ADMM solver.
func Run(ctx context.Context, t *observation.Table, adj *adjacency.Matrix, config *Config) (*Result, error) {
	e := &Engine{Solver: NewADMMSolver()}
	return e.Run(ctx, t, adj, config)
}

// Run executes algorithm.niter independent runs. A failing run is recorded
// on its RunInfo; only when every run fails does Run return an error, which
// wraps models.ErrFusedLasso.
func (e *Engine) Run(ctx context.Context, t *observation.Table, adj *adjacency.Matrix, config *Config) (*Result, error) {
	startTime := time.Now()
	logger := config.CreateLogger()

	prob, err := problemFor(t, adj, config)
	if err != nil {
		return nil, err
	}
	policy, err := config.Selection()
	if err != nil {
		return nil, err
	}
	lambdas, err := config.Lambdas()
	if err != nil {
		return nil, err
	}
	niter := config.NIter()
	if niter < 1 {
		return nil, models.ValidationError{Field: "algorithm.niter", Message: "must be at least 1", Value: fmt.Sprint(niter)}
	}
	base := Control{
		Lambdas:        lambdas,
		LambdaLength:   config.LambdaLength(),
		LambdaMinRatio: config.LambdaMinRatio(),
		Folds:          config.Folds(),
		Selection:      policy,
		MaxIterations:  config.MaxIterations(),
		Tolerance:      config.Tolerance(),
		CVTolerance:    config.CVTolerance(),
		Rho:            config.Rho(),
	}
	adaptive := t.NumCategories() <= config.SERuleNct() && policy.CrossValidated()

	logger.Info().
		Int("categories", t.NumCategories()).
		Int("observations", t.Len()).
		Str("family", string(prob.Family)).
		Str("penalty", string(prob.Model.Penalty)).
		Int("niter", niter).
		Bool("adaptive_se", adaptive).
		Msg("Starting fused lasso partitioning")

	runs := make([]RunInfo, niter)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.NumWorkers())
	for r := 0; r < niter; r++ {
		r := r
		g.Go(func() error {
			ctl := base
			ctl.Seed = RunSeed(config.RandomSeed(), r)
			runs[r] = e.runOnce(gctx, prob, ctl, adaptive, config.SERuleMult())
			runs[r].Index = r
			logRun(logger, runs[r])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Categories: t.Categories, Runs: runs}
	var errs []error
	for _, run := range runs {
		if run.Failed() {
			result.Failed++
			errs = append(errs, fmt.Errorf("run %d: %w", run.Index+1, run.Err))
			continue
		}
		result.Partitions = append(result.Partitions, run.Partition)
	}
	if result.Failed == niter {
		return nil, fmt.Errorf("%w: try a different lambda path, weights, or family: %w", models.ErrFusedLasso, errors.Join(errs...))
	}
	if niter == 1 {
		result.Partition = runs[0].Partition
	}
	result.RuntimeMS = time.Since(startTime).Milliseconds()

	logger.Info().
		Int("runs", niter).
		Int("failed", result.Failed).
		Int64("runtime_ms", result.RuntimeMS).
		Msg("Fused lasso partitioning completed")

	return result, nil
}

func (e *Engine) runOnce(ctx context.Context, prob Problem, ctl Control, adaptive bool, mult float64) RunInfo {
	run := RunInfo{Seed: ctl.Seed}
	fail := func(err error) RunInfo {
		run.Err = err
		run.Error = err.Error()
		return run
	}

	fit, err := e.Solver.Fit(ctx, prob, ctl)
	if err != nil {
		return fail(err)
	}
	run.Lambdas = fit.Lambdas
	run.Deviance = fit.Deviance
	run.Unconverged = fit.Unconverged

	if adaptive && fit.Deviance != nil {
		l := SelectAdaptiveSE(fit.Deviance, mult)
		refit := ctl
		refit.Lambdas = []float64{fit.Lambdas[l]}
		fit, err = e.Solver.Fit(ctx, prob, refit)
		if err != nil {
			return fail(fmt.Errorf("refit at lambda %g: %w", refit.Lambdas[0], err))
		}
		run.Unconverged += fit.Unconverged
		run.AdaptiveSE = true
	}
	run.Lambda = fit.Lambda

	effects, covariates, err := Recenter(fit, prob.Model.Grouping, prob.Table.Categories)
	if err != nil {
		return fail(err)
	}
	run.Intercept = fit.Intercept
	run.Effects = effects
	run.Covariates = covariates

	values := make([]float64, len(prob.Table.Categories))
	for i, c := range prob.Table.Categories {
		values[i] = effects[c]
	}
	run.Partition, err = partition.FromValues(prob.Table.Categories, values)
	if err != nil {
		return fail(err)
	}
	return run
}

// Recenter converts reference-coded category coefficients to absolute
// effects. The reference category (first level) takes the intercept; every
// other category adds the intercept to its own coefficient, looked up by
// name. All other coefficients are returned unchanged as covariates.
func Recenter(fit *Fit, grouping string, categories []string) (effects, covariates map[string]float64, err error) {
	effects = make(map[string]float64, len(categories))
	covariates = make(map[string]float64)
	used := make(map[string]bool, len(categories))
	effects[categories[0]] = fit.Intercept
	for _, c := range categories[1:] {
		name := CoefficientName(grouping, c)
		coef, ok := fit.Coefficients[name]
		if !ok {
			return nil, nil, fmt.Errorf("fit has no coefficient %q", name)
		}
		effects[c] = coef + fit.Intercept
		used[name] = true
	}
	for name, coef := range fit.Coefficients {
		if !used[name] {
			covariates[name] = coef
		}
	}
	return effects, covariates, nil
}

func problemFor(t *observation.Table, adj *adjacency.Matrix, config *Config) (Problem, error) {
	model, err := config.Model()
	if err != nil {
		return Problem{}, err
	}
	family, err := config.Family()
	if err != nil {
		return Problem{}, err
	}
	if adj == nil {
		adj = adjacency.Full(t.Categories)
	}
	if err := adj.Match(t.Categories); err != nil {
		return Problem{}, err
	}
	prob := Problem{Table: t, Family: family, Model: model}
	switch model.Penalty {
	case ChainFused:
		prob.Edges = adjacency.Ordered(t.Categories).Edges()
	default:
		prob.Edges = adj.Edges()
	}
	if _, err := newLayout(t, model); err != nil {
		return Problem{}, err
	}
	return prob, nil
}

func logRun(logger zerolog.Logger, run RunInfo) {
	if run.Failed() {
		logger.Warn().
			Int("run", run.Index+1).
			Int64("seed", run.Seed).
			Err(run.Err).
			Msg("Run failed")
		return
	}
	if run.Unconverged > 0 {
		logger.Warn().
			Int("run", run.Index+1).
			Int("solves", run.Unconverged).
			Msg("ADMM reached max_iterations without converging, consider raising algorithm.max_iterations or algorithm.tolerance")
	}
	logger.Info().
		Int("run", run.Index+1).
		Float64("lambda", run.Lambda).
		Int("groups", run.Partition.NumGroups()).
		Msg("Run completed")
}
