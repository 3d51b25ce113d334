// Package wilcoxon partitions categories by pairwise rank-sum tests. For
// each candidate significance threshold, pairs with p below the threshold
// are dissimilar, the resulting 0/1 distance matrix is clustered and cut at
// height zero, and the partition is scored by a BIC-style loss. The
// threshold with the lowest loss wins.
package wilcoxon

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/adjacency"
	"github.com/bioc/airpart/pkg/linkage"
	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/pkg/ranktest"
)

// Step is the evaluation of one candidate threshold.
type Step struct {
	Threshold float64          `json:"threshold"`
	Partition models.Partition `json:"partition"`
	Loss      float64          `json:"loss"`
}

// Result represents the engine output
type Result struct {
	Partition models.Partition `json:"partition"`
	Threshold float64          `json:"threshold"`
	Steps     []Step           `json:"steps"`
	// PValues holds the pairwise p-values after adjustment, undefined
	// values replaced by 1 and disallowed pairs by 0.
	PValues *mat.SymDense `json:"-"`
	// Boundary is set when the winning threshold is the first or last
	// candidate; the search range should be widened.
	Boundary  bool  `json:"boundary"`
	RuntimeMS int64 `json:"runtime_ms"`
}

// Run evaluates every candidate threshold and selects the one with the
// minimum loss, the first candidate winning ties. adj may be nil for a
// fully connected adjacency.
func Run(ctx context.Context, t *observation.Table, adj *adjacency.Matrix, config *Config) (*Result, error) {
	startTime := time.Now()
	logger := config.CreateLogger()

	if adj == nil {
		adj = adjacency.Full(t.Categories)
	}
	if err := adj.Match(t.Categories); err != nil {
		return nil, err
	}
	thresholds, err := config.Thresholds()
	if err != nil {
		return nil, err
	}
	opts, err := config.TestOptions()
	if err != nil {
		return nil, err
	}
	adjust, err := config.PAdjust()
	if err != nil {
		return nil, err
	}
	method, err := config.Linkage()
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("categories", t.NumCategories()).
		Int("observations", t.Len()).
		Int("thresholds", len(thresholds)).
		Msg("Starting nonparametric partitioning")

	pvals, err := PValues(ctx, t, opts, adjust, config.NumWorkers())
	if err != nil {
		return nil, err
	}
	masked := Mask(pvals, adj)

	steps := make([]Step, len(thresholds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.NumWorkers())
	for i, thr := range thresholds {
		i, thr := i, thr
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := PartitionAt(masked, t.Categories, thr, method)
			if err != nil {
				return fmt.Errorf("threshold %g: %w", thr, err)
			}
			loss, err := BIC(t, p)
			if err != nil {
				return fmt.Errorf("threshold %g: %w", thr, err)
			}
			steps[i] = Step{Threshold: thr, Partition: p, Loss: loss}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for i, s := range steps {
		logger.Debug().
			Float64("threshold", s.Threshold).
			Int("groups", s.Partition.NumGroups()).
			Float64("loss", s.Loss).
			Msg("Evaluated threshold")
		if s.Loss < steps[best].Loss {
			best = i
		}
	}

	result := &Result{
		Partition: steps[best].Partition,
		Threshold: steps[best].Threshold,
		Steps:     steps,
		PValues:   masked,
		Boundary:  best == 0 || best == len(steps)-1,
		RuntimeMS: time.Since(startTime).Milliseconds(),
	}
	if result.Boundary {
		warnBoundary(logger, result.Threshold, thresholds)
	}

	logger.Info().
		Float64("threshold", result.Threshold).
		Int("groups", result.Partition.NumGroups()).
		Int64("runtime_ms", result.RuntimeMS).
		Msg("Nonparametric partitioning completed")

	return result, nil
}

func warnBoundary(logger zerolog.Logger, selected float64, thresholds []float64) {
	logger.Warn().
		Float64("threshold", selected).
		Float64("min", thresholds[0]).
		Float64("max", thresholds[len(thresholds)-1]).
		Msg("Selected threshold is at the end of the search range, consider widening it")
}

// PValues computes the symmetric matrix of two-sided rank-sum p-values
// between every pair of categories. Undefined p-values become 1 after
// adjustment; the diagonal is 1.
func PValues(ctx context.Context, t *observation.Table, opts ranktest.Options, adjust ranktest.AdjustMethod, workers int) (*mat.SymDense, error) {
	samples := t.ByCategory()
	n := len(samples)

	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	raw := make([]float64, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for k, pr := range pairs {
		k, pr := k, pr
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, ok := ranktest.RankSum(samples[pr.i], samples[pr.j], opts)
			if !ok {
				p = math.NaN()
			}
			raw[k] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	adjusted, err := ranktest.Adjust(raw, adjust)
	if err != nil {
		return nil, err
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 1)
	}
	for k, pr := range pairs {
		p := adjusted[k]
		if math.IsNaN(p) {
			p = 1
		}
		out.SetSym(pr.i, pr.j, p)
	}
	return out, nil
}

// Mask returns a copy of p with disallowed pairs set to 0, so they are
// dissimilar at every threshold.
func Mask(p *mat.SymDense, adj *adjacency.Matrix) *mat.SymDense {
	n := p.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(p)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if !adj.Allowed(i, j) {
				out.SetSym(i, j, 0)
			}
		}
	}
	return out
}

// PartitionAt binarizes p against threshold (p < threshold is distance 1)
// and cuts the dendrogram of the resulting distances at height 0.
func PartitionAt(p mat.Symmetric, categories []string, threshold float64, method linkage.Method) (models.Partition, error) {
	n := p.SymmetricDim()
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if p.At(i, j) < threshold {
				d.SetSym(i, j, 1)
			}
		}
	}
	dg, err := linkage.Cluster(d, method)
	if err != nil {
		return models.Partition{}, err
	}
	return models.NewPartition(categories, dg.CutHeight(0))
}
