// Package consensus merges several partitions of the same categories into
// one, from the fraction of runs in which each pair of categories shares a
// group.
package consensus

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/linkage"
	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/partition"
)

// Method derives consensus labels from a co-clustering matrix.
type Method interface {
	Cluster(co mat.Symmetric) ([]int, error)
}

// LeastSquares agglomerates categories by average linkage on 1 − A, never
// joining a pair that was never co-clustered, and keeps the cut that
// minimizes Σ_{i<j} (A_ij − same_ij)².
type LeastSquares struct{}

func (LeastSquares) Cluster(co mat.Symmetric) ([]int, error) {
	n := co.SymmetricDim()
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a := co.At(i, j)
			if a == 0 {
				d.SetSym(i, j, math.Inf(1))
			} else {
				d.SetSym(i, j, 1-a)
			}
		}
	}
	dg, err := linkage.Cluster(d, linkage.Average)
	if err != nil {
		return nil, err
	}

	var best []int
	bestLoss := math.Inf(1)
	for k := dg.MinClusters(); k <= n; k++ {
		labels, err := dg.CutK(k)
		if err != nil {
			return nil, err
		}
		loss := Loss(co, labels)
		if math.IsNaN(loss) {
			return nil, fmt.Errorf("loss is NaN at k=%d", k)
		}
		if loss < bestLoss {
			best, bestLoss = labels, loss
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no admissible cut")
	}
	return best, nil
}

// Loss is Σ_{i<j} (A_ij − same_ij)² of labels against co-clustering A.
func Loss(co mat.Symmetric, labels []int) float64 {
	n := co.SymmetricDim()
	var loss float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			same := 0.0
			if labels[i] == labels[j] {
				same = 1
			}
			r := co.At(i, j) - same
			loss += r * r
		}
	}
	return loss
}

// Greedy assigns categories in order to the first group whose every member
// co-clusters with it more often than threshold, else opens a new group.
// With threshold ≥ 0 a pair never co-clustered is never merged.
func Greedy(co mat.Symmetric, threshold float64) []int {
	n := co.SymmetricDim()
	labels := make([]int, n)
	var groups [][]int
	for i := 0; i < n; i++ {
		placed := false
		for g, members := range groups {
			ok := true
			for _, m := range members {
				if !(co.At(i, m) > threshold) {
					ok = false
					break
				}
			}
			if ok {
				groups[g] = append(members, i)
				labels[i] = g + 1
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []int{i})
			labels[i] = len(groups)
		}
	}
	return labels
}

// Result represents the resolver output
type Result struct {
	Partition    models.Partition `json:"partition"`
	CoClustering *mat.SymDense    `json:"-"`
	Loss         float64          `json:"loss"`
	// Fallback is set when the consensus method failed and the greedy rule
	// produced the partition.
	Fallback bool `json:"fallback"`
	// Agreement is the NMI of each input partition with the consensus.
	Agreement []float64 `json:"agreement"`
	// AdjustedRand is the adjusted Rand index of each input partition with
	// the consensus.
	AdjustedRand []float64 `json:"adjusted_rand"`
}

// Resolver combines partitions with a consensus Method.
type Resolver struct {
	Method Method
}

// Resolve combines parts with the least-squares method.
func Resolve(parts []models.Partition, config *Config) (*Result, error) {
	r := &Resolver{Method: LeastSquares{}}
	return r.Resolve(parts, config)
}

// Resolve returns one partition replacing parts. A failing Method never
// fails the call; the greedy rule is used instead.
func (r *Resolver) Resolve(parts []models.Partition, config *Config) (*Result, error) {
	logger := config.CreateLogger()
	if len(parts) < 2 {
		return nil, models.ValidationError{Field: "partitions", Message: "consensus needs at least two partitions", Value: fmt.Sprint(len(parts))}
	}
	if t := config.FallbackThreshold(); t < 0 || t >= 1 {
		return nil, models.ValidationError{Field: "consensus.fallback_threshold", Message: "must be in [0, 1)", Value: fmt.Sprint(t)}
	}
	co, err := partition.CoClustering(parts)
	if err != nil {
		return nil, err
	}
	categories := parts[0].Categories

	result := &Result{CoClustering: co}
	labels, err := r.Method.Cluster(co)
	if err == nil {
		err = admissible(co, labels)
	}
	if err != nil {
		logger.Warn().
			Err(fmt.Errorf("%w: %w", models.ErrConsensus, err)).
			Float64("threshold", config.FallbackThreshold()).
			Msg("Consensus failed, using greedy co-clustering rule")
		labels = Greedy(co, config.FallbackThreshold())
		result.Fallback = true
	}

	result.Partition, err = models.NewPartition(categories, labels)
	if err != nil {
		return nil, err
	}
	result.Loss = Loss(co, result.Partition.Labels)
	for _, p := range parts {
		nmi, err := partition.NMI(p, result.Partition)
		if err != nil {
			return nil, err
		}
		ari, err := partition.AdjustedRand(p, result.Partition)
		if err != nil {
			return nil, err
		}
		result.Agreement = append(result.Agreement, nmi)
		result.AdjustedRand = append(result.AdjustedRand, ari)
	}

	logger.Info().
		Int("runs", len(parts)).
		Int("groups", result.Partition.NumGroups()).
		Float64("loss", result.Loss).
		Bool("fallback", result.Fallback).
		Msg("Consensus partition resolved")

	return result, nil
}

// admissible rejects labels of the wrong length and labels merging a pair
// that no run co-clustered.
func admissible(co mat.Symmetric, labels []int) error {
	n := co.SymmetricDim()
	if len(labels) != n {
		return fmt.Errorf("got %d labels for %d categories", len(labels), n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if labels[i] == labels[j] && co.At(i, j) == 0 {
				return fmt.Errorf("categories %d and %d merged but never co-clustered", i, j)
			}
		}
	}
	return nil
}
