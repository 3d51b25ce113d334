// Package airpart chains the observation table, a partitioning engine, the
// optional consensus step and the projection into one call.
package airpart

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bioc/airpart/pkg/adjacency"
	"github.com/bioc/airpart/pkg/consensus"
	"github.com/bioc/airpart/pkg/fusedlasso"
	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/pkg/projection"
	"github.com/bioc/airpart/pkg/wilcoxon"
)

// Engine names a partitioning engine.
type Engine string

const (
	FusedLasso Engine = "fusedlasso"
	Wilcoxon   Engine = "wilcoxon"
)

// ParseEngine accepts the engine names used by the CLI and the job API.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case FusedLasso, Wilcoxon:
		return Engine(s), nil
	}
	return "", models.ValidationError{Field: "engine", Message: "must be fusedlasso or wilcoxon", Value: s}
}

// Options selects the engine and carries its configuration. Nil configs
// fall back to the package defaults.
type Options struct {
	Engine  Engine
	Request observation.Request
	// Adjacency restricts which categories may share a label. Nil allows
	// every pair.
	Adjacency *adjacency.Matrix

	FusedLasso *fusedlasso.Config
	Wilcoxon   *wilcoxon.Config
	// Consensus, when set, merges the runs of a multi-run fused lasso call
	// into one partition.
	Consensus *consensus.Config
}

// Output is the result of one partitioning call.
type Output struct {
	Engine     Engine                 `json:"engine"`
	Cluster    string                 `json:"cluster"`
	Projection *projection.Projection `json:"projection"`
	FusedLasso *fusedlasso.Result     `json:"fusedlasso,omitempty"`
	Wilcoxon   *wilcoxon.Result       `json:"wilcoxon,omitempty"`
	Consensus  *consensus.Result      `json:"consensus,omitempty"`
	RuntimeMS  int64                  `json:"runtime_ms"`
}

// Partition builds the observation table for opts.Request and partitions its
// categories with the selected engine.
func Partition(ctx context.Context, ds *observation.Dataset, opts Options) (*Output, error) {
	startTime := time.Now()
	logger := log.With().Str("service", "airpart").Logger()

	table, err := observation.Build(ds, opts.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to build observation table: %w", err)
	}
	logger.Info().
		Str("engine", string(opts.Engine)).
		Str("cluster", opts.Request.Cluster).
		Int("categories", table.NumCategories()).
		Int("observations", table.Len()).
		Msg("Starting partitioning")

	out := &Output{Engine: opts.Engine, Cluster: opts.Request.Cluster}
	var cols []projection.Column
	var meta projection.Meta

	switch opts.Engine {
	case FusedLasso:
		cfg := opts.FusedLasso
		if cfg == nil {
			cfg = fusedlasso.NewConfig()
		}
		out.FusedLasso, err = fusedlasso.Run(ctx, table, opts.Adjacency, cfg)
		if err != nil {
			return nil, err
		}
		cols, meta, out.Consensus, err = fusedColumns(out.FusedLasso, opts.Consensus)
		if err != nil {
			return nil, err
		}
	case Wilcoxon:
		cfg := opts.Wilcoxon
		if cfg == nil {
			cfg = wilcoxon.NewConfig()
		}
		out.Wilcoxon, err = wilcoxon.Run(ctx, table, opts.Adjacency, cfg)
		if err != nil {
			return nil, err
		}
		cols = []projection.Column{{Name: "part", Partition: out.Wilcoxon.Partition}}
		meta.Tuning = projection.Tuning{Engine: string(Wilcoxon), Threshold: out.Wilcoxon.Threshold}
	default:
		return nil, models.ValidationError{Field: "engine", Message: "unknown engine", Value: string(opts.Engine)}
	}

	out.Projection, err = projection.Project(ds, table, cols, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to project partition: %w", err)
	}
	out.RuntimeMS = time.Since(startTime).Milliseconds()

	logger.Info().
		Strs("columns", out.Projection.Columns).
		Int64("runtime_ms", out.RuntimeMS).
		Msg("Partitioning completed")

	return out, nil
}

// fusedColumns turns the successful runs into projection columns. Several
// runs give part1..partN unless a consensus config merges them into "part".
func fusedColumns(res *fusedlasso.Result, cc *consensus.Config) ([]projection.Column, projection.Meta, *consensus.Result, error) {
	meta := projection.Meta{Tuning: projection.Tuning{Engine: string(FusedLasso), Lambdas: res.Lambdas()}}
	var cols []projection.Column
	for _, c := range res.Columns() {
		meta.Effects = append(meta.Effects, c.Effects)
		cols = append(cols, projection.Column{Name: c.Name, Partition: c.Partition})
	}
	if len(res.Runs) == 1 {
		cols[0].Name = "part"
		return cols, meta, nil, nil
	}
	if cc == nil {
		return cols, meta, nil, nil
	}
	if len(res.Partitions) < 2 {
		cols[0].Name = "part"
		return cols, meta, nil, nil
	}
	cres, err := consensus.Resolve(res.Partitions, cc)
	if err != nil {
		return nil, projection.Meta{}, nil, err
	}
	return []projection.Column{{Name: "part", Partition: cres.Partition}}, meta, cres, nil
}
