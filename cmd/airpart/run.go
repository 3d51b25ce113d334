package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bioc/airpart/pkg/adjacency"
	"github.com/bioc/airpart/pkg/airpart"
	"github.com/bioc/airpart/pkg/consensus"
	"github.com/bioc/airpart/pkg/dataio"
	"github.com/bioc/airpart/pkg/fusedlasso"
	"github.com/bioc/airpart/pkg/observation"
	"github.com/bioc/airpart/pkg/wilcoxon"
)

// configurable is implemented by every engine config.
type configurable interface {
	LoadFromFile(path string) error
	Set(key string, value interface{})
}

func loadConfig(c configurable, g *globalFlags) error {
	if g.configFile != "" {
		if err := c.LoadFromFile(g.configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	c.Set("logging.level", g.logLevel)
	return nil
}

// setIfChanged copies a flag into the config only when the user set it, so
// a config file value is not overridden by a flag default.
func setIfChanged(cmd *cobra.Command, c configurable, flag, key string, value interface{}) {
	if cmd.Flags().Changed(flag) {
		c.Set(key, value)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func loadInputs(g *globalFlags) (*observation.Dataset, *adjacency.Matrix, error) {
	ds, err := dataio.ReadDataset(g.dataset)
	if err != nil {
		return nil, nil, err
	}
	if g.adjacency == "" {
		return ds, nil, nil
	}
	categories, err := ds.Categories()
	if err != nil {
		return nil, nil, err
	}
	adj, err := dataio.ReadAdjacency(g.adjacency, categories)
	if err != nil {
		return nil, nil, err
	}
	return ds, adj, nil
}

func request(g *globalFlags) observation.Request {
	return observation.Request{
		Cluster:        g.cluster,
		CellCovariates: g.cellCovariates,
		GeneCovariates: g.geneCovariates,
	}
}

func runFusedLasso(cmd *cobra.Command, g *globalFlags, ff *fusedFlags) error {
	setLogLevel(g.logLevel)
	config := fusedlasso.NewConfig()
	if err := loadConfig(config, g); err != nil {
		return err
	}
	setIfChanged(cmd, config, "family", "model.family", ff.family)
	setIfChanged(cmd, config, "penalty", "model.penalty", ff.penalty)
	setIfChanged(cmd, config, "selection", "lambda.selection", ff.selection)
	setIfChanged(cmd, config, "lambda", "lambda.values", ff.lambdas)
	setIfChanged(cmd, config, "niter", "algorithm.niter", ff.niter)
	setIfChanged(cmd, config, "seed", "algorithm.random_seed", ff.seed)
	setIfChanged(cmd, config, "workers", "performance.num_workers", ff.workers)
	if terms := append(append([]string(nil), g.cellCovariates...), g.geneCovariates...); len(terms) > 0 {
		config.Set("model.extra_terms", terms)
	}

	ds, adj, err := loadInputs(g)
	if err != nil {
		return err
	}
	opts := airpart.Options{
		Engine:     airpart.FusedLasso,
		Request:    request(g),
		Adjacency:  adj,
		FusedLasso: config,
	}
	if ff.consensus {
		cc := consensus.NewConfig()
		if err := loadConfig(cc, g); err != nil {
			return err
		}
		setIfChanged(cmd, cc, "fallback-threshold", "consensus.fallback_threshold", ff.fallback)
		opts.Consensus = cc
	}

	ctx, cancel := signalContext()
	defer cancel()
	out, err := airpart.Partition(ctx, ds, opts)
	if err != nil {
		return err
	}
	log.Info().
		Strs("columns", out.Projection.Columns).
		Floats64("lambdas", out.Projection.Tuning.Lambdas).
		Msg("Fused lasso partition written")
	return dataio.WriteResult(g.output, out)
}

func runWilcoxon(cmd *cobra.Command, g *globalFlags, wf *wilcoxonFlags) error {
	setLogLevel(g.logLevel)
	config := wilcoxon.NewConfig()
	if err := loadConfig(config, g); err != nil {
		return err
	}
	setIfChanged(cmd, config, "thresholds", "threshold.values", wf.thresholds)
	setIfChanged(cmd, config, "exact", "test.exact", wf.exact)
	setIfChanged(cmd, config, "p-adjust", "test.p_adjust", wf.pAdjust)
	setIfChanged(cmd, config, "linkage", "cluster.linkage", wf.linkage)
	setIfChanged(cmd, config, "workers", "performance.num_workers", wf.workers)

	ds, adj, err := loadInputs(g)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	out, err := airpart.Partition(ctx, ds, airpart.Options{
		Engine:    airpart.Wilcoxon,
		Request:   request(g),
		Adjacency: adj,
		Wilcoxon:  config,
	})
	if err != nil {
		return err
	}
	log.Info().
		Float64("threshold", out.Projection.Tuning.Threshold).
		Bool("boundary", out.Wilcoxon.Boundary).
		Msg("Wilcoxon partition written")
	return dataio.WriteResult(g.output, out)
}

func runConsensus(cmd *cobra.Command, g *globalFlags, cf *consensusFlags) error {
	setLogLevel(g.logLevel)
	config := consensus.NewConfig()
	if err := loadConfig(config, g); err != nil {
		return err
	}
	setIfChanged(cmd, config, "fallback-threshold", "consensus.fallback_threshold", cf.fallback)

	parts, err := dataio.ReadPartitions(cf.partitions)
	if err != nil {
		return err
	}
	result, err := consensus.Resolve(parts, config)
	if err != nil {
		return err
	}
	log.Info().
		Int("groups", result.Partition.NumGroups()).
		Floats64("nmi", result.Agreement).
		Floats64("adjusted_rand", result.AdjustedRand).
		Msg("Consensus partition written")
	return dataio.WriteResult(g.output, result)
}
