package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	dataset        string
	cluster        string
	configFile     string
	output         string
	adjacency      string
	cellCovariates []string
	geneCovariates []string
	logLevel       string
}

type fusedFlags struct {
	family    string
	penalty   string
	selection string
	lambdas   []float64
	niter     int
	seed      int64
	workers   int
	consensus bool
	fallback  float64
}

type wilcoxonFlags struct {
	thresholds []float64
	exact      string
	pAdjust    string
	linkage    string
	workers    int
}

type consensusFlags struct {
	partitions string
	fallback   float64
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "airpart",
		Short: "Partition cell categories by allelic ratio",
		Long: `airpart groups the cell categories of a gene cluster so that
categories sharing a label have indistinguishable allelic ratios.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.output, "output", "o", "-", "result JSON path, - for stdout")
	pf.StringVar(&g.configFile, "config", "", "engine config file (yaml, json or toml)")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newFusedLassoCmd(g), newWilcoxonCmd(g), newConsensusCmd(g))
	return root
}

func addDatasetFlags(cmd *cobra.Command, g *globalFlags) {
	f := cmd.Flags()
	f.StringVarP(&g.dataset, "dataset", "d", "", "dataset JSON path")
	f.StringVarP(&g.cluster, "cluster", "c", "", "gene cluster to partition")
	f.StringVar(&g.adjacency, "adjacency", "", "category adjacency JSON path")
	f.StringSliceVar(&g.cellCovariates, "cell-covariates", nil, "per-cell columns added as covariates")
	f.StringSliceVar(&g.geneCovariates, "gene-covariates", nil, "per-gene columns added as covariates")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("cluster")
}

func newFusedLassoCmd(g *globalFlags) *cobra.Command {
	ff := &fusedFlags{}
	cmd := &cobra.Command{
		Use:     "fusedlasso",
		Aliases: []string{"fl"},
		Short:   "Partition with a penalized fused lasso GLM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFusedLasso(cmd, g, ff)
		},
	}
	addDatasetFlags(cmd, g)
	f := cmd.Flags()
	f.StringVar(&ff.family, "family", "binomial", "response family (binomial, gaussian)")
	f.StringVar(&ff.penalty, "penalty", "graph", "fusion penalty (graph, chain)")
	f.StringVar(&ff.selection, "selection", "cv1se.dev", "lambda selection (cv1se.dev, cv.dev, is.aic, is.bic)")
	f.Float64SliceVar(&ff.lambdas, "lambda", nil, "explicit lambda path")
	f.IntVar(&ff.niter, "niter", 1, "number of independent runs")
	f.Int64Var(&ff.seed, "seed", 0, "base random seed (default: time based)")
	f.IntVar(&ff.workers, "workers", 0, "parallel runs (default: number of CPUs)")
	f.BoolVar(&ff.consensus, "consensus", false, "merge the runs of a multi-run call into one partition")
	f.Float64Var(&ff.fallback, "fallback-threshold", 0.5, "co-clustering threshold of the greedy consensus fallback")
	return cmd
}

func newWilcoxonCmd(g *globalFlags) *cobra.Command {
	wf := &wilcoxonFlags{}
	cmd := &cobra.Command{
		Use:     "wilcoxon",
		Aliases: []string{"wx"},
		Short:   "Partition with pairwise rank-sum tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWilcoxon(cmd, g, wf)
		},
	}
	addDatasetFlags(cmd, g)
	f := cmd.Flags()
	f.Float64SliceVar(&wf.thresholds, "thresholds", nil, "p-value thresholds (default 10^seq(-2, -0.4, 0.2))")
	f.StringVar(&wf.exact, "exact", "auto", "exact p-values (auto, always, never)")
	f.StringVar(&wf.pAdjust, "p-adjust", "none", "p-value adjustment (none, bonferroni, holm, BH, BY)")
	f.StringVar(&wf.linkage, "linkage", "complete", "linkage used to cut the binarized p matrix")
	f.IntVar(&wf.workers, "workers", 0, "parallel workers (default: number of CPUs)")
	return cmd
}

func newConsensusCmd(g *globalFlags) *cobra.Command {
	cf := &consensusFlags{}
	cmd := &cobra.Command{
		Use:   "consensus",
		Short: "Merge several partitions of the same categories into one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsensus(cmd, g, cf)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cf.partitions, "partitions", "p", "", "JSON array of partitions")
	f.Float64Var(&cf.fallback, "fallback-threshold", 0.5, "co-clustering threshold of the greedy fallback")
	_ = cmd.MarkFlagRequired("partitions")
	return cmd
}
