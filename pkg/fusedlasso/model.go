package fusedlasso

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/observation"
)

// Family is the GLM family of the fit.
type Family string

const (
	// Binomial uses the logit link with total counts as weights.
	Binomial Family = "binomial"
	// Gaussian uses the identity link and ignores weights.
	Gaussian Family = "gaussian"
)

// Penalty selects which category pairs the fusion penalty acts on.
type Penalty string

const (
	// ChainFused penalizes differences between consecutive categories.
	ChainFused Penalty = "chain"
	// GraphFused penalizes differences between adjacent categories.
	GraphFused Penalty = "graph"
)

// Policy is the rule used to pick one λ from the path.
type Policy string

const (
	CV1SE Policy = "cv1se.dev"
	CVMin Policy = "cv.dev"
	AIC   Policy = "is.aic"
	BIC   Policy = "is.bic"
)

// CrossValidated reports whether the policy selects λ from fold deviances.
func (p Policy) CrossValidated() bool { return p == CV1SE || p == CVMin }

func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case Binomial, Gaussian:
		return Family(s), nil
	}
	return "", fmt.Errorf("unknown family %q", s)
}

func ParsePenalty(s string) (Penalty, error) {
	switch s {
	case "chain", "flasso":
		return ChainFused, nil
	case "graph", "gflasso":
		return GraphFused, nil
	}
	return "", fmt.Errorf("unknown penalty %q", s)
}

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case CV1SE, CVMin, AIC, BIC:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown lambda selection %q", s)
}

// Term is an unpenalized categorical covariate taken from the table.
type Term struct {
	Name string
}

// Model declares the terms of the fit: one fused grouping term over the
// category factor plus optional plain covariates.
type Model struct {
	Grouping string
	Penalty  Penalty
	Extra    []Term
}

// Problem is the data handed to a Solver.
type Problem struct {
	Table  *observation.Table
	Family Family
	Model  Model
	// Edges lists the category pairs the fusion penalty acts on.
	Edges [][2]int
}

// Control holds per-fit solver parameters.
type Control struct {
	// Lambdas is a caller supplied path. When empty the path is built from
	// λ_max with LambdaLength values down to LambdaMinRatio·λ_max. A single
	// value is fitted directly without cross-validation.
	Lambdas        []float64
	LambdaLength   int
	LambdaMinRatio float64
	Folds          int
	Selection      Policy
	Seed           int64
	MaxIterations  int
	Tolerance      float64
	// CVTolerance is the stopping tolerance of cross-validation fold fits,
	// never tighter than Tolerance.
	CVTolerance float64
	Rho         float64
}

// Fit is a fitted model at the selected λ. Category coefficients are named
// "<grouping>:<level>" and are relative to the first (reference) level,
// which has no coefficient; covariates are named "<term>:<level>".
type Fit struct {
	Intercept    float64
	Coefficients map[string]float64
	Lambda       float64
	Lambdas      []float64
	// Deviance is the folds × path matrix of held-out mean deviance; nil
	// when λ was not cross-validated.
	Deviance      *mat.Dense
	SelectedIndex int
	Iterations    int
	// Unconverged counts path solves that hit MaxIterations.
	Unconverged int
}

// Solver fits a generalized fused lasso GLM over a λ path.
type Solver interface {
	Fit(ctx context.Context, prob Problem, ctl Control) (*Fit, error)
}

// CoefficientName returns the name a fit uses for level of term.
func CoefficientName(term, level string) string {
	return term + ":" + level
}
