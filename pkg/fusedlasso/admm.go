package fusedlasso

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/adjacency"
	"github.com/bioc/airpart/pkg/models"
)

// ADMMSolver fits the generalized fused lasso
//
//	min_θ loss(θ) + λ Σ_{(i,j) ∈ E} |β_i − β_j|
//
// by the alternating direction method of multipliers, with damped Newton
// steps for the smooth part. β_0 of the reference category is fixed at 0.
// Categories joined by edges whose split variable vanishes share one
// coefficient in the returned fit.
type ADMMSolver struct{}

// NewADMMSolver returns the default solver.
func NewADMMSolver() *ADMMSolver { return &ADMMSolver{} }

type admmState struct {
	theta []float64
	z     []float64
	u     []float64
	rho   float64
	iters int
	// converged is false when the last solve stopped at MaxIterations.
	converged bool
}

func (st *admmState) clone() *admmState {
	return &admmState{
		theta: append([]float64(nil), st.theta...),
		z:     append([]float64(nil), st.z...),
		u:     append([]float64(nil), st.u...),
		rho:   st.rho,
	}
}

func withDefaults(ctl Control) Control {
	if ctl.LambdaLength <= 0 {
		ctl.LambdaLength = 25
	}
	if ctl.LambdaMinRatio <= 0 {
		ctl.LambdaMinRatio = 1e-4
	}
	if ctl.Selection == "" {
		ctl.Selection = CV1SE
	}
	if ctl.MaxIterations <= 0 {
		ctl.MaxIterations = 5000
	}
	if ctl.Tolerance <= 0 {
		ctl.Tolerance = 1e-7
	}
	if ctl.CVTolerance < ctl.Tolerance {
		ctl.CVTolerance = ctl.Tolerance
	}
	if ctl.Rho <= 0 {
		ctl.Rho = 1
	}
	return ctl
}

// Fit fits prob along the λ path and returns the coefficients at the λ
// chosen by ctl.Selection.
func (s *ADMMSolver) Fit(ctx context.Context, prob Problem, ctl Control) (*Fit, error) {
	ctl = withDefaults(ctl)
	t := prob.Table
	lay, err := newLayout(t, prob.Model)
	if err != nil {
		return nil, err
	}
	rows := make([]int, t.Len())
	for i := range rows {
		rows[i] = i
	}
	cells := aggregate(t, rows, lay, prob.Family)
	if len(cells) == 0 {
		return nil, fmt.Errorf("no observations to fit")
	}
	g := newGLM(prob.Family, cells, designFor(cells, lay))
	d := penaltyMatrix(lay, prob.Edges)

	start := &admmState{theta: make([]float64, lay.p), rho: ctl.Rho}
	lambdas := append([]float64(nil), ctl.Lambdas...)
	if len(lambdas) == 0 {
		lmax, theta0, err := lambdaMax(g, lay, d, prob.Edges)
		if err != nil {
			return nil, err
		}
		start.theta = theta0
		lambdas = make([]float64, ctl.LambdaLength)
		if ctl.LambdaLength == 1 {
			lambdas[0] = lmax
		} else {
			floats.LogSpan(lambdas, lmax*ctl.LambdaMinRatio, lmax)
			floats.Reverse(lambdas)
		}
	} else {
		sort.Sort(sort.Reverse(sort.Float64Slice(lambdas)))
		for _, l := range lambdas {
			if !(l >= 0) || math.IsInf(l, 0) {
				return nil, fmt.Errorf("invalid lambda %v", l)
			}
		}
	}
	start.z = penaltyProduct(d, start.theta)
	start.u = make([]float64, len(start.z))

	coefs := make([][]float64, len(lambdas))
	st := start
	iters, unconverged := 0, 0
	for l, lambda := range lambdas {
		st, err = s.solve(ctx, g, d, lambda, st, ctl)
		if err != nil {
			return nil, fmt.Errorf("lambda %g: %w", lambda, err)
		}
		iters += st.iters
		if !st.converged {
			unconverged++
		}
		coefs[l] = snap(st, lay, prob.Edges, ctl.Tolerance)
	}

	fit := &Fit{Lambdas: lambdas, Iterations: iters, Unconverged: unconverged}
	if len(lambdas) > 1 {
		switch ctl.Selection {
		case CV1SE, CVMin:
			dev, err := s.crossValidate(ctx, prob, lay, d, lambdas, ctl)
			if err != nil {
				return nil, err
			}
			fit.Deviance = dev
			if ctl.Selection == CVMin {
				fit.SelectedIndex = SelectMin(dev)
			} else {
				fit.SelectedIndex = SelectOneSE(dev)
			}
		case AIC, BIC:
			fit.SelectedIndex = selectInfoCriterion(prob, lay, rows, coefs, ctl.Selection)
		default:
			return nil, fmt.Errorf("unknown lambda selection %q", ctl.Selection)
		}
	}

	theta := coefs[fit.SelectedIndex]
	fit.Lambda = lambdas[fit.SelectedIndex]
	fit.Intercept = theta[0]
	fit.Coefficients = make(map[string]float64, lay.p-1)
	for i, name := range lay.names(t, prob.Model) {
		if i > 0 {
			fit.Coefficients[name] = theta[i]
		}
	}
	return fit, nil
}

// solve runs ADMM at one λ, warm started from st. The returned state is
// marked unconverged when MaxIterations is reached first.
func (s *ADMMSolver) solve(ctx context.Context, g *glm, d *mat.Dense, lambda float64, st *admmState, ctl Control) (*admmState, error) {
	next := st.clone()
	innerTol := ctl.Tolerance * 1e-3
	if d == nil {
		theta, err := newton(objective{g: g}, next.theta, ctl.MaxIterations, innerTol)
		if err != nil {
			return nil, err
		}
		next.theta = theta
		next.iters = 1
		next.converged = true
		return next, nil
	}

	m, q := d.Dims()
	c := make([]float64, m)
	for it := 0; it < ctl.MaxIterations; it++ {
		if it%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range c {
			c[i] = next.z[i] - next.u[i]
		}
		theta, err := newton(objective{g: g, d: d, rho: next.rho, c: c}, next.theta, 50, innerTol)
		if err != nil {
			return nil, err
		}
		next.theta = theta

		dt := penaltyProduct(d, theta)
		zOld := append([]float64(nil), next.z...)
		kappa := lambda / next.rho
		for i := range next.z {
			next.z[i] = softThreshold(dt[i]+next.u[i], kappa)
			next.u[i] += dt[i] - next.z[i]
		}
		next.iters++

		primal := make([]float64, m)
		dz := make([]float64, m)
		for i := range primal {
			primal[i] = dt[i] - next.z[i]
			dz[i] = next.z[i] - zOld[i]
		}
		r := floats.Norm(primal, 2)
		sd := next.rho * floats.Norm(transposeProduct(d, dz), 2)
		epsPri := math.Sqrt(float64(m))*ctl.Tolerance + ctl.Tolerance*math.Max(floats.Norm(dt, 2), floats.Norm(next.z, 2))
		epsDual := math.Sqrt(float64(q))*ctl.Tolerance + ctl.Tolerance*next.rho*floats.Norm(transposeProduct(d, next.u), 2)
		if r <= epsPri && sd <= epsDual {
			next.converged = true
			break
		}

		// Residual balancing; u is the scaled dual so it rescales with ρ.
		if it%10 == 9 {
			switch {
			case r > 10*sd:
				next.rho *= 2
				floats.Scale(0.5, next.u)
			case sd > 10*r:
				next.rho /= 2
				floats.Scale(2, next.u)
			}
		}
	}
	return next, nil
}

// crossValidate fills the folds × path matrix of held-out mean deviance.
// Fold fits stop at ctl.CVTolerance; fusion is still read at ctl.Tolerance.
func (s *ADMMSolver) crossValidate(ctx context.Context, prob Problem, lay *layout, d *mat.Dense, lambdas []float64, ctl Control) (*mat.Dense, error) {
	foldCtl := ctl
	foldCtl.Tolerance = ctl.CVTolerance
	t := prob.Table
	n := t.Len()
	k := ctl.Folds
	if k < 2 {
		return nil, fmt.Errorf("cross-validation needs at least 2 folds, got %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("%d observations cannot fill %d folds", n, k)
	}

	rng := rand.New(rand.NewSource(ctl.Seed))
	fold := make([]int, n)
	for i, r := range rng.Perm(n) {
		fold[r] = i % k
	}

	dev := mat.NewDense(k, len(lambdas), nil)
	for f := 0; f < k; f++ {
		var train, test []int
		for r := 0; r < n; r++ {
			if fold[r] == f {
				test = append(test, r)
			} else {
				train = append(train, r)
			}
		}
		cells := aggregate(t, train, lay, prob.Family)
		g := newGLM(prob.Family, cells, designFor(cells, lay))
		st := &admmState{theta: make([]float64, lay.p), rho: ctl.Rho}
		st.z = penaltyProduct(d, st.theta)
		st.u = make([]float64, len(st.z))
		for l, lambda := range lambdas {
			var err error
			st, err = s.solve(ctx, g, d, lambda, st, foldCtl)
			if err != nil {
				return nil, fmt.Errorf("fold %d lambda %g: %w", f, lambda, err)
			}
			dev.Set(f, l, meanDeviance(t, test, lay, prob.Family, snap(st, lay, prob.Edges, ctl.Tolerance)))
		}
	}
	return dev, nil
}

// selectInfoCriterion returns the path index minimizing AIC or BIC, with
// degrees of freedom counting distinct category effects plus covariate
// coefficients.
func selectInfoCriterion(prob Problem, lay *layout, rows []int, coefs [][]float64, policy Policy) int {
	t := prob.Table
	n := float64(len(rows))
	penalty := 2.0
	if policy == BIC {
		penalty = math.Log(n)
	}
	var wsum float64
	for _, r := range rows {
		if prob.Family == Binomial {
			wsum += t.Weight[r]
		}
	}
	best, bestIC := 0, math.Inf(1)
	for l, theta := range coefs {
		mean := meanDeviance(t, rows, lay, prob.Family, theta)
		var dev float64
		if prob.Family == Binomial {
			dev = mean * wsum
		} else {
			dev = n * math.Log(mean)
		}
		effects := make(map[float64]bool)
		effects[0] = true
		for c := 1; c < lay.nct; c++ {
			effects[theta[lay.catCol(c)]] = true
		}
		df := float64(len(effects) + lay.p - lay.nct)
		if ic := dev + penalty*df; ic < bestIC {
			best, bestIC = l, ic
		}
	}
	return best
}

// lambdaMax fits the fully fused model and returns the smallest λ at which
// it is optimal, from the least-squares dual of the difference operator,
// together with the fused coefficients.
func lambdaMax(g *glm, lay *layout, d *mat.Dense, edges [][2]int) (float64, []float64, error) {
	if d == nil {
		return 0, nil, fmt.Errorf("no fusion edges: %w", models.ErrPenaltyPath)
	}
	comps := adjacency.Components(lay.nct, edges)
	compOf := make([]int, lay.nct)
	for k, members := range comps {
		for _, c := range members {
			compOf[c] = k
		}
	}

	if g.family == Binomial {
		s := make([]float64, len(comps))
		w := make([]float64, len(comps))
		for _, c := range g.cells {
			s[compOf[c.cat]] += c.s
			w[compOf[c.cat]] += c.w
		}
		for k := range comps {
			if w[k] == 0 || s[k] <= 0 || s[k] >= w[k] {
				return 0, nil, fmt.Errorf("fused categories %v are separated: %w", comps[k], models.ErrPenaltyPath)
			}
		}
	}

	// Columns of the fused design: intercept, one per component without the
	// reference category, then the covariates.
	refComp := compOf[0]
	compCol := make([]int, len(comps))
	qr := 1
	for k := range comps {
		if k == refComp {
			compCol[k] = -1
			continue
		}
		compCol[k] = qr
		qr++
	}
	nCov := lay.p - lay.nct
	qr += nCov
	tm := mat.NewDense(lay.p, qr, nil)
	tm.Set(0, 0, 1)
	for c := 1; c < lay.nct; c++ {
		if col := compCol[compOf[c]]; col >= 0 {
			tm.Set(lay.catCol(c), col, 1)
		}
	}
	for j := 0; j < nCov; j++ {
		tm.Set(lay.nct+j, qr-nCov+j, 1)
	}
	var xr mat.Dense
	xr.Mul(g.x, tm)
	phi, err := newton(objective{g: newGLM(g.family, g.cells, &xr)}, make([]float64, qr), 200, 1e-14)
	if err != nil {
		return 0, nil, fmt.Errorf("fully fused fit: %v: %w", err, models.ErrPenaltyPath)
	}
	theta := make([]float64, lay.p)
	mat.NewVecDense(lay.p, theta).MulVec(tm, mat.NewVecDense(qr, phi))
	for _, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, nil, fmt.Errorf("fully fused fit is not finite: %w", models.ErrPenaltyPath)
		}
	}

	grad, _ := g.gradHess(theta)
	m, _ := d.Dims()
	nb := lay.nct - 1
	a := mat.NewDense(nb, m, nil)
	a.Copy(d.Slice(0, m, 1, lay.nct).T())
	b := mat.NewDense(nb, 1, nil)
	for c := 1; c < lay.nct; c++ {
		b.Set(c-1, 0, -grad[lay.catCol(c)])
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return 0, nil, fmt.Errorf("difference operator factorization failed: %w", models.ErrPenaltyPath)
	}
	var v mat.Dense
	svd.SolveTo(&v, b, svd.Rank(1e-10))
	lmax := mat.Norm(&v, math.Inf(1))
	if math.IsNaN(lmax) || math.IsInf(lmax, 0) || lmax <= 0 {
		return 0, nil, fmt.Errorf("lambda max is %v: %w", lmax, models.ErrPenaltyPath)
	}
	return lmax, theta, nil
}

// penaltyMatrix is the edge difference operator in parameter space, nil
// when there are no edges.
func penaltyMatrix(lay *layout, edges [][2]int) *mat.Dense {
	if len(edges) == 0 {
		return nil
	}
	d := mat.NewDense(len(edges), lay.p, nil)
	for e, pair := range edges {
		if c := lay.catCol(pair[0]); c >= 0 {
			d.Set(e, c, 1)
		}
		if c := lay.catCol(pair[1]); c >= 0 {
			d.Set(e, c, -1)
		}
	}
	return d
}

// snap returns θ with categories joined by split variables no larger than
// tol set to a common value: 0 when fused with the reference, else their
// mean.
func snap(st *admmState, lay *layout, edges [][2]int, tol float64) []float64 {
	theta := append([]float64(nil), st.theta...)
	if len(edges) == 0 {
		return theta
	}
	var fused [][2]int
	for e, z := range st.z {
		if math.Abs(z) <= tol {
			fused = append(fused, edges[e])
		}
	}
	for _, comp := range adjacency.Components(lay.nct, fused) {
		if len(comp) < 2 {
			continue
		}
		value := 0.0
		if comp[0] != 0 {
			for _, c := range comp {
				value += theta[lay.catCol(c)]
			}
			value /= float64(len(comp))
		}
		for _, c := range comp {
			if col := lay.catCol(c); col >= 0 {
				theta[col] = value
			}
		}
	}
	return theta
}

func penaltyProduct(d *mat.Dense, theta []float64) []float64 {
	if d == nil {
		return nil
	}
	m, _ := d.Dims()
	out := make([]float64, m)
	mat.NewVecDense(m, out).MulVec(d, mat.NewVecDense(len(theta), theta))
	return out
}

func transposeProduct(d *mat.Dense, v []float64) []float64 {
	_, q := d.Dims()
	out := make([]float64, q)
	mat.NewVecDense(q, out).MulVec(d.T(), mat.NewVecDense(len(v), v))
	return out
}

func softThreshold(x, k float64) float64 {
	switch {
	case x > k:
		return x - k
	case x < -k:
		return x + k
	}
	return 0
}
