package fusedlasso

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/airpart/pkg/observation"
)

// layout maps the intercept, the non-reference category levels and the
// non-reference covariate levels to parameter columns.
type layout struct {
	nct       int
	covIndex  []int // table covariate per extra term
	covOffset []int // first column of each extra term
	p         int
}

func newLayout(t *observation.Table, m Model) (*layout, error) {
	lay := &layout{nct: t.NumCategories(), p: t.NumCategories()}
	for _, term := range m.Extra {
		idx, ok := t.CovariateIndex(term.Name)
		if !ok {
			return nil, fmt.Errorf("term %q is not a table covariate", term.Name)
		}
		lay.covIndex = append(lay.covIndex, idx)
		lay.covOffset = append(lay.covOffset, lay.p)
		lay.p += len(t.Covariates[idx].Levels) - 1
	}
	return lay, nil
}

// catCol returns the column of category c, -1 for the reference.
func (l *layout) catCol(c int) int {
	if c == 0 {
		return -1
	}
	return c
}

// covCol returns the column of level code of extra term k, -1 for its
// reference level.
func (l *layout) covCol(k, code int) int {
	if code == 0 {
		return -1
	}
	return l.covOffset[k] + code - 1
}

// names returns the coefficient name of every non-intercept column.
func (l *layout) names(t *observation.Table, m Model) []string {
	out := make([]string, l.p)
	out[0] = "(Intercept)"
	for c := 1; c < l.nct; c++ {
		out[l.catCol(c)] = CoefficientName(m.Grouping, t.Categories[c])
	}
	for k, idx := range l.covIndex {
		cov := t.Covariates[idx]
		for code := 1; code < len(cov.Levels); code++ {
			out[l.covCol(k, code)] = CoefficientName(cov.Name, cov.Levels[code])
		}
	}
	return out
}

func (l *layout) row(cat int, codes []int) []float64 {
	x := make([]float64, l.p)
	x[0] = 1
	if c := l.catCol(cat); c >= 0 {
		x[c] = 1
	}
	for k, code := range codes {
		if c := l.covCol(k, code); c >= 0 {
			x[c] = 1
		}
	}
	return x
}

func (l *layout) eta(theta []float64, cat int, codes []int) float64 {
	e := theta[0]
	if c := l.catCol(cat); c >= 0 {
		e += theta[c]
	}
	for k, code := range codes {
		if c := l.covCol(k, code); c >= 0 {
			e += theta[c]
		}
	}
	return e
}

func (l *layout) codes(t *observation.Table, r int) []int {
	codes := make([]int, len(l.covIndex))
	for k, idx := range l.covIndex {
		codes[k] = t.Covariates[idx].Codes[r]
	}
	return codes
}

// cell aggregates rows sharing one design row. For the binomial family w is
// the summed total count and s the summed successes; for the gaussian
// family w is the row count, s the sum and ss the sum of squares of ratios.
type cell struct {
	cat   int
	codes []int
	w     float64
	s     float64
	ss    float64
}

func aggregate(t *observation.Table, rows []int, lay *layout, family Family) []cell {
	index := make(map[string]int)
	var cells []cell
	var key strings.Builder
	for _, r := range rows {
		codes := lay.codes(t, r)
		key.Reset()
		key.WriteString(strconv.Itoa(t.Category[r]))
		for _, c := range codes {
			key.WriteByte(',')
			key.WriteString(strconv.Itoa(c))
		}
		i, ok := index[key.String()]
		if !ok {
			i = len(cells)
			index[key.String()] = i
			cells = append(cells, cell{cat: t.Category[r], codes: codes})
		}
		y := t.Ratio[r]
		switch family {
		case Binomial:
			cells[i].w += t.Weight[r]
			cells[i].s += t.Weight[r] * y
		default:
			cells[i].w++
			cells[i].s += y
			cells[i].ss += y * y
		}
	}
	return cells
}

// glm is the normalised negative log-likelihood of a family over aggregated
// cells with design x.
type glm struct {
	family Family
	x      *mat.Dense
	cells  []cell
	total  float64
}

func newGLM(family Family, cells []cell, x *mat.Dense) *glm {
	g := &glm{family: family, x: x, cells: cells}
	for _, c := range cells {
		g.total += c.w
	}
	return g
}

func designFor(cells []cell, lay *layout) *mat.Dense {
	x := mat.NewDense(len(cells), lay.p, nil)
	for i, c := range cells {
		x.SetRow(i, lay.row(c.cat, c.codes))
	}
	return x
}

func (g *glm) dim() int {
	_, q := g.x.Dims()
	return q
}

func (g *glm) eta(theta []float64) []float64 {
	out := make([]float64, len(g.cells))
	e := mat.NewVecDense(len(out), out)
	e.MulVec(g.x, mat.NewVecDense(len(theta), theta))
	return out
}

func (g *glm) loss(theta []float64) float64 {
	if g.total == 0 {
		return 0
	}
	var l float64
	for i, e := range g.eta(theta) {
		c := g.cells[i]
		switch g.family {
		case Binomial:
			l -= c.s*e - c.w*softplus(e)
		default:
			l += (c.ss - 2*e*c.s + c.w*e*e) / 2
		}
	}
	return l / g.total
}

// gradHess returns the gradient and Hessian of loss at theta.
func (g *glm) gradHess(theta []float64) ([]float64, *mat.SymDense) {
	q := g.dim()
	grad := make([]float64, q)
	hess := mat.NewSymDense(q, nil)
	if g.total == 0 {
		return grad, hess
	}
	for i, e := range g.eta(theta) {
		c := g.cells[i]
		var d1, d2 float64
		switch g.family {
		case Binomial:
			mu := logistic(e)
			d1 = c.w*mu - c.s
			d2 = c.w * mu * (1 - mu)
		default:
			d1 = c.w*e - c.s
			d2 = c.w
		}
		d1 /= g.total
		d2 /= g.total
		row := g.x.RawRowView(i)
		for a := 0; a < q; a++ {
			if row[a] == 0 {
				continue
			}
			grad[a] += d1 * row[a]
			for b := a; b < q; b++ {
				if row[b] != 0 {
					hess.SetSym(a, b, hess.At(a, b)+d2*row[a]*row[b])
				}
			}
		}
	}
	return grad, hess
}

// objective is loss(θ) + ρ/2·‖Dθ − c‖², the θ-step of ADMM. With a nil d it
// is the plain loss.
type objective struct {
	g   *glm
	d   *mat.Dense
	rho float64
	c   []float64
}

func (o objective) value(theta []float64) float64 {
	v := o.g.loss(theta)
	if o.d != nil {
		r := residual(o.d, theta, o.c)
		v += o.rho / 2 * floats.Dot(r, r)
	}
	return v
}

func (o objective) gradHess(theta []float64) ([]float64, *mat.SymDense) {
	grad, hess := o.g.gradHess(theta)
	if o.d == nil {
		return grad, hess
	}
	r := residual(o.d, theta, o.c)
	var dtr mat.VecDense
	dtr.MulVec(o.d.T(), mat.NewVecDense(len(r), r))
	for a := range grad {
		grad[a] += o.rho * dtr.AtVec(a)
	}
	var dtd mat.SymDense
	dtd.SymOuterK(o.rho, o.d.T())
	hess.AddSym(hess, &dtd)
	return grad, hess
}

const ridge = 1e-8

// newton minimizes o from theta with damped Newton steps.
func newton(o objective, theta []float64, maxIter int, tol float64) ([]float64, error) {
	q := len(theta)
	theta = append([]float64(nil), theta...)
	for it := 0; it < maxIter; it++ {
		grad, hess := o.gradHess(theta)
		for a := 0; a < q; a++ {
			hess.SetSym(a, a, hess.At(a, a)+ridge)
		}
		var chol mat.Cholesky
		if !chol.Factorize(hess) {
			return nil, fmt.Errorf("hessian is not positive definite")
		}
		var step mat.VecDense
		if err := chol.SolveVecTo(&step, mat.NewVecDense(q, grad)); err != nil {
			return nil, err
		}
		delta := step.RawVector().Data
		decrement := floats.Dot(grad, delta)
		if math.IsNaN(decrement) || math.IsInf(decrement, 0) {
			return nil, fmt.Errorf("non-finite newton step")
		}
		if decrement/2 <= tol {
			return theta, nil
		}

		f0 := o.value(theta)
		t := 1.0
		next := make([]float64, q)
		for ls := 0; ls < 40; ls++ {
			for a := range next {
				next[a] = theta[a] - t*delta[a]
			}
			if f := o.value(next); f <= f0-1e-4*t*decrement {
				break
			}
			t /= 2
		}
		copy(theta, next)
	}
	for _, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite coefficients")
		}
	}
	return theta, nil
}

// rowDeviance is the unit deviance of ratio y with fitted linear predictor e.
func rowDeviance(family Family, y, e float64) float64 {
	if family == Gaussian {
		return (y - e) * (y - e)
	}
	mu := logistic(e)
	return 2 * (xlogy(y, y/mu) + xlogy(1-y, (1-y)/(1-mu)))
}

// meanDeviance is the weighted mean unit deviance of rows under theta.
func meanDeviance(t *observation.Table, rows []int, lay *layout, family Family, theta []float64) float64 {
	var dev, w float64
	for _, r := range rows {
		wr := 1.0
		if family == Binomial {
			wr = t.Weight[r]
		}
		e := lay.eta(theta, t.Category[r], lay.codes(t, r))
		dev += wr * rowDeviance(family, t.Ratio[r], e)
		w += wr
	}
	if w == 0 {
		return math.NaN()
	}
	return dev / w
}

func residual(d *mat.Dense, theta, c []float64) []float64 {
	m, _ := d.Dims()
	out := make([]float64, m)
	r := mat.NewVecDense(m, out)
	r.MulVec(d, mat.NewVecDense(len(theta), theta))
	for i := range out {
		out[i] -= c[i]
	}
	return out
}

func logistic(e float64) float64 {
	if e >= 0 {
		return 1 / (1 + math.Exp(-e))
	}
	x := math.Exp(e)
	return x / (1 + x)
}

func softplus(e float64) float64 {
	if e > 0 {
		return e + math.Log1p(math.Exp(-e))
	}
	return math.Log1p(math.Exp(e))
}

func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}
