package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
)

// problem is one sweep prepared for the solver. The solver works in
// theta = (ln Is, N, Rs, ln Rp) so that the two parameters spanning decades
// move on a log scale.
type problem struct {
	model       *cell.Model
	v, meas     []float64
	weight      []float64
	lo, hi      []float64
	gtol        float64
	signal      float64 // Half the weighted sum of squared measurements
	evaluations int
}

// state is the solver's view of one parameter vector.
type state struct {
	resid []float64          // Weighted residuals
	model []float64          // Model currents
	jac   [][nParams]float64 // Weighted d(resid)/d(theta)
	cost  float64
}

func newProblem(model *cell.Model, opts Options, c curve.Curve) *problem {
	p := &problem{
		model:  model,
		v:      c.Voltage(),
		meas:   c.Current(),
		weight: make([]float64, c.Len()),
		gtol:   opts.GTol,
	}

	floats.AddConst(1, p.weight)
	if opts.Weighting == Relative {
		floor := opts.RelativeFloor * math.Max(math.Abs(floats.Max(p.meas)), math.Abs(floats.Min(p.meas)))
		for k, i := range p.meas {
			p.weight[k] = 1 / math.Max(math.Abs(i), floor)
		}
	}

	for k, i := range p.meas {
		p.signal += 0.5 * (p.weight[k] * i) * (p.weight[k] * i)
	}

	p.lo = p.toTheta(opts.Bounds.Lower)
	p.hi = p.toTheta(opts.Bounds.Upper)
	return p
}

func (p *problem) toTheta(params cell.Params) []float64 {
	return []float64{math.Log(params.Is), params.N, params.Rs, math.Log(params.Rp)}
}

func (p *problem) fromTheta(theta []float64) cell.Params {
	return cell.Params{Is: math.Exp(theta[0]), N: theta[1], Rs: theta[2], Rp: math.Exp(theta[3])}
}

func (p *problem) clip(theta []float64) []float64 {
	out := make([]float64, len(theta))
	for k := range theta {
		out[k] = math.Min(math.Max(theta[k], p.lo[k]), p.hi[k])
	}
	return out
}

func (p *problem) evaluate(theta []float64) (state, error) {
	p.evaluations++
	params := p.fromTheta(theta)

	st := state{
		resid: make([]float64, len(p.v)),
		model: make([]float64, len(p.v)),
		jac:   make([][nParams]float64, len(p.v)),
	}
	for k, v := range p.v {
		i, grad := p.model.Jacobian(v, params)
		if math.IsNaN(i) || math.IsInf(i, 0) {
			return state{}, fmt.Errorf("%w: model current at V=%g with %+v", errs.ErrNumericOverflow, v, params)
		}

		w := p.weight[k]
		st.model[k] = i
		st.resid[k] = w * (i - p.meas[k])

		// Chain rule onto the log-scaled parameters.
		st.jac[k] = [nParams]float64{
			w * grad[0] * params.Is,
			w * grad[1],
			w * grad[2],
			w * grad[3] * params.Rp,
		}
	}

	st.cost = 0.5 * floats.Dot(st.resid, st.resid)
	if math.IsNaN(st.cost) || math.IsInf(st.cost, 0) {
		return state{}, fmt.Errorf("%w: cost with %+v", errs.ErrNumericOverflow, params)
	}
	return st, nil
}

// normal returns J^T J and J^T r.
func (st state) normal() ([nParams][nParams]float64, [nParams]float64) {
	var a [nParams][nParams]float64
	var g [nParams]float64
	for k, row := range st.jac {
		for i := range nParams {
			g[i] += row[i] * st.resid[k]
			for j := range nParams {
				a[i][j] += row[i] * row[j]
			}
		}
	}
	return a, g
}

// active marks parameters resting on a bound with the descent direction
// pointing out of the box. They are held fixed for the step.
func (p *problem) active(theta []float64, g [nParams]float64) [nParams]bool {
	var act [nParams]bool
	for i := range nParams {
		act[i] = (theta[i] <= p.lo[i] && g[i] > 0) || (theta[i] >= p.hi[i] && g[i] < 0)
	}
	return act
}

// gradientConverged reports whether the residual is orthogonal to every
// free Jacobian column within GTol.
func (p *problem) gradientConverged(act [nParams]bool, a [nParams][nParams]float64, g [nParams]float64, cost float64) bool {
	rnorm := math.Sqrt(2 * cost)
	for i := range nParams {
		if act[i] || a[i][i] == 0 {
			continue
		}
		cos := math.Abs(g[i]) / (math.Sqrt(a[i][i]) * rnorm)
		if cos > p.gtol {
			return false
		}
	}
	return true
}

func (p *problem) rmse(st state) float64 {
	sum := 0.0
	for k, i := range st.model {
		d := i - p.meas[k]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(st.model)))
}

// covariance fills the standard errors from s^2 (J^T J)^-1 at the solution.
// A Jacobian without full rank means the sweep cannot pin down the
// parameters, which is reported as a failed fit.
func (p *problem) covariance(st state, params cell.Params, res *Result) error {
	a, _ := st.normal()

	sym := mat.NewSymDense(nParams, nil)
	for i := range nParams {
		for j := i; j < nParams; j++ {
			sym.SetSym(i, j, a[i][j])
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return fmt.Errorf("%w: singular Jacobian at the solution", errs.ErrFitDidNotConverge)
	}

	dof := len(st.resid) - nParams
	if dof <= 0 {
		return nil
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return fmt.Errorf("%w: inverting normal matrix: %v", errs.ErrFitDidNotConverge, err)
	}

	s2 := 2 * st.cost / float64(dof)
	se := make([]float64, nParams)
	for i := range nParams {
		se[i] = math.Sqrt(math.Max(inv.At(i, i)*s2, 0))
	}

	// Back from theta: d(Is)/d(ln Is) = Is.
	res.StdErr = cell.Params{
		Is: se[0] * params.Is,
		N:  se[1],
		Rs: se[2],
		Rp: se[3] * params.Rp,
	}
	res.HasCovariance = true
	return nil
}
