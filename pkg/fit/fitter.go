// Package fit extracts single-diode parameters from an I-V sweep with a
// bounded Levenberg-Marquardt least-squares solver.
package fit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
	"github.com/edp1096/pvparam/pkg/log"
	"github.com/edp1096/pvparam/pkg/matrix"
)

const (
	nParams     = 4
	lambdaStart = 1e-3
	lambdaMax   = 1e32
)

// Result is a converged fit.
type Result struct {
	Params        cell.Params `json:"params"`
	StdErr        cell.Params `json:"std_err"`        // One standard error per parameter
	HasCovariance bool        `json:"has_covariance"` // False when the sweep has no spare degrees of freedom
	Cost          float64     `json:"cost"`           // Half the weighted sum of squared residuals
	RMSE          float64     `json:"rmse"`           // Unweighted current residual (A)
	Iterations    int         `json:"iterations"`
	Evaluations   int         `json:"evaluations"`
}

type Fitter struct {
	model *cell.Model
	opts  Options
}

func New(model *cell.Model, opts Options) (*Fitter, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", errs.ErrInvalidInput)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Fitter{model: model, opts: opts}, nil
}

func (f *Fitter) Model() *cell.Model { return f.model }

func (f *Fitter) Options() Options { return f.opts }

// Fit runs the solver from the configured initial guess. The fitter is
// stateless between calls and may be shared by goroutines.
func (f *Fitter) Fit(ctx context.Context, c curve.Curve) (Result, error) {
	if err := c.CheckFittable(); err != nil {
		return Result{}, err
	}

	p := newProblem(f.model, f.opts, c)

	mat, err := matrix.NewNormalMatrix(nParams)
	if err != nil {
		return Result{}, err
	}
	defer mat.Destroy()

	theta := p.clip(p.toTheta(f.opts.Bounds.Clip(f.opts.InitialGuess)))
	st, err := p.evaluate(theta)
	if err != nil {
		return Result{}, fmt.Errorf("initial guess: %w", err)
	}

	lambda, nu := lambdaStart, 2.0
	stalled := 0.0 // Largest predicted reduction among rejected steps in a row
	iterations := 0
	converged := false
	reason := ""

	for iterations < f.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		a, g := st.normal()
		act := p.active(theta, g)
		if st.cost == 0 || p.gradientConverged(act, a, g, st.cost) {
			converged, reason = true, "gradient"
			break
		}

		iterations++
		mat.Clear()
		stamp(mat, a, g, act)
		mat.LoadDamping(lambda, dampingScale(a))

		if err := mat.Solve(); err != nil {
			lambda *= 10
			if lambda > lambdaMax {
				return Result{}, fmt.Errorf("%w: damped system stays singular: %v", errs.ErrFitDidNotConverge, err)
			}
			continue
		}

		sol := mat.Solution()
		trial := make([]float64, nParams)
		step := make([]float64, nParams)
		for i := range nParams {
			trial[i] = theta[i] + sol[i+1]
		}
		trial = p.clip(trial)
		floats.SubTo(step, trial, theta)

		small := floats.Norm(step, 2) <= f.opts.XTol*(floats.Norm(theta, 2)+f.opts.XTol)
		predicted := -floats.Dot(g[:], step) - 0.5*quadForm(a, step)

		next, err := p.evaluate(trial)
		if err != nil || next.cost >= st.cost {
			// Rejections alone never converge unless the cost sits at its
			// rounding floor: no attempt since the last acceptance promised
			// a measurable reduction.
			stalled = math.Max(stalled, predicted)
			if small && stalled <= f.opts.FTol*p.signal {
				converged, reason = true, "floor"
				break
			}
			lambda *= nu
			nu *= 2
			if lambda > lambdaMax {
				break
			}
			continue
		}

		actual := st.cost - next.cost
		rho := 0.5
		if predicted > 0 {
			rho = actual / predicted
		}
		lambda *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
		nu = 2
		stalled = 0

		prevCost := st.cost
		theta, st = trial, next
		if actual <= f.opts.FTol*prevCost {
			converged, reason = true, "cost"
			break
		}
		if small {
			converged, reason = true, "step"
			break
		}
	}

	if !converged {
		return Result{}, fmt.Errorf("%w: no convergence after %d iterations (cost %g)", errs.ErrFitDidNotConverge, iterations, st.cost)
	}

	params := p.fromTheta(theta)
	if err := params.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", errs.ErrFitDidNotConverge, err)
	}

	res := Result{
		Params:      params,
		Cost:        st.cost,
		RMSE:        p.rmse(st),
		Iterations:  iterations,
		Evaluations: p.evaluations,
	}
	if err := p.covariance(st, params, &res); err != nil {
		return Result{}, err
	}

	log.Ctx(ctx).DebugContext(ctx, "fit converged",
		"reason", reason,
		"iterations", iterations,
		"cost", st.cost,
		"is", params.Is,
		"n", params.N,
		"rs", params.Rs,
		"rp", params.Rp,
	)
	return res, nil
}

// stamp loads the undamped step equations J^T J delta = -J^T r. Active
// parameters get an identity row so their step solves to zero.
func stamp(sys matrix.System, a [nParams][nParams]float64, g [nParams]float64, act [nParams]bool) {
	for i := range nParams {
		for j := range nParams {
			switch {
			case act[i] || act[j]:
				if i == j {
					sys.AddElement(i+1, j+1, 1)
				}
			default:
				sys.AddElement(i+1, j+1, a[i][j])
			}
		}
		if !act[i] {
			sys.AddRHS(i+1, -g[i])
		}
	}
}

// dampingScale is the Marquardt diagonal: the curvature of each parameter,
// floored so a parameter the data does not see is still damped.
func dampingScale(a [nParams][nParams]float64) []float64 {
	scale := make([]float64, nParams)
	maxDiag := 0.0
	for i := range nParams {
		scale[i] = a[i][i]
		maxDiag = math.Max(maxDiag, a[i][i])
	}

	floor := 1e-12 * maxDiag
	if floor == 0 {
		floor = 1
	}
	for i := range scale {
		scale[i] = math.Max(scale[i], floor)
	}
	return scale
}

func quadForm(a [nParams][nParams]float64, x []float64) float64 {
	sum := 0.0
	for i := range nParams {
		for j := range nParams {
			sum += x[i] * a[i][j] * x[j]
		}
	}
	return sum
}
