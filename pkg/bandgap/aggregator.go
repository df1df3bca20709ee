// Package bandgap estimates the bandgap energy of a cell from I-V sweeps taken
// at several temperatures.
package bandgap

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
	"github.com/edp1096/pvparam/pkg/fit"
	"github.com/edp1096/pvparam/pkg/log"
)

type Options struct {
	Fit         fit.Options
	Constants   cell.Constants
	Parallelism int // Concurrent fits; 0 uses GOMAXPROCS, 1 is sequential
}

func DefaultOptions() Options {
	return Options{
		Fit:       fit.DefaultOptions(),
		Constants: cell.DefaultConstants(),
	}
}

// TemperatureFit is one successful per-temperature fit.
type TemperatureFit struct {
	Kelvin float64    `json:"kelvin"`
	Result fit.Result `json:"result"`
}

// TemperatureFailure records a sample that was left out of the regression.
type TemperatureFailure struct {
	Kelvin float64 `json:"kelvin"`
	Err    error   `json:"-"`
}

func (f TemperatureFailure) Error() string {
	return fmt.Sprintf("%g K: %v", f.Kelvin, f.Err)
}

func (f TemperatureFailure) Unwrap() error { return f.Err }

func (f TemperatureFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Kelvin float64 `json:"kelvin"`
		Error  string  `json:"error"`
	}{f.Kelvin, msg})
}

// Report is the outcome of an aggregation. Fits and Failures are sorted by
// temperature. Estimate is zero unless at least two fits succeeded.
type Report struct {
	Estimate Estimate             `json:"estimate"`
	Fits     []TemperatureFit     `json:"fits"`
	Failures []TemperatureFailure `json:"failures,omitempty"`
}

// Points returns the fitted saturation currents in temperature order.
func (r Report) Points() []Point {
	out := make([]Point, len(r.Fits))
	for k, f := range r.Fits {
		out[k] = Point{Kelvin: f.Kelvin, Saturation: f.Result.Params.Is}
	}
	return out
}

type Aggregator struct {
	opts Options
}

func New(opts Options) (*Aggregator, error) {
	if err := opts.Fit.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Constants.Validate(); err != nil {
		return nil, err
	}
	if opts.Parallelism < 0 {
		return nil, fmt.Errorf("%w: parallelism %d must not be negative", errs.ErrInvalidInput, opts.Parallelism)
	}
	return &Aggregator{opts: opts}, nil
}

type outcome struct {
	res fit.Result
	err error
}

// Estimate fits every sample and regresses the fitted saturation currents.
// Individual fit failures are reported, not returned, as long as two samples
// survive. With fewer, the partial report comes back with ErrInsufficientData.
func (a *Aggregator) Estimate(ctx context.Context, samples []curve.TemperatureSample) (Report, error) {
	seen := make(map[float64]bool, len(samples))
	for _, s := range samples {
		if !(s.Kelvin > 0) {
			return Report{}, fmt.Errorf("%w: temperature %g K must be positive", errs.ErrInvalidInput, s.Kelvin)
		}
		if seen[s.Kelvin] {
			return Report{}, fmt.Errorf("%w: duplicate temperature %g K", errs.ErrInvalidInput, s.Kelvin)
		}
		seen[s.Kelvin] = true
	}

	limit := a.opts.Parallelism
	if limit == 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	outcomes := make([]outcome, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for k, s := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := a.fitOne(gctx, s)
			outcomes[k] = outcome{res: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	var report Report
	for k, o := range outcomes {
		kelvin := samples[k].Kelvin
		if o.err != nil {
			log.Ctx(ctx).WarnContext(ctx, "temperature sample skipped", "kelvin", kelvin, "error", o.err)
			report.Failures = append(report.Failures, TemperatureFailure{Kelvin: kelvin, Err: o.err})
			continue
		}
		report.Fits = append(report.Fits, TemperatureFit{Kelvin: kelvin, Result: o.res})
	}
	slices.SortFunc(report.Fits, func(x, y TemperatureFit) int { return cmp.Compare(x.Kelvin, y.Kelvin) })
	slices.SortFunc(report.Failures, func(x, y TemperatureFailure) int { return cmp.Compare(x.Kelvin, y.Kelvin) })

	if len(report.Fits) < 2 {
		return report, fmt.Errorf("%w: %d of %d temperature samples fitted", errs.ErrInsufficientData, len(report.Fits), len(samples))
	}

	est, err := Regress(report.Points(), a.opts.Constants)
	if err != nil {
		return report, err
	}
	report.Estimate = est

	log.Ctx(ctx).InfoContext(ctx, "bandgap estimated",
		"energy_ev", est.EnergyEV,
		"r_squared", est.RSquared,
		"points", est.Points,
		"failures", len(report.Failures),
	)
	return report, nil
}

func (a *Aggregator) fitOne(ctx context.Context, s curve.TemperatureSample) (fit.Result, error) {
	model, err := cell.NewModel(s.Kelvin, a.opts.Constants)
	if err != nil {
		return fit.Result{}, err
	}
	f, err := fit.New(model, a.opts.Fit)
	if err != nil {
		return fit.Result{}, err
	}

	res, err := f.Fit(ctx, s.Curve)
	if err != nil {
		return fit.Result{}, err
	}
	if !(res.Params.Is > 0) {
		return fit.Result{}, fmt.Errorf("%w: fitted saturation current %g", errs.ErrInvalidInput, res.Params.Is)
	}
	return res, nil
}

// Errors joins the failures into one error, or nil when there are none.
func (r Report) Errors() error {
	errList := make([]error, len(r.Failures))
	for k, f := range r.Failures {
		errList[k] = f
	}
	return errors.Join(errList...)
}
