package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/edp1096/pvparam/pkg/bandgap"
	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/config"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/figure"
	"github.com/edp1096/pvparam/pkg/fit"
	"github.com/edp1096/pvparam/pkg/metrics"
	"github.com/edp1096/pvparam/pkg/util"
)

func run(ctx context.Context, cfg *config.Config, w io.Writer) error {
	var result any
	var err error
	switch cfg.Mode {
	case config.ModeFit:
		result, err = runFit(ctx, cfg, w)
	case config.ModeBandgap:
		result, err = runBandgap(ctx, cfg, w)
	case config.ModeMetrics:
		result, err = runMetrics(cfg, w)
	case config.ModeCalc:
		var m metrics.CellMetrics
		m, err = metrics.FromScalars(cfg.Scalars, cfg.Conditions)
		if err == nil {
			printMetrics(w, m)
		}
		result = m
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return err
	}
	return writeJSON(cfg.JSONOutput, w, result)
}

func runFit(ctx context.Context, cfg *config.Config, w io.Writer) (fit.Result, error) {
	c, err := readCurve(cfg.Inputs[0], cfg)
	if err != nil {
		return fit.Result{}, err
	}
	opts, err := cfg.FitOptions()
	if err != nil {
		return fit.Result{}, err
	}
	model, err := cell.NewModel(cfg.Kelvins()[0], cell.DefaultConstants())
	if err != nil {
		return fit.Result{}, err
	}
	f, err := fit.New(model, opts)
	if err != nil {
		return fit.Result{}, err
	}

	res, err := f.Fit(ctx, c)
	if err != nil {
		return fit.Result{}, fmt.Errorf("fitting %s: %w", cfg.Inputs[0], err)
	}

	fmt.Fprintf(w, "Fit of %s at %s (%d points):\n", cfg.Inputs[0], util.FormatTemperature(model.Temp), c.Len())
	fmt.Fprintln(w, "==========================")
	printParams(w, res)

	if cfg.Figure != "" {
		if err := figure.IVPlot(cfg.Figure, cfg.Inputs[0], c, model, res.Params); err != nil {
			return fit.Result{}, fmt.Errorf("writing figure: %w", err)
		}
	}
	return res, nil
}

func runBandgap(ctx context.Context, cfg *config.Config, w io.Writer) (bandgap.Report, error) {
	samples, err := readSamples(cfg)
	if err != nil {
		return bandgap.Report{}, err
	}
	opts, err := cfg.BandgapOptions()
	if err != nil {
		return bandgap.Report{}, err
	}
	agg, err := bandgap.New(opts)
	if err != nil {
		return bandgap.Report{}, err
	}

	report, err := agg.Estimate(ctx, samples)
	for _, f := range report.Fits {
		fmt.Fprintf(w, "\n%s:\n", util.FormatTemperature(f.Kelvin))
		printParams(w, f.Result)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "\n%s: FAILED: %v\n", util.FormatTemperature(f.Kelvin), f.Err)
	}
	if err != nil {
		return report, err
	}

	est := report.Estimate
	fmt.Fprintln(w, "\nBandgap:")
	fmt.Fprintln(w, "========")
	fmt.Fprintf(w, "  Wg  = %.4f eV (%s)\n", est.EnergyEV, util.FormatValueFactor(est.EnergyJoule, "J"))
	fmt.Fprintf(w, "  R^2 = %s from %d temperatures\n", util.FormatMagnitude(est.RSquared), est.Points)

	if cfg.Figure != "" {
		if err := figure.ArrheniusPlot(cfg.Figure, report.Points(), est); err != nil {
			return report, fmt.Errorf("writing figure: %w", err)
		}
	}
	return report, nil
}

func runMetrics(cfg *config.Config, w io.Writer) (metrics.CellMetrics, error) {
	c, err := readCurve(cfg.Inputs[0], cfg)
	if err != nil {
		return metrics.CellMetrics{}, err
	}
	m, err := metrics.FromCurve(c, cfg.Conditions)
	if err != nil {
		return metrics.CellMetrics{}, fmt.Errorf("%s: %w", cfg.Inputs[0], err)
	}
	printMetrics(w, m)
	return m, nil
}

func readCurve(path string, cfg *config.Config) (curve.Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return curve.Curve{}, err
	}
	defer f.Close()

	c, err := curve.ReadCurve(f, cfg.Columns)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Invert {
		c = c.Inverted()
	}
	return c, nil
}

// readSamples takes a single table with a temperature column, or one table
// per configured temperature.
func readSamples(cfg *config.Config) ([]curve.TemperatureSample, error) {
	if len(cfg.Inputs) == 1 {
		f, err := os.Open(cfg.Inputs[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()

		samples, err := curve.ReadSamples(f, cfg.Columns)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfg.Inputs[0], err)
		}
		if cfg.Invert {
			for k := range samples {
				samples[k].Curve = samples[k].Curve.Inverted()
			}
		}
		return samples, nil
	}

	kelvins := cfg.Kelvins()
	samples := make([]curve.TemperatureSample, len(cfg.Inputs))
	for k, path := range cfg.Inputs {
		c, err := readCurve(path, cfg)
		if err != nil {
			return nil, err
		}
		if samples[k], err = curve.NewTemperatureSample(kelvins[k], c); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return samples, nil
}

func printParams(w io.Writer, res fit.Result) {
	p, se := res.Params, res.StdErr
	fmt.Fprintf(w, "  Is = %-12s +/- %s\n", util.FormatValueFactor(p.Is, "A"), util.FormatValueFactor(se.Is, "A"))
	fmt.Fprintf(w, "  n  = %-12s +/- %s\n", util.FormatMagnitude(p.N), util.FormatMagnitude(se.N))
	fmt.Fprintf(w, "  Rs = %-12s +/- %s\n", util.FormatValueFactor(p.Rs, "Ohm"), util.FormatValueFactor(se.Rs, "Ohm"))
	fmt.Fprintf(w, "  Rp = %-12s +/- %s\n", util.FormatValueFactor(p.Rp, "Ohm"), util.FormatValueFactor(se.Rp, "Ohm"))
	fmt.Fprintf(w, "  rmse %s after %d iterations\n", util.FormatValueFactor(res.RMSE, "A"), res.Iterations)
}

func printMetrics(w io.Writer, m metrics.CellMetrics) {
	fmt.Fprintln(w, "Cell metrics:")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "  Isc  = %s\n", util.FormatValueFactor(m.Isc, "A"))
	fmt.Fprintf(w, "  Voc  = %s\n", util.FormatValueFactor(m.Voc, "V"))
	fmt.Fprintf(w, "  Impp = %s\n", util.FormatValueFactor(m.Impp, "A"))
	fmt.Fprintf(w, "  Vmpp = %s\n", util.FormatValueFactor(m.Vmpp, "V"))
	fmt.Fprintf(w, "  Pmax = %s\n", util.FormatValueFactor(m.Pmax, "W"))
	fmt.Fprintf(w, "  FF   = %s\n", util.FormatMagnitude(m.FillFactor))
	fmt.Fprintf(w, "  Eff  = %s\n", util.FormatPercent(m.EfficiencyPercent))
}

func writeJSON(path string, stdout io.Writer, v any) error {
	if path == "" {
		return nil
	}

	out := stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
