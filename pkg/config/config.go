// Package config registers the command-line configuration with lflag.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/edp1096/pvparam/internal/consts"
	"github.com/edp1096/pvparam/pkg/bandgap"
	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
	"github.com/edp1096/pvparam/pkg/fit"
	"github.com/edp1096/pvparam/pkg/metrics"
)

type Mode string

const (
	ModeFit     Mode = "fit"     // fit one sweep
	ModeBandgap Mode = "bandgap" // fit sweeps at several temperatures
	ModeMetrics Mode = "metrics" // MPP, FF, efficiency from a sweep
	ModeCalc    Mode = "calc"    // MPP, FF, efficiency from scalar readings
)

type Config struct {
	Mode Mode

	Inputs       []string  // One table, or one per temperature in bandgap mode
	Temperatures []float64 // Kelvin, one per input; empty reads a temperature column
	Celsius      bool      // Temperatures and the temperature column are in degrees Celsius
	Columns      curve.Options
	Invert       bool // Negate currents of load-convention sweeps

	Weighting     string
	InitialGuess  cell.Params
	Lower, Upper  cell.Params
	MaxIterations int
	Parallelism   int

	Conditions metrics.Conditions
	Scalars    metrics.Scalars

	JSONOutput string // "-" writes JSON results to stdout
	Figure     string
	Timeout    time.Duration
}

// Default is the configuration with every flag at its default.
func Default() Config {
	fo := fit.DefaultOptions()
	return Config{
		Mode:          ModeFit,
		Temperatures:  []float64{300},
		Weighting:     fo.Weighting.String(),
		InitialGuess:  fo.InitialGuess,
		Lower:         fo.Bounds.Lower,
		Upper:         fo.Bounds.Upper,
		MaxIterations: fo.MaxIterations,
		Conditions:    metrics.DefaultConditions(),
	}
}

// Configured registers the flags and fills the returned Config once
// lflag.Configure has parsed them. An invalid configuration panics inside
// lflag.Do, like any other misconfigured component.
func Configured() *Config {
	def := Default()

	mode := lflag.String("mode", string(def.Mode), "What to compute (fit, bandgap, metrics, calc)")
	inputs := lflag.String("input", "", "Comma-separated I-V tables; bandgap mode takes one per temperature or one with a temperature column")
	temperatures := def.Temperatures
	lflag.JSON(&temperatures, "temperatures", temperatures, "JSON array of sweep temperatures, one per input")
	celsius := lflag.Bool("celsius", false, "Temperatures are in degrees Celsius")
	voltageColumn := lflag.String("voltage-column", "", "Voltage column header (default tries VOLT1, Voltage, V, U)")
	currentColumn := lflag.String("current-column", "", "Current column header (default tries CURR1, Current, I)")
	temperatureColumn := lflag.String("temperature-column", "", "Temperature column header (default tries Temp, Temperature, T)")
	delimiter := lflag.String("delimiter", "", "Column delimiter; empty detects it from the header")
	invert := lflag.Bool("invert", false, "Negate the current column (load-convention sweeps)")

	weighting := lflag.String("weighting", def.Weighting, "Residual weighting (absolute, relative)")
	guess := def.InitialGuess
	lflag.JSON(&guess, "initial-guess", guess, "JSON initial guess, e.g. {\"is\":1e-9,\"n\":1.5,\"rs\":1,\"rp\":1000}")
	lower := def.Lower
	lflag.JSON(&lower, "lower-bounds", lower, "JSON lower parameter bounds")
	upper := def.Upper
	lflag.JSON(&upper, "upper-bounds", upper, "JSON upper parameter bounds")
	maxIterations := lflag.Int("max-iterations", def.MaxIterations, "Cap on solver iterations per fit")
	parallelism := lflag.Int("parallelism", def.Parallelism, "Concurrent fits in bandgap mode (0 uses every CPU)")

	cond := def.Conditions
	lflag.JSON(&cond, "conditions", cond, "JSON illumination, e.g. {\"irradiance\":1000,\"area\":0.01,\"zero_tolerance\":0.02}")
	var scalars metrics.Scalars
	lflag.JSON(&scalars, "scalars", scalars, "JSON readings for calc mode, e.g. {\"isc\":0.5,\"voc\":0.6,\"impp\":0.45,\"vmpp\":0.5}")

	jsonOutput := lflag.String("json", "", "Write results as JSON to this path (- for stdout)")
	figure := lflag.String("figure", "", "Write a figure to this path (png, svg, pdf)")
	timeout := lflag.Duration("timeout", 0, "Abort after this long. 0 means no limit.")

	cfg := &Config{}
	lflag.Do(func() {
		*cfg = Config{
			Mode:         Mode(*mode),
			Inputs:       splitList(*inputs),
			Temperatures: temperatures,
			Celsius:      *celsius,
			Columns: curve.Options{
				VoltageColumn:     *voltageColumn,
				CurrentColumn:     *currentColumn,
				TemperatureColumn: *temperatureColumn,
				Celsius:           *celsius,
			},
			Invert:        *invert,
			Weighting:     *weighting,
			InitialGuess:  guess,
			Lower:         lower,
			Upper:         upper,
			MaxIterations: *maxIterations,
			Parallelism:   *parallelism,
			Conditions:    cond,
			Scalars:       scalars,
			JSONOutput:    *jsonOutput,
			Figure:        *figure,
			Timeout:       *timeout,
		}
		if *delimiter != "" {
			cfg.Columns.Delimiter = []rune(unescape(*delimiter))[0]
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("config validation failed: %v", err))
		}
	})
	return cfg
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFit, ModeMetrics:
		if len(c.Inputs) != 1 {
			return fmt.Errorf("%w: %s mode takes exactly one input, got %d", errs.ErrInvalidInput, c.Mode, len(c.Inputs))
		}
	case ModeBandgap:
		if len(c.Inputs) == 0 {
			return fmt.Errorf("%w: bandgap mode needs an input", errs.ErrInvalidInput)
		}
		if len(c.Inputs) > 1 && len(c.Temperatures) != len(c.Inputs) {
			return fmt.Errorf("%w: %d inputs but %d temperatures", errs.ErrInvalidInput, len(c.Inputs), len(c.Temperatures))
		}
	case ModeCalc:
		if len(c.Inputs) != 0 {
			return fmt.Errorf("%w: calc mode reads -scalars, not tables", errs.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", errs.ErrInvalidInput, c.Mode)
	}

	if c.Mode == ModeFit || c.Mode == ModeBandgap {
		if _, err := c.FitOptions(); err != nil {
			return err
		}
		if len(c.Inputs) > 1 || c.Mode == ModeFit {
			for _, k := range c.Kelvins() {
				if !(k > 0) || math.IsInf(k, 0) {
					return fmt.Errorf("%w: temperature %g K must be positive", errs.ErrInvalidInput, k)
				}
			}
		}
	}
	if c.Mode == ModeFit && len(c.Temperatures) != 1 {
		return fmt.Errorf("%w: fit mode takes one temperature, got %d", errs.ErrInvalidInput, len(c.Temperatures))
	}
	if c.Mode == ModeMetrics || c.Mode == ModeCalc {
		if err := c.Conditions.Validate(); err != nil {
			return err
		}
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("%w: parallelism %d must not be negative", errs.ErrInvalidInput, c.Parallelism)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", errs.ErrInvalidInput)
	}
	return nil
}

// Kelvins returns the configured temperatures in kelvin.
func (c *Config) Kelvins() []float64 {
	out := make([]float64, len(c.Temperatures))
	for k, t := range c.Temperatures {
		if c.Celsius {
			t += consts.KELVIN
		}
		out[k] = t
	}
	return out
}

func (c *Config) FitOptions() (fit.Options, error) {
	w, err := fit.ParseWeighting(c.Weighting)
	if err != nil {
		return fit.Options{}, err
	}
	opts := fit.DefaultOptions()
	opts.InitialGuess = c.InitialGuess
	opts.Bounds = fit.Bounds{Lower: c.Lower, Upper: c.Upper}
	opts.Weighting = w
	opts.MaxIterations = c.MaxIterations
	if err := opts.Validate(); err != nil {
		return fit.Options{}, err
	}
	return opts, nil
}

func (c *Config) BandgapOptions() (bandgap.Options, error) {
	fo, err := c.FitOptions()
	if err != nil {
		return bandgap.Options{}, err
	}
	opts := bandgap.DefaultOptions()
	opts.Fit = fo
	opts.Parallelism = c.Parallelism
	return opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func unescape(s string) string {
	switch s {
	case `\t`, "tab":
		return "\t"
	case "space":
		return " "
	}
	return s
}
