package fit

import (
	"fmt"
	"math"

	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/errs"
)

// Weighting selects how residuals are scaled before squaring.
type Weighting int

const (
	// Absolute minimises the plain sum of squared current residuals.
	Absolute Weighting = iota
	// Relative divides each residual by the measured current magnitude, so
	// every decade of a dark curve carries similar weight.
	Relative
)

func (w Weighting) String() string {
	switch w {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	}
	return fmt.Sprintf("Weighting(%d)", int(w))
}

// ParseWeighting is the inverse of Weighting.String.
func ParseWeighting(s string) (Weighting, error) {
	switch s {
	case "absolute", "":
		return Absolute, nil
	case "relative":
		return Relative, nil
	}
	return 0, fmt.Errorf("%w: unknown weighting %q", errs.ErrInvalidInput, s)
}

// Bounds is a box around the parameters. Is and Rp are fitted on a log scale,
// so their lower bounds must be positive.
type Bounds struct {
	Lower cell.Params `json:"lower"`
	Upper cell.Params `json:"upper"`
}

func DefaultBounds() Bounds {
	return Bounds{
		Lower: cell.Params{Is: 1e-20, N: 0.5, Rs: 0, Rp: 1},
		Upper: cell.Params{Is: 1e-6, N: 5, Rs: 100, Rp: 1e6},
	}
}

func DefaultInitialGuess() cell.Params {
	return cell.Params{Is: 1e-9, N: 1.5, Rs: 1.0, Rp: 1000}
}

func (b Bounds) Validate() error {
	lo, hi := b.Lower.Slice(), b.Upper.Slice()
	for k := range lo {
		if math.IsNaN(lo[k]) || math.IsNaN(hi[k]) || math.IsInf(lo[k], 0) || math.IsInf(hi[k], 0) {
			return fmt.Errorf("%w: bounds must be finite", errs.ErrInvalidInput)
		}
		if lo[k] > hi[k] {
			return fmt.Errorf("%w: lower bound %g above upper bound %g", errs.ErrInvalidInput, lo[k], hi[k])
		}
	}

	switch {
	case b.Lower.Is <= 0:
		return fmt.Errorf("%w: saturation current lower bound must be positive", errs.ErrInvalidInput)
	case b.Lower.N <= 0:
		return fmt.Errorf("%w: ideality factor lower bound must be positive", errs.ErrInvalidInput)
	case b.Lower.Rs < 0:
		return fmt.Errorf("%w: series resistance lower bound must not be negative", errs.ErrInvalidInput)
	case b.Lower.Rp <= 0:
		return fmt.Errorf("%w: parallel resistance lower bound must be positive", errs.ErrInvalidInput)
	}
	return nil
}

// Clip moves p inside the box.
func (b Bounds) Clip(p cell.Params) cell.Params {
	x, lo, hi := p.Slice(), b.Lower.Slice(), b.Upper.Slice()
	for k := range x {
		x[k] = math.Min(math.Max(x[k], lo[k]), hi[k])
	}
	return cell.ParamsFromSlice(x)
}

type Options struct {
	InitialGuess  cell.Params
	Bounds        Bounds
	Weighting     Weighting
	RelativeFloor float64 // Relative weighting floor, as a fraction of the largest |I|
	MaxIterations int     // Cap on trial steps, accepted or not
	FTol          float64 // Relative cost reduction below which the fit has converged
	XTol          float64 // Relative step size below which the fit has converged
	GTol          float64 // Largest cosine between residual and Jacobian column at convergence
}

func DefaultOptions() Options {
	return Options{
		InitialGuess:  DefaultInitialGuess(),
		Bounds:        DefaultBounds(),
		Weighting:     Absolute,
		RelativeFloor: 1e-3,
		MaxIterations: 500,
		FTol:          1e-12,
		XTol:          1e-12,
		GTol:          1e-10,
	}
}

func (o Options) Validate() error {
	if err := o.Bounds.Validate(); err != nil {
		return err
	}
	if err := o.InitialGuess.Validate(); err != nil {
		return fmt.Errorf("initial guess: %w", err)
	}
	if o.Weighting != Absolute && o.Weighting != Relative {
		return fmt.Errorf("%w: unknown weighting %d", errs.ErrInvalidInput, int(o.Weighting))
	}
	if o.Weighting == Relative && !(o.RelativeFloor > 0 && o.RelativeFloor < 1) {
		return fmt.Errorf("%w: relative floor %g must be in (0, 1)", errs.ErrInvalidInput, o.RelativeFloor)
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be positive", errs.ErrInvalidInput)
	}
	if !(o.FTol >= 0) || !(o.XTol >= 0) || !(o.GTol >= 0) {
		return fmt.Errorf("%w: tolerances must not be negative", errs.ErrInvalidInput)
	}
	return nil
}
