// Package metrics derives the maximum power point, fill factor and conversion
// efficiency of a cell, either from a measured sweep or from scalar readings.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
)

// DefaultZeroTolerance is the share of a column's span within which the
// nearest sample stands in for a zero crossing the sweep does not reach.
const DefaultZeroTolerance = 0.02

const fillFactorSlack = 1e-9

// Conditions describe the illumination a sweep was taken under.
type Conditions struct {
	Irradiance    float64 `json:"irradiance"` // W/m^2
	Area          float64 `json:"area"`       // m^2
	ZeroTolerance float64 `json:"zero_tolerance"`
}

func DefaultConditions() Conditions {
	return Conditions{Irradiance: 1000, Area: 0.01, ZeroTolerance: DefaultZeroTolerance}
}

// InputPower is the light power falling on the cell (W).
func (c Conditions) InputPower() float64 {
	return c.Irradiance * c.Area
}

func (c Conditions) Validate() error {
	if !(c.Irradiance > 0) || math.IsInf(c.Irradiance, 0) {
		return fmt.Errorf("%w: irradiance %g W/m^2 must be positive", errs.ErrInvalidInput, c.Irradiance)
	}
	if !(c.Area > 0) || math.IsInf(c.Area, 0) {
		return fmt.Errorf("%w: area %g m^2 must be positive", errs.ErrInvalidInput, c.Area)
	}
	if p := c.InputPower(); math.IsInf(p, 0) {
		return fmt.Errorf("%w: input power %g W overflows", errs.ErrInvalidInput, p)
	}
	if !(c.ZeroTolerance >= 0) || c.ZeroTolerance > 1 {
		return fmt.Errorf("%w: zero tolerance %g must be in [0, 1]", errs.ErrInvalidInput, c.ZeroTolerance)
	}
	return nil
}

// Scalars are readings taken directly off an instrument.
type Scalars struct {
	Isc  float64 `json:"isc"`  // A
	Voc  float64 `json:"voc"`  // V
	Impp float64 `json:"impp"` // A
	Vmpp float64 `json:"vmpp"` // V
}

type CellMetrics struct {
	Isc               float64 `json:"isc"`
	Voc               float64 `json:"voc"`
	Impp              float64 `json:"impp"`
	Vmpp              float64 `json:"vmpp"`
	Pmax              float64 `json:"pmax"`
	FillFactor        float64 `json:"fill_factor"`
	EfficiencyPercent float64 `json:"efficiency_percent"`
}

// FromCurve reads the MPP, Isc and Voc off a generator-convention sweep
// (positive current in the power quadrant). Use curve.Curve.Inverted for
// sweeps recorded in load convention.
func FromCurve(c curve.Curve, cond Conditions) (CellMetrics, error) {
	if err := cond.Validate(); err != nil {
		return CellMetrics{}, err
	}
	if c.Len() == 0 {
		return CellMetrics{}, fmt.Errorf("%w: empty curve", errs.ErrInvalidInput)
	}

	v, i := c.Voltage(), c.Current()
	power := make([]float64, len(v))
	floats.MulTo(power, v, i)
	mpp := floats.MaxIdx(power)

	isc, err := crossing(v, i, cond.ZeroTolerance)
	if err != nil {
		return CellMetrics{}, fmt.Errorf("short-circuit current: %w", err)
	}
	voc, err := crossing(i, v, cond.ZeroTolerance)
	if err != nil {
		return CellMetrics{}, fmt.Errorf("open-circuit voltage: %w", err)
	}

	return compute(Scalars{Isc: isc, Voc: voc, Impp: i[mpp], Vmpp: v[mpp]}, cond)
}

// FromScalars computes the metrics from readings supplied by hand.
func FromScalars(s Scalars, cond Conditions) (CellMetrics, error) {
	if err := cond.Validate(); err != nil {
		return CellMetrics{}, err
	}
	for _, x := range []float64{s.Isc, s.Voc, s.Impp, s.Vmpp} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return CellMetrics{}, fmt.Errorf("%w: non-finite reading in %+v", errs.ErrInvalidInput, s)
		}
	}
	return compute(s, cond)
}

func compute(s Scalars, cond Conditions) (CellMetrics, error) {
	if s.Isc == 0 || s.Voc == 0 {
		return CellMetrics{}, fmt.Errorf("%w: fill factor undefined for Isc %g A, Voc %g V", errs.ErrDivisionByZero, s.Isc, s.Voc)
	}

	if !(s.Isc*s.Voc > 0) {
		return CellMetrics{}, fmt.Errorf("%w: Isc %g A and Voc %g V lie in different quadrants", errs.ErrInvalidInput, s.Isc, s.Voc)
	}

	pmax := s.Impp * s.Vmpp
	if !(pmax > 0) {
		return CellMetrics{}, fmt.Errorf("%w: maximum power %g W is not positive", errs.ErrInvalidInput, pmax)
	}

	// The maximum power point lies inside the Isc x Voc rectangle.
	ff := pmax / (s.Isc * s.Voc)
	if ff > 1+fillFactorSlack {
		return CellMetrics{}, fmt.Errorf("%w: fill factor %g exceeds 1 (Pmax %g W, Isc*Voc %g W)",
			errs.ErrInvalidInput, ff, pmax, s.Isc*s.Voc)
	}

	return CellMetrics{
		Isc:               s.Isc,
		Voc:               s.Voc,
		Impp:              s.Impp,
		Vmpp:              s.Vmpp,
		Pmax:              pmax,
		FillFactor:        ff,
		EfficiencyPercent: pmax / cond.InputPower() * 100,
	}, nil
}
