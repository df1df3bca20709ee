// Package curve holds measured current-voltage sweeps and the tabular reader
// that produces them.
package curve

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/pvparam/pkg/errs"
)

// MinPoints is the smallest sweep that can constrain the four model parameters.
const MinPoints = 4

type Point struct {
	V float64 // Voltage (V)
	I float64 // Current (A)
}

// Curve is an I-V sweep ordered by ascending voltage. The zero value is an
// empty curve; use New or FromPoints to build a valid one.
type Curve struct {
	v []float64
	i []float64
}

// New copies the given columns, sorts them by voltage (stable, so repeated
// voltages keep their measured order) and validates the result.
func New(voltage, current []float64) (Curve, error) {
	if len(voltage) != len(current) {
		return Curve{}, fmt.Errorf("%w: %d voltages but %d currents", errs.ErrInvalidInput, len(voltage), len(current))
	}

	pts := make([]Point, len(voltage))
	for k := range voltage {
		pts[k] = Point{V: voltage[k], I: current[k]}
	}
	return FromPoints(pts)
}

func FromPoints(pts []Point) (Curve, error) {
	if len(pts) < MinPoints {
		return Curve{}, fmt.Errorf("%w: curve has %d samples, need at least %d", errs.ErrInvalidInput, len(pts), MinPoints)
	}

	for k, p := range pts {
		if !finite(p.V) || !finite(p.I) {
			return Curve{}, fmt.Errorf("%w: sample %d is not finite (V=%g, I=%g)", errs.ErrInvalidInput, k, p.V, p.I)
		}
	}

	sorted := make([]Point, len(pts))
	copy(sorted, pts)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].V < sorted[b].V })

	c := Curve{
		v: make([]float64, len(sorted)),
		i: make([]float64, len(sorted)),
	}
	for k, p := range sorted {
		c.v[k] = p.V
		c.i[k] = p.I
	}
	return c, nil
}

func (c Curve) Len() int { return len(c.v) }

func (c Curve) At(k int) Point { return Point{V: c.v[k], I: c.i[k]} }

// Voltage returns a copy of the voltage column.
func (c Curve) Voltage() []float64 {
	out := make([]float64, len(c.v))
	copy(out, c.v)
	return out
}

// Current returns a copy of the current column.
func (c Curve) Current() []float64 {
	out := make([]float64, len(c.i))
	copy(out, c.i)
	return out
}

// Points returns the samples in voltage order.
func (c Curve) Points() []Point {
	out := make([]Point, len(c.v))
	for k := range c.v {
		out[k] = Point{V: c.v[k], I: c.i[k]}
	}
	return out
}

// Inverted flips the sign of every current, turning a load-convention sweep
// (negative photocurrent) into a generator-convention one and back.
func (c Curve) Inverted() Curve {
	out := Curve{v: c.Voltage(), i: c.Current()}
	floats.Scale(-1, out.i)
	return out
}

// CheckFittable rejects sweeps a fitter cannot constrain: too few samples or a
// column with no spread.
func (c Curve) CheckFittable() error {
	if c.Len() < MinPoints {
		return fmt.Errorf("%w: curve has %d samples, need at least %d", errs.ErrInvalidInput, c.Len(), MinPoints)
	}
	if floats.Max(c.v) == floats.Min(c.v) {
		return fmt.Errorf("%w: voltage column has zero variance", errs.ErrInvalidInput)
	}
	if floats.Max(c.i) == floats.Min(c.i) {
		return fmt.Errorf("%w: current column has zero variance", errs.ErrInvalidInput)
	}
	return nil
}

// TemperatureSample is a sweep measured at a fixed cell temperature.
type TemperatureSample struct {
	Kelvin float64
	Curve  Curve
}

func NewTemperatureSample(kelvin float64, c Curve) (TemperatureSample, error) {
	if !finite(kelvin) || kelvin <= 0 {
		return TemperatureSample{}, fmt.Errorf("%w: temperature %g K must be positive", errs.ErrInvalidInput, kelvin)
	}
	if c.Len() < MinPoints {
		return TemperatureSample{}, fmt.Errorf("%w: sample at %g K has %d points", errs.ErrInvalidInput, kelvin, c.Len())
	}
	return TemperatureSample{Kelvin: kelvin, Curve: c}, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
