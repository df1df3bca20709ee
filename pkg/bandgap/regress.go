package bandgap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/errs"
)

// Point is a fitted saturation current at one temperature.
type Point struct {
	Kelvin     float64 `json:"kelvin"`
	Saturation float64 `json:"saturation"` // A
}

// Estimate is the Arrhenius fit ln(Is/T^3) = Slope/T + Intercept.
type Estimate struct {
	EnergyEV    float64 `json:"energy_ev"`
	EnergyJoule float64 `json:"energy_joule"`
	Slope       float64 `json:"slope"` // K
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"r_squared"`
	Points      int     `json:"points"`
}

// Arrhenius returns the regression coordinates x = 1/T and y = ln(Is/T^3).
func Arrhenius(points []Point) (x, y []float64) {
	x = make([]float64, len(points))
	y = make([]float64, len(points))
	for k, p := range points {
		x[k] = 1 / p.Kelvin
		y[k] = math.Log(p.Saturation / (p.Kelvin * p.Kelvin * p.Kelvin))
	}
	return x, y
}

// Regress derives the bandgap from saturation currents fitted elsewhere.
func Regress(points []Point, c cell.Constants) (Estimate, error) {
	if err := c.Validate(); err != nil {
		return Estimate{}, err
	}
	if len(points) < 2 {
		return Estimate{}, fmt.Errorf("%w: %d temperature points, need at least 2", errs.ErrInsufficientData, len(points))
	}

	seen := make(map[float64]bool, len(points))
	for _, p := range points {
		switch {
		case !(p.Kelvin > 0) || math.IsInf(p.Kelvin, 0):
			return Estimate{}, fmt.Errorf("%w: temperature %g K must be positive", errs.ErrInvalidInput, p.Kelvin)
		case !(p.Saturation > 0) || math.IsInf(p.Saturation, 0):
			return Estimate{}, fmt.Errorf("%w: saturation current %g at %g K must be positive", errs.ErrInvalidInput, p.Saturation, p.Kelvin)
		case seen[p.Kelvin]:
			return Estimate{}, fmt.Errorf("%w: duplicate temperature %g K", errs.ErrInvalidInput, p.Kelvin)
		}
		seen[p.Kelvin] = true
	}

	x, y := Arrhenius(points)
	intercept, slope := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return Estimate{}, fmt.Errorf("%w: degenerate regression", errs.ErrNumericOverflow)
	}

	joule := -slope * c.Boltzmann
	est := Estimate{
		EnergyEV:    joule / c.Charge,
		EnergyJoule: joule,
		Slope:       slope,
		Intercept:   intercept,
		RSquared:    1,
		Points:      len(points),
	}
	// Two points always lie on the line; stat.RSquared divides by zero there
	// only when y has no spread.
	if r2 := stat.RSquared(x, y, nil, intercept, slope); !math.IsNaN(r2) {
		est.RSquared = r2
	}
	return est, nil
}
