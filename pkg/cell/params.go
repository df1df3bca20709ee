package cell

import (
	"fmt"
	"math"

	"github.com/edp1096/pvparam/internal/consts"
	"github.com/edp1096/pvparam/pkg/errs"
)

// Params are the single-diode model parameters.
type Params struct {
	Is float64 `json:"is"` // Saturation current (A)
	N  float64 `json:"n"`  // Ideality factor
	Rs float64 `json:"rs"` // Series resistance (Ohm)
	Rp float64 `json:"rp"` // Parallel (shunt) resistance (Ohm)
}

// Validate checks the physical domain of every parameter.
func (p Params) Validate() error {
	for _, v := range p.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite parameter in %+v", errs.ErrInvalidInput, p)
		}
	}

	switch {
	case p.Is <= 0:
		return fmt.Errorf("%w: saturation current %g must be positive", errs.ErrInvalidInput, p.Is)
	case p.N <= 0:
		return fmt.Errorf("%w: ideality factor %g must be positive", errs.ErrInvalidInput, p.N)
	case p.Rs < 0:
		return fmt.Errorf("%w: series resistance %g must not be negative", errs.ErrInvalidInput, p.Rs)
	case p.Rp <= 0:
		return fmt.Errorf("%w: parallel resistance %g must be positive", errs.ErrInvalidInput, p.Rp)
	}
	return nil
}

// Slice returns the parameters in the order Is, N, Rs, Rp.
func (p Params) Slice() []float64 {
	return []float64{p.Is, p.N, p.Rs, p.Rp}
}

// ParamsFromSlice is the inverse of Params.Slice.
func ParamsFromSlice(x []float64) Params {
	return Params{Is: x[0], N: x[1], Rs: x[2], Rp: x[3]}
}

// Constants are the physical constants the model and the bandgap regression
// are built on. They are passed explicitly so tests can pin them.
type Constants struct {
	Charge    float64 // Elementary charge (C)
	Boltzmann float64 // Boltzmann constant (J/K)
}

func DefaultConstants() Constants {
	return Constants{Charge: consts.CHARGE, Boltzmann: consts.BOLTZMANN}
}

func (c Constants) Validate() error {
	if !(c.Charge > 0) || !(c.Boltzmann > 0) {
		return fmt.Errorf("%w: physical constants must be positive (%+v)", errs.ErrInvalidInput, c)
	}
	return nil
}

// ScaleSaturation moves a saturation current measured at tRef to t, assuming
// Is ∝ T^3 * exp(-Eg/(k*T)) with the bandgap eg given in eV.
func (c Constants) ScaleSaturation(is, tRef, t, eg float64) float64 {
	ratio := t / tRef
	egfact := -eg * c.Charge / c.Boltzmann * (1/t - 1/tRef)
	return is * ratio * ratio * ratio * math.Exp(egfact)
}
