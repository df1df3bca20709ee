// Package cell evaluates the single-diode equivalent circuit of a solar cell.
//
// The model is the implicit form
//
//	I = Is*(exp(Vj/(N*Vt)) - 1) + Vj/Rp,   Vj = V - Rs*I,   Vt = k*T/q
//
// with I the current flowing into the cell (dark, forward positive). Every
// point is solved for the junction voltage Vj; no explicit approximation of
// the series drop is made.
package cell

import (
	"fmt"
	"math"

	"github.com/edp1096/pvparam/pkg/errs"
)

// MaxExpArg caps the diode exponent before math.Exp.
const MaxExpArg = 700.0

type Model struct {
	Temp      float64 // Cell temperature (K)
	Constants Constants

	convergence struct {
		maxIter int
		abstol  float64 // Junction voltage absolute tolerance (V)
		reltol  float64
	}
}

func NewModel(kelvin float64, c Constants) (*Model, error) {
	if math.IsNaN(kelvin) || math.IsInf(kelvin, 0) || kelvin <= 0 {
		return nil, fmt.Errorf("%w: temperature %g K must be positive", errs.ErrInvalidInput, kelvin)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	m := &Model{Temp: kelvin, Constants: c}
	m.convergence.maxIter = 200
	m.convergence.abstol = 1e-15
	m.convergence.reltol = 1e-13
	return m, nil
}

// ThermalVoltage returns k*T/q.
func (m *Model) ThermalVoltage() float64 {
	return m.Constants.Boltzmann * m.Temp / m.Constants.Charge
}

// Evaluate returns the model current at every voltage.
func (m *Model) Evaluate(v []float64, p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := make([]float64, len(v))
	for k, vk := range v {
		i := m.current(vk, p)
		if math.IsNaN(i) || math.IsInf(i, 0) {
			return nil, fmt.Errorf("%w: current at V=%g with %+v", errs.ErrNumericOverflow, vk, p)
		}
		out[k] = i
	}
	return out, nil
}

// Current evaluates a single point.
func (m *Model) Current(v float64, p Params) (float64, error) {
	out, err := m.Evaluate([]float64{v}, p)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// Jacobian returns the model current at v and its partial derivatives with
// respect to Is, N, Rs and Rp, in that order.
func (m *Model) Jacobian(v float64, p Params) (float64, [4]float64) {
	vj := m.junctionVoltage(v, p)
	d := m.diode(vj, p)

	i := d.current
	den := 1 + p.Rs*d.conductance

	var grad [4]float64
	grad[0] = (d.exp - 1) / den
	grad[1] = d.dN / den
	grad[2] = -d.conductance * i / den
	grad[3] = -vj / (p.Rp * p.Rp) / den
	return i, grad
}

func (m *Model) current(v float64, p Params) float64 {
	return m.diode(m.junctionVoltage(v, p), p).current
}

type diodeState struct {
	exp         float64 // exp(Vj/(N*Vt)), clamped
	current     float64 // Is*(exp-1) + Vj/Rp
	conductance float64 // dI/dVj
	dN          float64 // dI/dN at fixed Vj
}

func (m *Model) diode(vj float64, p Params) diodeState {
	nvt := p.N * m.ThermalVoltage()

	arg := vj / nvt
	clamped := arg > MaxExpArg
	if clamped {
		arg = MaxExpArg
	}
	evd := math.Exp(arg)

	s := diodeState{
		exp:         evd,
		current:     p.Is*(evd-1.0) + vj/p.Rp,
		conductance: 1.0 / p.Rp,
	}
	if !clamped {
		s.conductance += p.Is * evd / nvt
		s.dN = -p.Is * evd * arg / p.N
	}
	return s
}

// junctionVoltage solves Vj + Rs*g(Vj) = V. The root lies between 0 and V;
// Newton steps from the upper end of the bracket, falling back to bisection
// whenever a step leaves it. NaN means the iteration did not settle.
func (m *Model) junctionVoltage(v float64, p Params) float64 {
	if p.Rs == 0 || v == 0 {
		return v
	}

	lo, hi := math.Min(0, v), math.Max(0, v)
	if v > 0 {
		// The diode cannot carry more than V/Rs, so Is*(exp(Vj/(N*Vt))-1) <= V/Rs.
		// Starting far above this costs one N*Vt of progress per Newton step.
		arg := math.Log1p(v / (p.Rs * p.Is))
		if bound := p.N * m.ThermalVoltage() * arg; bound < hi && arg <= MaxExpArg {
			hi = bound
		}
	}
	x := hi
	for range m.convergence.maxIter {
		d := m.diode(x, p)
		f := x + p.Rs*d.current - v
		if f == 0 {
			return x
		}
		if f > 0 {
			hi = x
		} else {
			lo = x
		}

		next := x - f/(1+p.Rs*d.conductance)
		if next < lo || next > hi {
			next = 0.5 * (lo + hi)
		}

		if math.Abs(next-x) <= m.convergence.reltol*math.Abs(next)+m.convergence.abstol {
			return next
		}
		x = next
	}
	return math.NaN()
}
