package cell

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/pvparam/pkg/errs"
)

var testParams = Params{Is: 2e-9, N: 1.6, Rs: 0.5, Rp: 2000}

func newTestModel(t *testing.T) *Model {
	m, err := NewModel(300, DefaultConstants())
	require.NoError(t, err)
	return m
}

func sweep(from, to float64, n int) []float64 {
	v := make([]float64, n)
	for k := range v {
		v[k] = from + (to-from)*float64(k)/float64(n-1)
	}
	return v
}

func TestNewModel(t *testing.T) {
	m := newTestModel(t)
	assert.InDelta(t, 0.025852, m.ThermalVoltage(), 1e-6)

	_, err := NewModel(0, DefaultConstants())
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = NewModel(300, Constants{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestEvaluateSatisfiesImplicitEquation(t *testing.T) {
	m := newTestModel(t)
	v := sweep(-0.5, 1.0, 31)

	got, err := m.Evaluate(v, testParams)
	require.NoError(t, err)

	nvt := testParams.N * m.ThermalVoltage()
	for k, i := range got {
		vj := v[k] - testParams.Rs*i
		want := testParams.Is*(math.Exp(vj/nvt)-1) + vj/testParams.Rp
		assert.InDelta(t, want, i, 1e-12+1e-9*math.Abs(want), "V=%g", v[k])
	}
}

func TestEvaluateHighForwardBias(t *testing.T) {
	m := newTestModel(t)
	v := sweep(0, 30, 61)

	for _, p := range []Params{
		testParams,
		{Is: 1e-12, N: 0.5, Rs: 0.01, Rp: 1e6},
		{Is: 1e-6, N: 5, Rs: 100, Rp: 1},
	} {
		got, err := m.Evaluate(v, p)
		require.NoError(t, err)

		nvt := p.N * m.ThermalVoltage()
		for k, i := range got {
			vj := v[k] - p.Rs*i
			want := p.Is*(math.Exp(vj/nvt)-1) + vj/p.Rp
			assert.InDelta(t, want, i, 1e-12+1e-9*math.Abs(want), "%+v at V=%g", p, v[k])
		}
	}
}

func TestEvaluateWithoutSeriesResistance(t *testing.T) {
	m := newTestModel(t)
	p := testParams
	p.Rs = 0

	i, err := m.Current(0.4, p)
	require.NoError(t, err)
	nvt := p.N * m.ThermalVoltage()
	assert.InDelta(t, p.Is*(math.Exp(0.4/nvt)-1)+0.4/p.Rp, i, 1e-15)

	zero, err := m.Current(0, testParams)
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)
}

func TestEvaluateMonotonic(t *testing.T) {
	m := newTestModel(t)
	for _, p := range []Params{
		testParams,
		{Is: 1e-6, N: 1.0, Rs: 0, Rp: 10},
		{Is: 1e-12, N: 2.0, Rs: 50, Rp: 1e6},
	} {
		got, err := m.Evaluate(sweep(-1, 2, 301), p)
		require.NoError(t, err)
		for k := 1; k < len(got); k++ {
			assert.GreaterOrEqual(t, got[k], got[k-1], "params %+v at index %d", p, k)
		}
	}
}

func TestEvaluateClampsExponent(t *testing.T) {
	m := newTestModel(t)
	p := Params{Is: 1e-6, N: 0.5, Rs: 0, Rp: 1000}

	// 30 V over N*Vt is far beyond MaxExpArg.
	i, err := m.Current(30, p)
	require.NoError(t, err)
	assert.InDelta(t, p.Is*(math.Exp(MaxExpArg)-1)+30/p.Rp, i, 1e290)
	assert.False(t, math.IsInf(i, 0))

	// Large enough Is pushes the clamped result past float64.
	_, err = m.Current(30, Params{Is: 1e10, N: 0.5, Rs: 0, Rp: 1000})
	assert.ErrorIs(t, err, errs.ErrNumericOverflow)
}

func TestEvaluateRejectsInvalidParams(t *testing.T) {
	m := newTestModel(t)
	for name, p := range map[string]Params{
		"zero Is":     {Is: 0, N: 1, Rs: 1, Rp: 1},
		"negative N":  {Is: 1e-9, N: -1, Rs: 1, Rp: 1},
		"negative Rs": {Is: 1e-9, N: 1, Rs: -1, Rp: 1},
		"zero Rp":     {Is: 1e-9, N: 1, Rs: 1, Rp: 0},
		"nan":         {Is: math.NaN(), N: 1, Rs: 1, Rp: 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Evaluate([]float64{0.1}, p)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
}

func TestJacobianMatchesFiniteDifference(t *testing.T) {
	m := newTestModel(t)
	x := testParams.Slice()

	for _, v := range []float64{-0.2, 0.1, 0.45, 0.7} {
		i, grad := m.Jacobian(v, testParams)
		want, err := m.Current(v, testParams)
		require.NoError(t, err)
		assert.InDelta(t, want, i, 1e-15)

		for j := range x {
			h := 1e-6 * x[j]
			up := append([]float64(nil), x...)
			dn := append([]float64(nil), x...)
			up[j] += h
			dn[j] -= h
			iu, err := m.Current(v, ParamsFromSlice(up))
			require.NoError(t, err)
			id, err := m.Current(v, ParamsFromSlice(dn))
			require.NoError(t, err)

			fd := (iu - id) / (2 * h)
			assert.InDelta(t, fd, grad[j], 1e-5*math.Abs(fd)+1e-12, "V=%g param %d", v, j)
		}
	}
}

func TestScaleSaturation(t *testing.T) {
	c := DefaultConstants()
	assert.InDelta(t, 1e-9, c.ScaleSaturation(1e-9, 300, 300, 1.12), 1e-24)

	hot := c.ScaleSaturation(1e-9, 300, 310, 1.12)
	assert.Greater(t, hot, 1e-9)

	// ln(Is/T^3) against 1/T has slope -Eg*q/k.
	slope := (math.Log(hot/(310*310*310)) - math.Log(1e-9/(300*300*300))) / (1.0/310 - 1.0/300)
	assert.InDelta(t, -1.12*c.Charge/c.Boltzmann, slope, 1e-6*1.12*c.Charge/c.Boltzmann)
}
