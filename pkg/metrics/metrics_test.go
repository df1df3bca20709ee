package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
)

func mustCurve(t *testing.T, v, i []float64) curve.Curve {
	c, err := curve.New(v, i)
	require.NoError(t, err)
	return c
}

func TestFromCurve(t *testing.T) {
	c := mustCurve(t, []float64{0, 0.1, 0.2, 0.3, 0.4}, []float64{0.5, 0.48, 0.40, 0.20, 0.0})

	m, err := FromCurve(c, DefaultConditions())
	require.NoError(t, err)
	assert.Equal(t, 0.2, m.Vmpp)
	assert.Equal(t, 0.40, m.Impp)
	assert.InDelta(t, 0.08, m.Pmax, 1e-12)
	assert.Equal(t, 0.5, m.Isc)
	assert.Equal(t, 0.4, m.Voc)
	assert.InDelta(t, 0.40, m.FillFactor, 1e-12)
	assert.InDelta(t, 0.80, m.EfficiencyPercent, 1e-12)
}

func TestFromCurveRectangular(t *testing.T) {
	c := mustCurve(t, []float64{0, 0.25, 0.5, 0.5}, []float64{1, 1, 1, 0})

	m, err := FromCurve(c, DefaultConditions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.FillFactor, 1e-12)
	assert.Equal(t, 0.5, m.Vmpp)
}

func TestFromCurveInterpolates(t *testing.T) {
	c := mustCurve(t, []float64{-0.1, 0.1, 0.2, 0.3, 0.45}, []float64{0.52, 0.48, 0.40, 0.20, -0.10})

	m, err := FromCurve(c, DefaultConditions())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.Isc, 1e-12)
	assert.InDelta(t, 0.4, m.Voc, 1e-12)
	assert.InDelta(t, 0.40, m.FillFactor, 1e-12)
}

func TestFromCurveNearestSample(t *testing.T) {
	c := mustCurve(t, []float64{0.01, 0.1, 0.2, 0.3, 0.4}, []float64{0.5, 0.48, 0.40, 0.20, 0.0})

	_, err := FromCurve(c, DefaultConditions())
	assert.ErrorIs(t, err, errs.ErrNoZeroCrossing)

	cond := DefaultConditions()
	cond.ZeroTolerance = 0.05
	m, err := FromCurve(c, cond)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Isc)
}

func TestFromCurveNoOpenCircuit(t *testing.T) {
	c := mustCurve(t, []float64{0, 0.1, 0.2, 0.3}, []float64{0.5, 0.49, 0.48, 0.47})

	_, err := FromCurve(c, DefaultConditions())
	assert.ErrorIs(t, err, errs.ErrNoZeroCrossing)
}

func TestFromCurveZeroShortCircuit(t *testing.T) {
	c := mustCurve(t, []float64{0, 0.1, 0.2, 0.3}, []float64{0, 0.1, 0.2, 0.3})

	_, err := FromCurve(c, DefaultConditions())
	assert.ErrorIs(t, err, errs.ErrDivisionByZero)
}

func TestFromCurveLoadConvention(t *testing.T) {
	c := mustCurve(t, []float64{0, 0.1, 0.2, 0.3, 0.4}, []float64{-0.5, -0.48, -0.40, -0.20, 0.0})

	_, err := FromCurve(c, DefaultConditions())
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	m, err := FromCurve(c.Inverted(), DefaultConditions())
	require.NoError(t, err)
	assert.InDelta(t, 0.40, m.FillFactor, 1e-12)
}

func TestConditionsValidate(t *testing.T) {
	cases := map[string]Conditions{
		"zero irradiance":    {Irradiance: 0, Area: 0.01},
		"negative area":      {Irradiance: 1000, Area: -1},
		"negative tolerance": {Irradiance: 1000, Area: 0.01, ZeroTolerance: -0.1},
		"both negative":      {Irradiance: -1000, Area: -0.01},
	}
	c := mustCurve(t, []float64{0, 0.1, 0.2, 0.3, 0.4}, []float64{0.5, 0.48, 0.40, 0.20, 0.0})
	for name, cond := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cond.Validate(), errs.ErrInvalidInput)
			_, err := FromCurve(c, cond)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
}

func TestFromScalars(t *testing.T) {
	cond := Conditions{Irradiance: 1000, Area: 0.01}

	m, err := FromScalars(Scalars{Isc: 0.5, Voc: 0.6, Impp: 0.45, Vmpp: 0.5}, cond)
	require.NoError(t, err)
	assert.InDelta(t, 0.225, m.Pmax, 1e-12)
	assert.InDelta(t, 0.75, m.FillFactor, 1e-12)
	assert.InDelta(t, 2.25, m.EfficiencyPercent, 1e-12)

	_, err = FromScalars(Scalars{Isc: 0, Voc: 0.6, Impp: 0.45, Vmpp: 0.5}, cond)
	assert.ErrorIs(t, err, errs.ErrDivisionByZero)

	_, err = FromScalars(Scalars{Isc: 0.5, Voc: 0.6, Impp: 0.45, Vmpp: 0.5}, Conditions{Irradiance: 1000})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	// Fill factor must stay in (0, 1].
	_, err = FromScalars(Scalars{Isc: -0.5, Voc: 0.4, Impp: 0.4, Vmpp: 0.2}, cond)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = FromScalars(Scalars{Isc: 0.3, Voc: 0.4, Impp: 0.5, Vmpp: 0.35}, cond)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	m, err = FromScalars(Scalars{Isc: 0.5, Voc: 0.6, Impp: 0.5, Vmpp: 0.6}, cond)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.FillFactor, 1e-12)
}
