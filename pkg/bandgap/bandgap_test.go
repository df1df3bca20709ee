package bandgap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
	"github.com/edp1096/pvparam/pkg/log"
)

const testGap = 1.12 // eV

// sampleAt synthesises a sweep at kelvin with Is scaled from 1e-9 A at 300 K.
func sampleAt(t *testing.T, kelvin float64) curve.TemperatureSample {
	c := cell.DefaultConstants()
	p := cell.Params{Is: c.ScaleSaturation(1e-9, 300, kelvin, testGap), N: 1.5, Rs: 0.8, Rp: 3000}

	m, err := cell.NewModel(kelvin, c)
	require.NoError(t, err)
	v := make([]float64, 41)
	for k := range v {
		v[k] = 0.8 * float64(k) / 40
	}
	i, err := m.Evaluate(v, p)
	require.NoError(t, err)
	iv, err := curve.New(v, i)
	require.NoError(t, err)
	s, err := curve.NewTemperatureSample(kelvin, iv)
	require.NoError(t, err)
	return s
}

func flatSample(t *testing.T, kelvin float64) curve.TemperatureSample {
	iv, err := curve.New([]float64{0, 0.1, 0.2, 0.3, 0.4}, []float64{1e-6, 1e-6, 1e-6, 1e-6, 1e-6})
	require.NoError(t, err)
	s, err := curve.NewTemperatureSample(kelvin, iv)
	require.NoError(t, err)
	return s
}

func newTestAggregator(t *testing.T, parallelism int) *Aggregator {
	opts := DefaultOptions()
	opts.Parallelism = parallelism
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

func TestEstimateRecoversBandgap(t *testing.T) {
	for _, temps := range [][]float64{
		{320, 280, 300},
		{291.15, 293.15, 295.15},
	} {
		for _, parallelism := range []int{1, 0} {
			samples := make([]curve.TemperatureSample, len(temps))
			for k, kelvin := range temps {
				samples[k] = sampleAt(t, kelvin)
			}

			report, err := newTestAggregator(t, parallelism).Estimate(context.Background(), samples)
			require.NoError(t, err)
			assert.InDelta(t, testGap, report.Estimate.EnergyEV, 1e-3)
			assert.InDelta(t, report.Estimate.EnergyEV*cell.DefaultConstants().Charge, report.Estimate.EnergyJoule, 1e-25)
			assert.InDelta(t, 1, report.Estimate.RSquared, 1e-9)
			assert.Equal(t, 3, report.Estimate.Points)
			assert.Empty(t, report.Failures)
			require.NoError(t, report.Errors())

			require.Len(t, report.Fits, 3)
			for k := 1; k < len(report.Fits); k++ {
				assert.Less(t, report.Fits[k-1].Kelvin, report.Fits[k].Kelvin)
			}
		}
	}
}

func TestEstimateSkipsFailedSample(t *testing.T) {
	samples := []curve.TemperatureSample{
		sampleAt(t, 280),
		flatSample(t, 290),
		sampleAt(t, 300),
		sampleAt(t, 320),
	}

	var buf bytes.Buffer
	ctx := log.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	report, err := newTestAggregator(t, 2).Estimate(ctx, samples)
	require.NoError(t, err)
	assert.InDelta(t, testGap, report.Estimate.EnergyEV, 1e-3)
	assert.Contains(t, buf.String(), `"msg":"temperature sample skipped"`)
	assert.Contains(t, buf.String(), `"kelvin":290`)
	assert.Len(t, report.Fits, 3)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 290.0, report.Failures[0].Kelvin)
	assert.ErrorIs(t, report.Failures[0].Err, errs.ErrInvalidInput)
	assert.ErrorIs(t, report.Errors(), errs.ErrInvalidInput)
}

func TestEstimateInsufficientData(t *testing.T) {
	a := newTestAggregator(t, 1)
	ctx := context.Background()

	report, err := a.Estimate(ctx, []curve.TemperatureSample{sampleAt(t, 300), flatSample(t, 310)})
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
	assert.Len(t, report.Fits, 1)
	assert.Len(t, report.Failures, 1)
	assert.Zero(t, report.Estimate)

	_, err = a.Estimate(ctx, []curve.TemperatureSample{sampleAt(t, 300)})
	assert.ErrorIs(t, err, errs.ErrInsufficientData)

	_, err = a.Estimate(ctx, nil)
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
}

func TestEstimateRejectsDuplicateTemperature(t *testing.T) {
	_, err := newTestAggregator(t, 1).Estimate(context.Background(), []curve.TemperatureSample{
		sampleAt(t, 300), sampleAt(t, 320), sampleAt(t, 300),
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestEstimateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAggregator(t, 1).Estimate(ctx, []curve.TemperatureSample{sampleAt(t, 300), sampleAt(t, 320)})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewValidatesOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Parallelism = -1
	_, err := New(opts)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	opts = DefaultOptions()
	opts.Constants.Boltzmann = 0
	_, err = New(opts)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestRegress(t *testing.T) {
	c := cell.DefaultConstants()
	points := []Point{
		{Kelvin: 300, Saturation: 1e-9},
		{Kelvin: 350, Saturation: c.ScaleSaturation(1e-9, 300, 350, 0.7)},
	}

	est, err := Regress(points, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, est.EnergyEV, 1e-9)
	assert.InDelta(t, -0.7*c.Charge/c.Boltzmann, est.Slope, 1e-6)
	assert.Equal(t, 2, est.Points)

	cases := map[string]struct {
		points []Point
		err    error
	}{
		"single point":         {points[:1], errs.ErrInsufficientData},
		"duplicate":            {[]Point{points[0], points[0]}, errs.ErrInvalidInput},
		"zero saturation":      {[]Point{points[0], {Kelvin: 350}}, errs.ErrInvalidInput},
		"negative temperature": {[]Point{points[0], {Kelvin: -1, Saturation: 1e-9}}, errs.ErrInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Regress(tc.points, c)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}
