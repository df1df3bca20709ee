package figure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/pvparam/pkg/bandgap"
	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
)

func TestIVPlot(t *testing.T) {
	m, err := cell.NewModel(300, cell.DefaultConstants())
	require.NoError(t, err)
	p := cell.Params{Is: 2e-9, N: 1.6, Rs: 0.5, Rp: 2000}

	v := []float64{0, 0.2, 0.4, 0.6, 0.8}
	i, err := m.Evaluate(v, p)
	require.NoError(t, err)
	c, err := curve.New(v, i)
	require.NoError(t, err)

	for _, name := range []string{"iv.png", "iv.svg"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, IVPlot(path, "synthetic", c, m, p))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestArrheniusPlot(t *testing.T) {
	c := cell.DefaultConstants()
	points := []bandgap.Point{
		{Kelvin: 280, Saturation: c.ScaleSaturation(1e-9, 300, 280, 1.12)},
		{Kelvin: 300, Saturation: 1e-9},
		{Kelvin: 320, Saturation: c.ScaleSaturation(1e-9, 300, 320, 1.12)},
	}
	est, err := bandgap.Regress(points, c)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "arrhenius.png")
	require.NoError(t, ArrheniusPlot(path, points, est))
	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, ArrheniusPlot(path, nil, est))
}
