// Package figure renders I-V sweeps and Arrhenius fits with gonum/plot.
package figure

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/edp1096/pvparam/pkg/bandgap"
	"github.com/edp1096/pvparam/pkg/cell"
	"github.com/edp1096/pvparam/pkg/curve"
	"github.com/edp1096/pvparam/pkg/errs"
)

const (
	width  = 6 * vg.Inch
	height = 4 * vg.Inch
	steps  = 200 // fitted-curve resolution
)

var fitColor = color.RGBA{R: 200, A: 255}

// IVPlot draws the measured sweep as points and the fitted model as a line,
// with current in mA. The format follows the extension of path (png, svg,
// pdf, ...).
func IVPlot(path, title string, c curve.Curve, m *cell.Model, p cell.Params) error {
	plt := plot.New()
	plt.Title.Text = title
	plt.X.Label.Text = "Voltage (V)"
	plt.Y.Label.Text = "Current (mA)"
	plt.Add(plotter.NewGrid())

	measured := make(plotter.XYs, c.Len())
	for k := range measured {
		pt := c.At(k)
		measured[k].X, measured[k].Y = pt.V, pt.I*1e3
	}
	scatter, err := plotter.NewScatter(measured)
	if err != nil {
		return fmt.Errorf("measured points: %w", err)
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}

	v := c.Voltage()
	lo, hi := v[0], v[len(v)-1]
	fine := make([]float64, steps+1)
	for k := range fine {
		fine[k] = lo + (hi-lo)*float64(k)/steps
	}
	modeled, err := m.Evaluate(fine, p)
	if err != nil {
		return fmt.Errorf("fitted curve: %w", err)
	}
	fitted := make(plotter.XYs, len(fine))
	for k := range fitted {
		fitted[k].X, fitted[k].Y = fine[k], modeled[k]*1e3
	}
	line, err := plotter.NewLine(fitted)
	if err != nil {
		return fmt.Errorf("fitted curve: %w", err)
	}
	line.Color = fitColor

	plt.Add(scatter, line)
	plt.Legend.Add("Data", scatter)
	plt.Legend.Add("Fit", line)
	plt.Legend.Top = true
	plt.Legend.Left = true

	return plt.Save(width, height, path)
}

// ArrheniusPlot draws ln(Is/T^3) against 1/T with the regression line.
func ArrheniusPlot(path string, points []bandgap.Point, est bandgap.Estimate) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: no points to plot", errs.ErrInvalidInput)
	}

	plt := plot.New()
	plt.Title.Text = fmt.Sprintf("Bandgap %.3f eV", est.EnergyEV)
	plt.X.Label.Text = "1/T (1/K)"
	plt.Y.Label.Text = "ln(Is/T^3)"
	plt.Add(plotter.NewGrid())

	x, y := bandgap.Arrhenius(points)
	xys := make(plotter.XYs, len(x))
	for k := range xys {
		xys[k].X, xys[k].Y = x[k], y[k]
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("arrhenius points: %w", err)
	}

	regression := plotter.NewFunction(func(x float64) float64 { return est.Slope*x + est.Intercept })
	regression.Color = fitColor

	xmin, xmax, _, _ := plotter.XYRange(xys)
	plt.X.Min, plt.X.Max = xmin, xmax
	plt.Add(scatter, regression)
	plt.Legend.Add("Fitted Is", scatter)
	plt.Legend.Add("Regression", regression)

	return plt.Save(width, height, path)
}
