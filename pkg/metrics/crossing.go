package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/pvparam/pkg/errs"
)

// crossing returns y where x reaches zero, scanning samples in order: an exact
// zero first, then linear interpolation across the first sign change, then
// the sample nearest to zero if it lies within tol of the span of x.
func crossing(x, y []float64, tol float64) (float64, error) {
	for k := range x {
		if x[k] == 0 {
			return y[k], nil
		}
	}

	for k := 1; k < len(x); k++ {
		x0, x1 := x[k-1], x[k]
		if math.Signbit(x0) != math.Signbit(x1) {
			return y[k-1] + (y[k]-y[k-1])*(0-x0)/(x1-x0), nil
		}
	}

	nearest := 0
	for k := range x {
		if math.Abs(x[k]) < math.Abs(x[nearest]) {
			nearest = k
		}
	}
	span := floats.Max(x) - floats.Min(x)
	if span > 0 && math.Abs(x[nearest]) <= tol*span {
		return y[nearest], nil
	}
	return 0, fmt.Errorf("%w: closest sample %g is outside the %g tolerance", errs.ErrNoZeroCrossing, x[nearest], tol)
}
