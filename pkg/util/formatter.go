package util

import (
	"fmt"
	"math"

	"github.com/edp1096/pvparam/internal/consts"
)

func FormatValueFactor(value float64, unit string) string {
	absValue := math.Abs(value)
	switch {
	case absValue >= 1e6:
		return fmt.Sprintf("%.3f M%s", value/1e6, unit)
	case absValue >= 1e3:
		return fmt.Sprintf("%.3f k%s", value/1e3, unit)
	case absValue >= 1:
		return fmt.Sprintf("%.3f %s", value, unit)
	case absValue >= 1e-3:
		return fmt.Sprintf("%.3f m%s", value*1e3, unit)
	case absValue >= 1e-6:
		return fmt.Sprintf("%.3f u%s", value*1e6, unit)
	case absValue >= 1e-9:
		return fmt.Sprintf("%.3f n%s", value*1e9, unit)
	case absValue >= 1e-12:
		return fmt.Sprintf("%.3f p%s", value*1e12, unit)
	case absValue == 0:
		return fmt.Sprintf("0.000 %s", unit)
	default:
		return fmt.Sprintf("%.3e %s", value, unit)
	}
}

// FormatMagnitude prints a dimensionless value, switching to exponent form
// outside [0.001, 1000).
func FormatMagnitude(value float64) string {
	absValue := math.Abs(value)
	if absValue >= 1000 || (absValue < 0.001 && value != 0) {
		return fmt.Sprintf("%8.2e", value) // "1.00e+03" or "5.43e-05"
	}
	return fmt.Sprintf("%8.4g", value) // "  0.7325"
}

func FormatTemperature(kelvin float64) string {
	return fmt.Sprintf("%.2f K (%.2f C)", kelvin, kelvin-consts.KELVIN)
}

func FormatPercent(value float64) string {
	return fmt.Sprintf("%.2f %%", value)
}
