// Package errs holds the failure kinds shared by the extraction packages.
// Callers wrap them with fmt.Errorf("...: %w", ...) and test with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidInput reports a malformed or degenerate curve, parameter set or
	// configuration value.
	ErrInvalidInput = errors.New("invalid input")

	// ErrFitDidNotConverge reports an optimizer that exhausted its iterations or
	// could not make progress.
	ErrFitDidNotConverge = errors.New("fit did not converge")

	// ErrInsufficientData reports fewer usable temperature samples than needed.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoZeroCrossing reports that I_sc or V_oc could not be located.
	ErrNoZeroCrossing = errors.New("no zero crossing")

	// ErrDivisionByZero reports an undefined fill factor.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrNumericOverflow reports a non-finite model evaluation.
	ErrNumericOverflow = errors.New("numeric overflow")
)
