// Package matrix assembles and solves the damped normal equations of a
// least-squares step on top of the sparse LU solver.
package matrix

import (
	"fmt"
	"log/slog"

	"github.com/edp1096/sparse"
)

// System is what a least-squares step writes into. Indices are 1-based.
type System interface {
	AddElement(i, j int, value float64)
	AddRHS(i int, value float64)
}

type NormalMatrix struct {
	Size     int
	matrix   *sparse.Matrix
	rhs      []float64
	solution []float64
	elements [][]*sparse.Element // External indices; stable across reordering
	config   *sparse.Configuration
}

func NewNormalMatrix(size int) (*NormalMatrix, error) {
	if size < 1 {
		return nil, fmt.Errorf("matrix size must be positive, got %d", size)
	}

	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               true,
		ModifiedNodal:           false,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %v", err)
	}

	m := &NormalMatrix{
		Size:     size,
		matrix:   mat,
		rhs:      make([]float64, size+1), // 1-based indexing
		solution: make([]float64, size+1),
		config:   config,
	}
	m.setupElements()
	return m, nil
}

// setupElements allocates every entry up front; normal matrices are dense.
// Once factored the matrix is reordered, so later loads go through the
// cached pointers rather than GetElement or Diags.
func (m *NormalMatrix) setupElements() {
	m.elements = make([][]*sparse.Element, m.Size+1)
	for i := 1; i <= m.Size; i++ {
		m.elements[i] = make([]*sparse.Element, m.Size+1)
		for j := 1; j <= m.Size; j++ {
			m.elements[i][j] = m.matrix.GetElement(int64(i), int64(j))
		}
	}
}

func (m *NormalMatrix) AddElement(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > m.Size || j > m.Size {
		slog.Warn("matrix index out of bounds", "i", i, "j", j, "size", m.Size)
		return
	}
	m.elements[i][j].Real += value
}

func (m *NormalMatrix) AddRHS(i int, value float64) {
	if i <= 0 || i > m.Size {
		slog.Warn("rhs index out of bounds", "i", i, "size", m.Size)
		return
	}
	m.rhs[i] += value
}

// LoadDamping adds lambda*scale[i-1] to each diagonal entry, the
// Levenberg-Marquardt counterpart of loading gmin onto a circuit matrix.
func (m *NormalMatrix) LoadDamping(lambda float64, scale []float64) {
	for i := 1; i <= m.Size; i++ {
		m.elements[i][i].Real += lambda * scale[i-1]
	}
}

func (m *NormalMatrix) Clear() {
	m.matrix.Clear()
	for i := range m.rhs {
		m.rhs[i] = 0
	}
}

func (m *NormalMatrix) Solve() error {
	var err error

	err = m.matrix.Factor()
	if err != nil {
		return fmt.Errorf("matrix factorization failed: %v", err)
	}

	m.solution, err = m.matrix.Solve(m.rhs)
	if err != nil {
		return fmt.Errorf("matrix solve failed: %v", err)
	}

	return nil
}

func (m *NormalMatrix) RHS() []float64 {
	return m.rhs
}

// Solution is 1-based, like the right-hand side.
func (m *NormalMatrix) Solution() []float64 {
	return m.solution
}

func (m *NormalMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
