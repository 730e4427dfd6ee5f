// Package matrix provides the dense float64 buffers that computation nodes
// use for function values and gradients. It deliberately implements only the
// operations the operator library needs.
package matrix

import "fmt"

// Mat is a dense row-major float64 matrix.
type Mat struct {
	rows, cols int
	data       []float64
}

// New creates a zeroed rows×cols matrix.
func New(rows, cols int) *Mat {
	return &Mat{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// Rows returns the number of rows.
func (m *Mat) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Mat) Cols() int { return m.cols }

// IsEmpty reports whether the matrix holds zero elements.
func (m *Mat) IsEmpty() bool { return m.rows == 0 || m.cols == 0 }

// Data exposes the backing slice in row-major order.
func (m *Mat) Data() []float64 { return m.data }

// Resize changes the matrix dimensions. Contents are preserved when the
// dimensions are unchanged and zeroed otherwise.
func (m *Mat) Resize(rows, cols int) {
	if m.rows == rows && m.cols == cols {
		return
	}
	m.rows = rows
	m.cols = cols
	if n := rows * cols; cap(m.data) >= n {
		m.data = m.data[:n]
		m.Zero()
	} else {
		m.data = make([]float64, n)
	}
}

// At returns the element at row r, column c.
func (m *Mat) At(r, c int) float64 { return m.data[r*m.cols+c] }

// Set assigns the element at row r, column c.
func (m *Mat) Set(r, c int, v float64) { m.data[r*m.cols+c] = v }

// AddAt accumulates v into the element at row r, column c.
func (m *Mat) AddAt(r, c int, v float64) { m.data[r*m.cols+c] += v }

// Zero clears every element.
func (m *Mat) Zero() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// Fill assigns v to every element.
func (m *Mat) Fill(v float64) {
	for i := range m.data {
		m.data[i] = v
	}
}

// ZeroColumn clears column c.
func (m *Mat) ZeroColumn(c int) {
	for r := 0; r < m.rows; r++ {
		m.data[r*m.cols+c] = 0
	}
}

// CopyFrom resizes m to match src and copies its contents.
func (m *Mat) CopyFrom(src *Mat) {
	m.Resize(src.rows, src.cols)
	copy(m.data, src.data)
}

// Sum returns the sum of all elements.
func (m *Mat) Sum() float64 {
	var s float64
	for _, v := range m.data {
		s += v
	}
	return s
}

// SameDims reports whether a and b have identical dimensions.
func SameDims(a, b *Mat) bool { return a.rows == b.rows && a.cols == b.cols }

// MulColsInto computes dst[:, c0:c1] = a * b[:, c0:c1] without touching
// columns outside the range. dst must already be sized a.rows × b.cols.
func MulColsInto(dst, a, b *Mat, c0, c1 int) error {
	if a.cols != b.rows {
		return fmt.Errorf("matrix: inner dimensions mismatch: %dx%d * %dx%d", a.rows, a.cols, b.rows, b.cols)
	}
	if dst.rows != a.rows || dst.cols != b.cols {
		return fmt.Errorf("matrix: destination is %dx%d, want %dx%d", dst.rows, dst.cols, a.rows, b.cols)
	}
	for c := c0; c < c1; c++ {
		for r := 0; r < a.rows; r++ {
			var sum float64
			for k := 0; k < a.cols; k++ {
				sum += a.At(r, k) * b.At(k, c)
			}
			dst.Set(r, c, sum)
		}
	}
	return nil
}
