// Package tensor provides the dense float64 tensor used for parameter
// snapshots, model activations and path sets.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Common errors.
var (
	ErrInvalidShape  = errors.New("tensor: invalid shape")
	ErrSizeMismatch  = errors.New("tensor: data length does not match shape")
	ErrRankMismatch  = errors.New("tensor: unexpected rank")
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
)

// Tensor is a row-major float64 tensor.
//
// The zero rank tensor (Shape{}) holds a single scalar.
type Tensor struct {
	shape Shape
	data  []float64
}

// New creates a tensor that takes ownership of data.
func New(shape Shape, data []float64) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("%w: shape %v requires %d elements, got %d",
			ErrSizeMismatch, shape, shape.NumElements(), len(data))
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape.Clone(), data: make([]float64, shape.NumElements())}, nil
}

// MustNew is New for literals in tests and fixtures. Panics on error.
func MustNew(shape Shape, data []float64) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// FromRows builds a rank-2 tensor from equally sized rows.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidShape)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShapeMismatch, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return New(Shape{len(rows), cols}, data)
}

// Shape returns the tensor's shape. The returned slice must not be modified.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the underlying storage.
// WARNING: Direct access to underlying memory. Writes are visible to every holder.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Rows returns the leading dimension (output units of a dense layer).
func (t *Tensor) Rows() int {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[0]
}

// Row returns a view on row i of a rank-2 tensor.
func (t *Tensor) Row(i int) []float64 {
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}

// SubTensor returns a view on the i-th slice along the leading dimension.
// For a rank-4 kernel [out, in, kh, kw], SubTensor(o).SubTensor(i) is the
// [kh, kw] filter connecting input channel i to output channel o.
func (t *Tensor) SubTensor(i int) *Tensor {
	tail := t.shape.Tail()
	size := tail.NumElements()
	return &Tensor{shape: tail, data: t.data[i*size : (i+1)*size]}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// CopyFrom copies values from other, which must have the same shape.
func (t *Tensor) CopyFrom(other *Tensor) error {
	if !t.shape.Equal(other.shape) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t.shape, other.shape)
	}
	copy(t.data, other.data)
	return nil
}

// Reshape returns a view with a new shape over the same storage.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShapeMismatch, t.shape, shape)
	}
	return &Tensor{shape: shape.Clone(), data: t.data}, nil
}

// Flatten2D views the tensor as [shape[0], rest...] collapsed to rank 2.
func (t *Tensor) Flatten2D() (*Tensor, error) {
	if len(t.shape) < 1 {
		return nil, fmt.Errorf("%w: cannot flatten a scalar", ErrRankMismatch)
	}
	return t.Reshape(Shape{t.shape[0], len(t.data) / t.shape[0]})
}

// IsFinite reports whether every element is finite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer with the shape only; tensors can be large.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", []int(t.shape))
}
