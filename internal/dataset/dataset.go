// Package dataset provides the labelled, batched, re-iterable data the
// measures evaluate a model on.
//
// Every source is loaded fully into memory once. Kinds are resolved through
// a static registry so configuration can name them; see Open.
package dataset

import (
	"errors"
	"fmt"

	"github.com/born-ml/genbound/internal/tensor"
)

// Common errors.
var (
	ErrUnknownKind    = errors.New("dataset: unknown kind")
	ErrInvalidFormat  = errors.New("dataset: invalid file format")
	ErrInvalidConfig  = errors.New("dataset: invalid configuration")
	ErrEmpty          = errors.New("dataset: no examples")
	ErrLengthMismatch = errors.New("dataset: inputs and labels differ in length")
)

// Batch is one mini-batch. Inputs has the batch as its leading dimension.
type Batch struct {
	Inputs *tensor.Tensor
	Labels []int
}

// Dataset is a finite sequence of batches that can be iterated any number
// of times in the same order.
type Dataset interface {
	NumBatches() int
	Batch(i int) Batch
}

// Examples is a fully loaded sample set in row-major order.
type Examples struct {
	Shape      tensor.Shape // per-example shape, e.g. {3, 32, 32}
	Data       []float64    // len(Labels) * Shape.NumElements() values
	Labels     []int
	NumClasses int
}

// Len returns the number of examples.
func (e *Examples) Len() int {
	return len(e.Labels)
}

// Example returns a view on the values of example i.
func (e *Examples) Example(i int) []float64 {
	size := e.Shape.NumElements()
	return e.Data[i*size : (i+1)*size]
}

// Memory serves fixed batches over an Examples set. The last batch may be
// short.
type Memory struct {
	examples  *Examples
	batchSize int
	batches   []Batch
}

// NewMemory batches examples. batchSize <= 0 puts everything in one batch.
func NewMemory(examples *Examples, batchSize int) (*Memory, error) {
	n := examples.Len()
	if n == 0 {
		return nil, ErrEmpty
	}
	size := examples.Shape.NumElements()
	if len(examples.Data) != n*size {
		return nil, fmt.Errorf("%w: %d values for %d examples of shape %v",
			ErrLengthMismatch, len(examples.Data), n, examples.Shape)
	}
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}

	m := &Memory{examples: examples, batchSize: batchSize}
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		shape := append(tensor.Shape{end - start}, examples.Shape...)
		inputs, err := tensor.New(shape, examples.Data[start*size:end*size])
		if err != nil {
			return nil, err
		}
		m.batches = append(m.batches, Batch{Inputs: inputs, Labels: examples.Labels[start:end]})
	}
	return m, nil
}

// NewMemoryFromSlices builds a dataset from per-example rows.
func NewMemoryFromSlices(inputs [][]float64, labels []int, numClasses, batchSize int) (*Memory, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("%w: %d inputs, %d labels", ErrLengthMismatch, len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return nil, ErrEmpty
	}
	width := len(inputs[0])
	data := make([]float64, 0, len(inputs)*width)
	for i, row := range inputs {
		if len(row) != width {
			return nil, fmt.Errorf("%w: example %d has %d values, expected %d", ErrLengthMismatch, i, len(row), width)
		}
		data = append(data, row...)
	}
	return NewMemory(&Examples{
		Shape:      tensor.Shape{width},
		Data:       data,
		Labels:     labels,
		NumClasses: numClasses,
	}, batchSize)
}

// NumBatches returns the number of batches.
func (m *Memory) NumBatches() int {
	return len(m.batches)
}

// Batch returns batch i. The tensors alias the dataset storage and must
// not be modified.
func (m *Memory) Batch(i int) Batch {
	return m.batches[i]
}

// Examples returns the underlying sample set.
func (m *Memory) Examples() *Examples {
	return m.examples
}

// Len returns the number of examples.
func (m *Memory) Len() int {
	return m.examples.Len()
}
