// Package model implements the feed-forward classifier the measures are
// computed on.
//
// An MLP is reconstructed from a parameter snapshot: every rank-2
// "<prefix>.weight" tensor opens a dense layer y = x @ W.T + b, and the
// "<prefix>.bias" entry that immediately follows it becomes the bias.
// Hidden layers apply the configured activation; the last layer emits raw
// class scores.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/genbound/internal/device"
	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// Common errors.
var (
	ErrUnsupportedLayer = errors.New("model: unsupported layer")
	ErrNoLayers         = errors.New("model: no dense layers")
	ErrShapeMismatch    = errors.New("model: shape mismatch")
)

// linear is one dense layer. weight and bias alias the model's parameter
// set; weightT is the transposed copy fed to the device.
type linear struct {
	name    string
	weight  *tensor.Tensor // [out, in]
	bias    *tensor.Tensor // [out] or nil
	weightT *tensor.Tensor // [in, out]
}

func (l *linear) in() int  { return l.weight.Shape()[1] }
func (l *linear) out() int { return l.weight.Shape()[0] }

// refresh recomputes weightT from weight.
func (l *linear) refresh() {
	rows, cols := l.out(), l.in()
	src, dst := l.weight.Data(), l.weightT.Data()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
}

// MLP is a multilayer perceptron over an owned parameter set.
type MLP struct {
	params     *params.Set
	layers     []*linear
	activation Activation
	dev        device.Device
}

// New builds an MLP from a deep copy of ps. dev defaults to the CPU.
func New(ps *params.Set, activation Activation, dev device.Device) (*MLP, error) {
	if dev == nil {
		dev = device.NewCPU()
	}
	if activation == "" {
		activation = ReLU
	}

	owned := ps.Clone()
	m := &MLP{params: owned, activation: activation, dev: dev}

	entries := owned.Entries()
	for i := 0; i < len(entries); i++ {
		e := entries[i]
		if !params.IsWeight(e.Name) {
			return nil, fmt.Errorf("%w: %s is neither a dense weight nor its bias", ErrUnsupportedLayer, e.Name)
		}
		if e.Tensor.Rank() != 2 {
			return nil, fmt.Errorf("%w: %s has rank %d, only dense layers are supported",
				ErrUnsupportedLayer, e.Name, e.Tensor.Rank())
		}

		l := &linear{name: e.Name, weight: e.Tensor}
		biasName := strings.TrimSuffix(e.Name, params.WeightSuffix) + "bias"
		if i+1 < len(entries) && entries[i+1].Name == biasName {
			bias := entries[i+1].Tensor
			if bias.Rank() != 1 || bias.NumElements() != l.out() {
				return nil, fmt.Errorf("%w: bias %s has shape %v, layer has %d outputs",
					ErrShapeMismatch, biasName, bias.Shape(), l.out())
			}
			l.bias = bias
			i++
		}

		if n := len(m.layers); n > 0 && m.layers[n-1].out() != l.in() {
			return nil, fmt.Errorf("%w: %s expects %d inputs, previous layer emits %d",
				ErrShapeMismatch, e.Name, l.in(), m.layers[n-1].out())
		}

		weightT, err := tensor.Zeros(tensor.Shape{l.in(), l.out()})
		if err != nil {
			return nil, err
		}
		l.weightT = weightT
		l.refresh()
		m.layers = append(m.layers, l)
	}

	if len(m.layers) == 0 {
		return nil, ErrNoLayers
	}
	return m, nil
}

// InFeatures returns the flattened input width.
func (m *MLP) InFeatures() int {
	return m.layers[0].in()
}

// NumClasses returns the number of output scores.
func (m *MLP) NumClasses() int {
	return m.layers[len(m.layers)-1].out()
}

// Activation returns the hidden-layer nonlinearity.
func (m *MLP) Activation() Activation {
	return m.activation
}

// Device returns the compute device.
func (m *MLP) Device() device.Device {
	return m.dev
}

// Forward returns the class scores [batch, classes] for inputs whose
// leading dimension is the batch. Trailing dimensions are flattened.
func (m *MLP) Forward(inputs *tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs
	if x.Rank() != 2 {
		flat, err := x.Flatten2D()
		if err != nil {
			return nil, err
		}
		x = flat
	}
	if x.Shape()[1] != m.InFeatures() {
		return nil, fmt.Errorf("%w: input has %d features, model expects %d",
			ErrShapeMismatch, x.Shape()[1], m.InFeatures())
	}

	last := len(m.layers) - 1
	for i, l := range m.layers {
		y, err := m.dev.MatMul(x, l.weightT)
		if err != nil {
			return nil, fmt.Errorf("model: layer %s: %w", l.name, err)
		}
		if l.bias != nil {
			addRowBias(y, l.bias.Data())
		}
		if i < last {
			m.activation.apply(y.Data())
		}
		x = y
	}
	return x, nil
}

// Parameters returns a deep copy of the current parameters.
func (m *MLP) Parameters() *params.Set {
	return m.params.Clone()
}

// LoadParameters overwrites the model parameters with the values of ps,
// which must have the same layout. ps is not retained.
func (m *MLP) LoadParameters(ps *params.Set) error {
	if err := m.params.CopyFrom(ps); err != nil {
		return fmt.Errorf("model: load parameters: %w", err)
	}
	for _, l := range m.layers {
		l.refresh()
	}
	return nil
}

func addRowBias(y *tensor.Tensor, bias []float64) {
	cols := len(bias)
	data := y.Data()
	for off := 0; off < len(data); off += cols {
		floats.Add(data[off:off+cols], bias)
	}
}
