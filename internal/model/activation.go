package model

import (
	"fmt"
	"math"
	"strings"
)

// Activation is the element-wise nonlinearity between hidden layers.
type Activation string

// Supported activations.
const (
	ReLU    Activation = "relu"
	Tanh    Activation = "tanh"
	Sigmoid Activation = "sigmoid"
)

// ParseActivation maps a checkpoint metadata value to an Activation.
// The empty string selects ReLU.
func ParseActivation(s string) (Activation, error) {
	switch a := Activation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ReLU, nil
	case ReLU, Tanh, Sigmoid:
		return a, nil
	default:
		return "", fmt.Errorf("%w: activation %q", ErrUnsupportedLayer, s)
	}
}

// apply transforms data in place.
func (a Activation) apply(data []float64) {
	switch a {
	case Tanh:
		for i, v := range data {
			data[i] = math.Tanh(v)
		}
	case Sigmoid:
		for i, v := range data {
			data[i] = 1 / (1 + math.Exp(-v))
		}
	default:
		for i, v := range data {
			if v < 0 {
				data[i] = 0
			}
		}
	}
}
