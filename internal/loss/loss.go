// Package loss implements the training criteria a checkpoint can name.
//
// Every criterion reduces a batch of raw class scores [batch, classes] and
// integer labels to the batch mean. Criteria are looked up by name in a
// static registry so that checkpoint metadata and configuration files can
// select them.
package loss

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/born-ml/genbound/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// Common errors.
var (
	ErrUnknownCriterion = errors.New("loss: unknown criterion")
	ErrLabelOutOfRange  = errors.New("loss: label out of range")
	ErrShapeMismatch    = errors.New("loss: shape mismatch")
)

// Func is a batch-mean loss over class scores.
type Func interface {
	Forward(scores *tensor.Tensor, labels []int) (float64, error)
}

// Names of the built-in criteria.
const (
	CrossEntropyName = "cross_entropy"
	MSEName          = "mse"
	MultiMarginName  = "multi_margin"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Func{
		CrossEntropyName: func() Func { return CrossEntropy{} },
		MSEName:          func() Func { return MSE{} },
		MultiMarginName:  func() Func { return MultiMargin{Margin: 1} },
	}
)

// Register adds a criterion factory under name, replacing any previous one.
func Register(name string, factory func() Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup returns a new criterion registered under name.
func Lookup(name string) (Func, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownCriterion, name, Names())
	}
	return factory(), nil
}

// Names returns the registered criterion names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CrossEntropy is the softmax cross-entropy: mean of -log softmax(x)[y].
type CrossEntropy struct{}

// Forward computes the loss with the log-sum-exp shift.
func (CrossEntropy) Forward(scores *tensor.Tensor, labels []int) (float64, error) {
	batch, _, err := checkBatch(scores, labels)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := 0; i < batch; i++ {
		row := scores.Row(i)
		total += floats.LogSumExp(row) - row[labels[i]]
	}
	return total / float64(batch), nil
}

// MSE is the mean squared error against one-hot targets, averaged over
// every score.
type MSE struct{}

// Forward computes the loss.
func (MSE) Forward(scores *tensor.Tensor, labels []int) (float64, error) {
	batch, classes, err := checkBatch(scores, labels)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := 0; i < batch; i++ {
		for j, v := range scores.Row(i) {
			target := 0.0
			if j == labels[i] {
				target = 1
			}
			d := v - target
			total += d * d
		}
	}
	return total / float64(batch*classes), nil
}

// MultiMargin is the multi-class hinge loss
// sum_{j != y} max(0, Margin - x[y] + x[j]) / classes.
type MultiMargin struct {
	Margin float64
}

// Forward computes the loss.
func (l MultiMargin) Forward(scores *tensor.Tensor, labels []int) (float64, error) {
	batch, classes, err := checkBatch(scores, labels)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := 0; i < batch; i++ {
		row := scores.Row(i)
		y := labels[i]
		sum := 0.0
		for j, v := range row {
			if j == y {
				continue
			}
			sum += math.Max(0, l.Margin-row[y]+v)
		}
		total += sum / float64(classes)
	}
	return total / float64(batch), nil
}

func checkBatch(scores *tensor.Tensor, labels []int) (batch, classes int, err error) {
	if scores.Rank() != 2 {
		return 0, 0, fmt.Errorf("%w: scores must be [batch, classes], got %v", ErrShapeMismatch, scores.Shape())
	}
	batch, classes = scores.Shape()[0], scores.Shape()[1]
	if len(labels) != batch {
		return 0, 0, fmt.Errorf("%w: %d labels for batch of %d", ErrShapeMismatch, len(labels), batch)
	}
	for i, y := range labels {
		if y < 0 || y >= classes {
			return 0, 0, fmt.Errorf("%w: example %d has label %d, %d classes", ErrLabelOutOfRange, i, y, classes)
		}
	}
	return batch, classes, nil
}
