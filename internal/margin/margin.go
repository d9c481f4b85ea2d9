// Package margin computes classification margins and the gamma-margin, the
// lower-tail margin quantile that scales every norm-based bound.
package margin

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/metrics"
	"github.com/born-ml/genbound/internal/parallel"
	"github.com/born-ml/genbound/internal/tensor"
)

// Common errors.
var (
	ErrNoMargins       = errors.New("margin: no margins")
	ErrInvalidEpsilon  = errors.New("margin: epsilon outside [0, 1]")
	ErrZeroMargin      = errors.New("margin: zero gamma-margin, bound undefined")
	ErrNonFinite       = errors.New("margin: non-finite margin")
	ErrLabelOutOfRange = errors.New("margin: label out of range")
)

// Classifier maps a batch of inputs to class scores [batch, classes].
type Classifier interface {
	Forward(inputs *tensor.Tensor) (*tensor.Tensor, error)
}

// Result holds the per-example margins of one pass over a dataset.
type Result struct {
	Margins       []float64 // dataset order
	Misclassified int       // examples whose arg-max differs from the label
}

// Accuracy returns the fraction of correctly classified examples.
func (r Result) Accuracy() float64 {
	if len(r.Margins) == 0 {
		return 0
	}
	return 1 - float64(r.Misclassified)/float64(len(r.Margins))
}

// Evaluate runs clf over every batch and computes, per example, the score
// of the true class minus the best other score.
func Evaluate(clf Classifier, data dataset.Dataset) (Result, error) {
	return evaluate(clf, data, parallel.DefaultConfig())
}

func evaluate(clf Classifier, data dataset.Dataset, cfg parallel.Config) (Result, error) {
	var res Result
	for b := 0; b < data.NumBatches(); b++ {
		batch := data.Batch(b)
		scores, err := clf.Forward(batch.Inputs)
		if err != nil {
			return Result{}, fmt.Errorf("margin: batch %d: %w", b, err)
		}
		if scores.Rank() != 2 || scores.Shape()[0] != len(batch.Labels) {
			return Result{}, fmt.Errorf("margin: batch %d: scores %v for %d labels", b, scores.Shape(), len(batch.Labels))
		}
		classes := scores.Shape()[1]
		for i, y := range batch.Labels {
			if y < 0 || y >= classes {
				return Result{}, fmt.Errorf("%w: batch %d example %d has label %d, %d classes",
					ErrLabelOutOfRange, b, i, y, classes)
			}
		}

		margins := make([]float64, len(batch.Labels))
		wrong := make([]bool, len(batch.Labels))
		parallel.For(len(margins), func(i int) {
			margins[i], wrong[i] = exampleMargin(scores.Row(i), batch.Labels[i])
		}, cfg)

		res.Margins = append(res.Margins, margins...)
		for _, w := range wrong {
			if w {
				res.Misclassified++
			}
		}
	}
	return res, nil
}

// exampleMargin returns row[y] - max_{j != y} row[j] and whether the first
// arg-max of row differs from y.
func exampleMargin(row []float64, y int) (float64, bool) {
	argmax := 0
	other := math.Inf(-1)
	for j, v := range row {
		if v > row[argmax] {
			argmax = j
		}
		if j != y && v > other {
			other = v
		}
	}
	return row[y] - other, argmax != y
}

// Gamma returns the margin at sorted position ceil(eps*m) of m margins.
// A position equal to m selects the largest margin. NaN margins have no
// place in the order and are rejected.
func Gamma(margins []float64, eps float64) (float64, error) {
	m := len(margins)
	if m == 0 {
		return 0, ErrNoMargins
	}
	if eps < 0 || eps > 1 || math.IsNaN(eps) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEpsilon, eps)
	}
	for i, v := range margins {
		if math.IsNaN(v) {
			return 0, fmt.Errorf("%w: example %d", ErrNonFinite, i)
		}
	}
	sorted := make([]float64, m)
	copy(sorted, margins)
	sort.Float64s(sorted)

	idx := min(int(math.Ceil(eps*float64(m))), m-1)
	return sorted[idx], nil
}

// InverseSquare returns gamma^-2.
func InverseSquare(gamma float64) (float64, error) {
	if gamma == 0 {
		return 0, ErrZeroMargin
	}
	if math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return 0, fmt.Errorf("%w: gamma %v", ErrNonFinite, gamma)
	}
	return 1 / (gamma * gamma), nil
}

// Evaluator computes gamma-margins with logging and metrics.
type Evaluator struct {
	Logger   *slog.Logger
	Parallel parallel.Config
}

// NewEvaluator returns an evaluator with the default parallel config.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{Logger: logger, Parallel: parallel.DefaultConfig()}
}

// GammaMargin evaluates clf on data and returns the eps gamma-margin. A
// non-positive value is reported as a warning, not an error.
func (e *Evaluator) GammaMargin(clf Classifier, data dataset.Dataset, eps float64) (float64, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := evaluate(clf, data, e.Parallel)
	if err != nil {
		return 0, err
	}
	gamma, err := Gamma(res.Margins, eps)
	if err != nil {
		return 0, err
	}

	metrics.GammaMargin.Set(gamma)
	logger.Debug("gamma margin",
		"eps", eps,
		"gamma", gamma,
		"examples", len(res.Margins),
		"accuracy", res.Accuracy())
	if gamma <= 0 {
		logger.Warn("gamma margin is not positive",
			"gamma", gamma,
			"eps", eps,
			"misclassified", res.Misclassified)
	}
	return gamma, nil
}
