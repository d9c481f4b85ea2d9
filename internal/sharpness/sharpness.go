// Package sharpness estimates how much the training loss of a model can grow
// under small random perturbations of its parameters.
//
// Every trial draws uniform noise in [-1, 1] for each parameter, scales it by
// alpha*(1+|w|) and measures the loss of the perturbed model against the
// unperturbed baseline. The estimate is the largest increase observed.
package sharpness

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/loss"
	"github.com/born-ml/genbound/internal/metrics"
	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/tensor"
)

// Common errors.
var (
	ErrEmptyDataset     = errors.New("sharpness: dataset has no batches")
	ErrInvalidAlpha     = errors.New("sharpness: alpha must be positive")
	ErrNoParameters     = errors.New("sharpness: model has no parameters")
	ErrUnstableBaseline = errors.New("sharpness: baseline loss is not finite")
)

// Defaults.
const (
	DefaultAlpha      = 5e-4
	DefaultIterations = 100000

	// progressEvery controls how often a debug progress line is logged.
	progressEvery = 1000
)

// Model is the part of a classifier the estimator needs.
type Model interface {
	Forward(inputs *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() *params.Set
	LoadParameters(ps *params.Set) error
}

// Result summarizes one estimation run.
type Result struct {
	Max          float64 // largest loss increase, -Inf when no trial succeeded
	Baseline     float64 // loss of the unperturbed model
	Trials       int64
	Improvements int64
}

// Estimator runs the Monte Carlo search. The zero value is not usable; set
// Alpha, or start from New.
type Estimator struct {
	Alpha float64
	// Iterations is the trial budget. Zero runs no trial, a negative value
	// runs until the process is stopped.
	Iterations int64
	Seed       uint64
	Logger     *slog.Logger
	// OnImprovement is called after every trial that raises the maximum.
	OnImprovement func(iter int64, value float64)
}

// New returns an estimator with the default alpha and iteration budget.
func New(seed uint64, logger *slog.Logger) *Estimator {
	return &Estimator{
		Alpha:      DefaultAlpha,
		Iterations: DefaultIterations,
		Seed:       seed,
		Logger:     logger,
	}
}

// Estimate perturbs the parameters of m Iterations times and returns the
// largest increase of crit over data. m is restored to its original
// parameters before returning, including on error.
func (e *Estimator) Estimate(m Model, crit loss.Func, data dataset.Dataset) (res Result, err error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !(e.Alpha > 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidAlpha, e.Alpha)
	}
	if data.NumBatches() == 0 {
		return Result{}, ErrEmptyDataset
	}

	base := m.Parameters()
	if base.NumElements() == 0 {
		return Result{}, ErrNoParameters
	}

	baseline, err := MeanLoss(m, crit, data)
	if err != nil {
		return Result{}, fmt.Errorf("sharpness: baseline: %w", err)
	}
	if math.IsNaN(baseline) || math.IsInf(baseline, 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrUnstableBaseline, baseline)
	}

	defer func() {
		if rerr := m.LoadParameters(base); rerr != nil && err == nil {
			err = fmt.Errorf("sharpness: restore parameters: %w", rerr)
		}
	}()

	working := base.Clone()
	baseEntries := base.Entries()
	workEntries := working.Entries()
	scales := make([][]float64, len(baseEntries))
	for i, entry := range baseEntries {
		w := entry.Tensor.Data()
		s := make([]float64, len(w))
		for k, v := range w {
			s[k] = e.Alpha * (1 + math.Abs(v))
		}
		scales[i] = s
	}

	rng := rand.New(rand.NewPCG(e.Seed, e.Seed^0x9e3779b97f4a7c15))
	res = Result{Max: math.Inf(-1), Baseline: baseline}

	logger.Info("sharpness started",
		"alpha", e.Alpha,
		"iterations", e.Iterations,
		"parameters", base.NumElements(),
		"baseline", baseline)

	for iter := int64(0); e.Iterations < 0 || iter < e.Iterations; iter++ {
		for i, entry := range workEntries {
			dst := entry.Tensor.Data()
			src := baseEntries[i].Tensor.Data()
			for k, s := range scales[i] {
				dst[k] = src[k] + (2*rng.Float64()-1)*s
			}
		}
		res.Trials++

		candidate, terr := e.trial(m, crit, data, working)
		if terr != nil || math.IsNaN(candidate) || math.IsInf(candidate, 0) {
			metrics.SharpnessTrials.WithLabelValues("unstable").Inc()
			logger.Debug("sharpness trial discarded", "iteration", iter, "value", candidate, "error", terr)
			continue
		}
		candidate -= baseline

		if candidate > res.Max {
			res.Max = candidate
			res.Improvements++
			metrics.SharpnessTrials.WithLabelValues("improved").Inc()
			metrics.SharpnessMax.Set(candidate)
			if e.OnImprovement != nil {
				e.OnImprovement(iter, candidate)
			}
		} else {
			metrics.SharpnessTrials.WithLabelValues("kept").Inc()
		}

		if (iter+1)%progressEvery == 0 {
			logger.Debug("sharpness progress", "iteration", iter+1, "max", res.Max)
		}
	}

	logger.Info("sharpness finished",
		"trials", res.Trials,
		"improvements", res.Improvements,
		"max", res.Max)
	return res, nil
}

func (e *Estimator) trial(m Model, crit loss.Func, data dataset.Dataset, working *params.Set) (float64, error) {
	if err := m.LoadParameters(working); err != nil {
		return 0, err
	}
	return MeanLoss(m, crit, data)
}

// MeanLoss returns the mean of the per-batch losses of m over data.
func MeanLoss(m Model, crit loss.Func, data dataset.Dataset) (float64, error) {
	n := data.NumBatches()
	if n == 0 {
		return 0, ErrEmptyDataset
	}
	total := 0.0
	for b := 0; b < n; b++ {
		batch := data.Batch(b)
		scores, err := m.Forward(batch.Inputs)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", b, err)
		}
		l, err := crit.Forward(scores, batch.Labels)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", b, err)
		}
		total += l
	}
	return total / float64(n), nil
}
