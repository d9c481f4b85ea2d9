// Package measures runs the generalization measures of one model and writes
// them to a report.
//
// Every requested measure is attempted. A failing measure is reported as not
// existing and the run continues with the next one.
package measures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/loss"
	"github.com/born-ml/genbound/internal/margin"
	"github.com/born-ml/genbound/internal/metrics"
	"github.com/born-ml/genbound/internal/norms"
	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/report"
	"github.com/born-ml/genbound/internal/sharpness"
)

// ErrUnknownMeasure is returned by ParseName.
var ErrUnknownMeasure = errors.New("measures: unknown measure")

// Name identifies a measure in configuration.
type Name string

// Measures, in report order.
const (
	L2        Name = "l2"
	Spectral  Name = "spectral"
	L2Path    Name = "l2_path"
	L1Path    Name = "l1_path"
	Sharpness Name = "sharpness"
)

var labels = map[Name]string{
	L2:        report.LabelL2,
	Spectral:  report.LabelSpectral,
	L2Path:    report.LabelL2Path,
	L1Path:    report.LabelL1Path,
	Sharpness: report.LabelSharpness,
}

// All returns every measure in report order.
func All() []Name {
	return []Name{L2, Spectral, L2Path, L1Path, Sharpness}
}

// ParseName resolves a configuration name. Report labels are accepted too.
func ParseName(s string) (Name, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, n := range All() {
		if string(n) == key {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMeasure, s)
}

// Label returns the report label.
func (n Name) Label() string {
	if l, ok := labels[n]; ok {
		return l
	}
	return string(n)
}

func (n Name) usesMargin() bool {
	return n != Sharpness
}

// Model is a classifier the runner can evaluate and perturb.
type Model interface {
	sharpness.Model
}

// Config selects and parameterizes the measures.
type Config struct {
	Measures   []Name  // nil runs All()
	Eps        float64 // gamma-margin tolerance
	Alpha      float64 // sharpness perturbation scale
	Iterations int64   // sharpness trial budget, negative for unbounded
	Seed       uint64
}

// DefaultConfig returns the configuration of a full run.
func DefaultConfig() Config {
	return Config{
		Measures:   All(),
		Eps:        0.05,
		Alpha:      sharpness.DefaultAlpha,
		Iterations: sharpness.DefaultIterations,
	}
}

// Results holds what a run computed. Values has an entry for every measure
// that succeeded, Errors for every one that failed.
type Results struct {
	Gamma     float64
	Values    map[Name]float64
	Errors    map[Name]error
	Sharpness sharpness.Result
}

// Runner computes measures against a shared Aggregator.
type Runner struct {
	Config    Config
	Margins   *margin.Evaluator
	Norms     *norms.Aggregator
	Report    *report.Writer
	Logger    *slog.Logger
	tracer    trace.Tracer
	normFuncs map[Name]func(*params.Set, float64) (float64, error)
}

// NewRunner returns a runner that writes its report lines to out.
func NewRunner(cfg Config, agg *norms.Aggregator, out *report.Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Measures == nil {
		cfg.Measures = All()
	}
	return &Runner{
		Config:  cfg,
		Margins: margin.NewEvaluator(logger),
		Norms:   agg,
		Report:  out,
		Logger:  logger,
		tracer:  otel.Tracer("genbound/measures"),
		normFuncs: map[Name]func(*params.Set, float64) (float64, error){
			L2:       agg.L2,
			Spectral: agg.Spectral,
			L2Path:   agg.L2Path,
			L1Path:   agg.L1Path,
		},
	}
}

// Run computes every configured measure of m on data. It returns the
// partial results and the joined per-measure errors; a non-nil error never
// means that the remaining measures were skipped.
func (r *Runner) Run(ctx context.Context, m Model, crit loss.Func, data dataset.Dataset) (*Results, error) {
	ctx, span := r.tracer.Start(ctx, "measures.Runner.Run",
		trace.WithAttributes(attribute.Int("measures", len(r.Config.Measures))),
	)
	defer span.End()

	res := &Results{
		Values: make(map[Name]float64),
		Errors: make(map[Name]error),
	}

	// Norm measures read one frozen snapshot; sharpness perturbs its own copy.
	snapshot := m.Parameters()

	var gammaErr error
	gammaDone := false
	for _, name := range r.Config.Measures {
		if name.usesMargin() && !gammaDone {
			res.Gamma, gammaErr = r.gamma(ctx, m, data)
			gammaDone = true
		}

		var (
			v   float64
			err error
		)
		switch {
		case name == Sharpness:
			v, err = r.measure(ctx, name, func() (float64, error) {
				sres, err := r.sharpness(m, crit, data)
				res.Sharpness = sres
				return sres.Max, err
			})
		case gammaErr != nil:
			err = fmt.Errorf("gamma margin: %w", gammaErr)
			metrics.MeasureFailures.WithLabelValues(string(name)).Inc()
		default:
			fn, ok := r.normFuncs[name]
			if !ok {
				err = fmt.Errorf("%w: %q", ErrUnknownMeasure, name)
				break
			}
			v, err = r.measure(ctx, name, func() (float64, error) {
				return fn(snapshot, res.Gamma)
			})
		}

		if err != nil {
			res.Errors[name] = err
			r.Logger.Warn("measure does not exist", "measure", string(name), "error", err)
			_ = r.Report.Missing(name.Label())
			continue
		}
		res.Values[name] = v
		_ = r.Report.Record(name.Label(), v)
	}

	errs := make([]error, 0, len(res.Errors))
	for _, name := range r.Config.Measures {
		if err, ok := res.Errors[name]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := r.Report.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "measures failed")
		return res, errors.Join(errs...)
	}
	span.SetStatus(codes.Ok, "all measures computed")
	return res, nil
}

func (r *Runner) gamma(ctx context.Context, m Model, data dataset.Dataset) (float64, error) {
	_, span := r.tracer.Start(ctx, "measures.GammaMargin",
		trace.WithAttributes(attribute.Float64("eps", r.Config.Eps)),
	)
	defer span.End()

	gamma, err := r.Margins.GammaMargin(m, data, r.Config.Eps)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gamma margin failed")
		return 0, err
	}
	span.SetAttributes(attribute.Float64("gamma", gamma))
	return gamma, nil
}

func (r *Runner) sharpness(m Model, crit loss.Func, data dataset.Dataset) (sharpness.Result, error) {
	est := &sharpness.Estimator{
		Alpha:      r.Config.Alpha,
		Iterations: r.Config.Iterations,
		Seed:       r.Config.Seed,
		Logger:     r.Logger,
		OnImprovement: func(_ int64, v float64) {
			_ = r.Report.Record(Sharpness.Label(), v)
		},
	}
	return est.Estimate(m, crit, data)
}

// measure runs fn inside a span, records its duration and turns a panic into
// an error so one measure cannot take down the run.
func (r *Runner) measure(ctx context.Context, name Name, fn func() (float64, error)) (v float64, err error) {
	_, span := r.tracer.Start(ctx, "measures."+string(name),
		trace.WithAttributes(attribute.String("measure", string(name))),
	)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		metrics.MeasureDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.MeasureFailures.WithLabelValues(string(name)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "measure failed")
		} else {
			span.SetAttributes(attribute.Float64("value", v))
			span.SetStatus(codes.Ok, "measure computed")
		}
		span.End()
	}()

	r.Logger.Info("computing measure", "measure", string(name))
	return fn()
}
