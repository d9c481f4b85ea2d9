// Package metrics holds the Prometheus collectors shared by the measure
// components. Collectors are registered on the default registry at init.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EnumeratedPaths reports the size of the last path set by mode
	// ("collapsed" or "uncollapsed").
	EnumeratedPaths = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genbound_enumerated_paths",
		Help: "Number of paths in the most recent enumeration",
	}, []string{"mode"})

	// EnumerationLayerDuration tracks the per-layer fan-out/fan-in time.
	EnumerationLayerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "genbound_enumeration_layer_duration_seconds",
		Help:    "Time spent combining one dense layer into the path set",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12), // 0.1ms to ~7min
	})

	// SharpnessTrials counts perturbation trials by outcome
	// ("improved", "kept", "unstable").
	SharpnessTrials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbound_sharpness_trials_total",
		Help: "Sharpness perturbation trials by outcome",
	}, []string{"outcome"})

	// SharpnessMax is the running maximum loss increase.
	SharpnessMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genbound_sharpness_max",
		Help: "Running maximum of the perturbed loss increase",
	})

	// GammaMargin is the most recent gamma-margin.
	GammaMargin = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genbound_gamma_margin",
		Help: "Margin at the configured lower-tail quantile",
	})

	// MeasureDuration tracks the time per measure.
	MeasureDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genbound_measure_duration_seconds",
		Help:    "Measure computation time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
	}, []string{"measure"})

	// MeasureFailures counts measures that could not be computed.
	MeasureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbound_measure_failures_total",
		Help: "Measures reported as not existing, by measure",
	}, []string{"measure"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
