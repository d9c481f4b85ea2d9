// Package paths enumerates the weighted input-to-output paths through the
// dense layers of a feed-forward network.
//
// Layers are visited from the output towards the input. The first dense layer
// seeds the path set with its (powered) weights; every further layer groups
// the running set by its row count, so that group i holds every path that
// enters hidden unit i, and extends each of those paths by every outgoing
// edge of row i. Rows are independent and are combined concurrently on a
// worker pool that lives as long as the Enumerator.
package paths

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/born-ml/genbound/internal/metrics"
	"github.com/born-ml/genbound/internal/parallel"
	"github.com/born-ml/genbound/internal/params"
)

// Common errors.
var (
	// ErrShapeMismatch is returned when the running path set cannot be grouped
	// by the row count of the next layer.
	ErrShapeMismatch = errors.New("paths: incompatible layer shapes")
	// ErrTooManyPaths is returned when an expansion would exceed MaxPaths.
	ErrTooManyPaths = errors.New("paths: path count exceeds limit")
)

// Options selects the enumeration mode.
type Options struct {
	// MultiplyByHiddenUnits scales every edge of a layer by its row count.
	MultiplyByHiddenUnits bool
	// Power is applied to every weight before combination.
	Power float64
	// Collapse multiplies the edges of a path into one value instead of
	// keeping the per-edge history.
	Collapse bool
}

// EnumeratorOptions configures an Enumerator.
type EnumeratorOptions struct {
	Workers     int  // Pool capacity, parallel.DefaultWorkers when 0.
	MaxPaths    int  // Refuse expansions above this many paths, 0 = unlimited.
	StrictFanIn bool // Reject adjacent layers whose widths disagree.
	Logger      *slog.Logger
}

// Enumerator expands path sets on a reusable worker pool.
type Enumerator struct {
	pool     *parallel.Pool
	maxPaths int
	strict   bool
	logger   *slog.Logger
}

// NewEnumerator starts the worker pool. Call Close when done.
func NewEnumerator(opts EnumeratorOptions) *Enumerator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{
		pool:     parallel.NewPool(opts.Workers),
		maxPaths: opts.MaxPaths,
		strict:   opts.StrictFanIn,
		logger:   logger,
	}
}

// Close stops the worker pool.
func (e *Enumerator) Close() {
	e.pool.Close()
}

// Enumerate expands every path through the rank-2 tensors of ps and returns
// the path set together with the number of dense layers traversed.
//
// Tensors of any other rank (biases, convolutions) are skipped. A set
// without dense layers yields an empty path set and depth 0.
func (e *Enumerator) Enumerate(ps *params.Set, opts Options) (*Set, int, error) {
	set := &Set{Width: 1}
	depth := 0
	prevCols := 0

	for _, entry := range ps.Reversed() {
		w := entry.Tensor
		if w.Rank() != 2 {
			continue
		}
		rows, cols := w.Shape()[0], w.Shape()[1]
		depth++

		edges := make([]float64, len(w.Data()))
		for i, v := range w.Data() {
			edges[i] = pow(v, opts.Power)
		}
		if opts.MultiplyByHiddenUnits {
			for i := range edges {
				edges[i] *= float64(rows)
			}
		}

		if depth == 1 {
			if e.maxPaths > 0 && len(edges) > e.maxPaths {
				return nil, depth, fmt.Errorf("%w: layer %s has %d edges, limit %d",
					ErrTooManyPaths, entry.Name, len(edges), e.maxPaths)
			}
			set.Values = edges
			prevCols = cols
			continue
		}

		if e.strict && prevCols != rows {
			return nil, depth, fmt.Errorf("%w: layer %s has %d rows but the next layer expects %d inputs",
				ErrShapeMismatch, entry.Name, rows, prevCols)
		}

		start := time.Now()
		next, err := e.combine(set, edges, rows, cols, opts.Collapse)
		if err != nil {
			return nil, depth, fmt.Errorf("layer %s %v: %w", entry.Name, w.Shape(), err)
		}
		metrics.EnumerationLayerDuration.Observe(time.Since(start).Seconds())

		e.logger.Debug("enumerated layer",
			"layer", entry.Name,
			"shape", []int(w.Shape()),
			"depth", depth,
			"paths", next.Len())

		set = next
		prevCols = cols
	}

	mode := "collapsed"
	if !opts.Collapse {
		mode = "uncollapsed"
	}
	metrics.EnumeratedPaths.WithLabelValues(mode).Set(float64(set.Len()))

	return set, depth, nil
}

// combine extends every path of set by the edges of a layer with the given
// rows and cols. edges is the layer's row-major (powered) weight matrix.
//
// The set is viewed as a (len/rows, rows) grid and transposed, so path
// g*rows+i belongs to group i. A set whose length is not a multiple of rows
// cannot be grouped. When the previous layer's input width differs from
// rows, the grouping still succeeds as long as the lengths divide, and paths
// are attributed to the wrong hidden units; StrictFanIn rejects that case.
func (e *Enumerator) combine(set *Set, edges []float64, rows, cols int, collapse bool) (*Set, error) {
	n := set.Len()
	if n%rows != 0 {
		return nil, fmt.Errorf("%w: %d paths cannot be grouped by %d rows", ErrShapeMismatch, n, rows)
	}
	total := n * cols
	if e.maxPaths > 0 && total > e.maxPaths {
		return nil, fmt.Errorf("%w: expansion to %d paths, limit %d", ErrTooManyPaths, total, e.maxPaths)
	}

	group := n / rows
	width := set.Width
	outWidth := 1
	if !collapse {
		outWidth = width + 1
	}
	perRow := group * cols * outWidth
	out := make([]float64, rows*perRow)

	e.pool.Run(rows, func(i int) {
		outgoing := edges[i*cols : (i+1)*cols]
		dst := out[i*perRow : (i+1)*perRow]
		k := 0
		for g := 0; g < group; g++ {
			p := g*rows + i
			history := set.Values[p*width : (p+1)*width]
			if collapse {
				incoming := history[0]
				for _, edge := range outgoing {
					dst[k] = incoming * edge
					k++
				}
				continue
			}
			for _, edge := range outgoing {
				copy(dst[k:k+width], history)
				dst[k+width] = edge
				k += outWidth
			}
		}
	})

	return &Set{Values: out, Width: outWidth}, nil
}
