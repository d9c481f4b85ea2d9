// Package norms aggregates layer norms and path norms into margin-scaled
// generalization bounds.
//
//	L2       = 4 * prod_l ||W_l||_F * gamma^-2
//	Spectral = prod_l (h_l * ||W_l||_2) * gamma^-2
//	L1Path   = (sum_p |2^d * prod_e w_e|)^2 * gamma^-2
//	L2Path   = sum_p 4^d * prod_e (h_e * w_e^2) * gamma^-2
//
// where h is the row count (hidden units) of a layer and d the number of
// dense layers a path traverses.
package norms

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/born-ml/genbound/internal/margin"
	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/paths"
	"github.com/born-ml/genbound/internal/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Order selects the per-layer norm.
type Order int

const (
	// OrderDefault is the Euclidean norm of vectors, the Frobenius norm of
	// matrices and the Euclidean norm of flattened higher-rank tensors.
	OrderDefault Order = iota
	// OrderSpectral is the largest singular value of matrices. Higher-rank
	// kernels sum the norms of their [i][j] sub-filters.
	OrderSpectral
)

// String implements fmt.Stringer.
func (o Order) String() string {
	if o == OrderSpectral {
		return "spectral"
	}
	return "default"
}

// LayerNorm returns the norm of one tensor. ok is false when the tensor's
// rank has no norm of this order; the caller substitutes 0.
func LayerNorm(t *tensor.Tensor, order Order) (norm float64, ok bool) {
	switch {
	case t.Rank() == 0:
		if order == OrderSpectral {
			return 0, false
		}
		return math.Abs(t.Data()[0]), true
	case t.Rank() == 1:
		return floats.Norm(t.Data(), 2), true
	case t.Rank() == 2:
		if order == OrderSpectral {
			return spectralNorm(t), true
		}
		return mat.Norm(dense(t), 2), true
	case order == OrderDefault:
		return floats.Norm(t.Data(), 2), true
	default:
		return filterNormSum(t)
	}
}

// filterNormSum sums the spectral norms of the [i][j] sub-filters of a
// kernel: matrices for rank 4, vectors for rank 3.
func filterNormSum(t *tensor.Tensor) (float64, bool) {
	if t.Rank() > 4 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < t.Shape()[0]; i++ {
		row := t.SubTensor(i)
		for j := 0; j < row.Shape()[0]; j++ {
			n, ok := LayerNorm(row.SubTensor(j), OrderSpectral)
			if !ok {
				return 0, false
			}
			sum += n
		}
	}
	return sum, true
}

func dense(t *tensor.Tensor) *mat.Dense {
	return mat.NewDense(t.Shape()[0], t.Shape()[1], t.Data())
}

func spectralNorm(t *tensor.Tensor) float64 {
	var svd mat.SVD
	if !svd.Factorize(dense(t), mat.SVDNone) {
		return math.NaN()
	}
	return svd.Values(nil)[0]
}

// Aggregator computes the bounds of a parameter snapshot.
type Aggregator struct {
	enum   *paths.Enumerator
	logger *slog.Logger
}

// NewAggregator uses enum for the path norms.
func NewAggregator(enum *paths.Enumerator, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{enum: enum, logger: logger}
}

// LayerNormProduct multiplies the norms of every weight tensor of ps.
// Tensors whose name does not end in "weight" contribute 1; withHidden
// scales each factor by the tensor's leading dimension. Ranks without a
// norm of this order contribute 0 and are logged.
func (a *Aggregator) LayerNormProduct(ps *params.Set, order Order, withHidden bool) float64 {
	product := 1.0
	for _, e := range ps.Entries() {
		if !params.IsWeight(e.Name) {
			continue
		}
		norm, ok := LayerNorm(e.Tensor, order)
		if !ok {
			a.logger.Warn("skipping layer norm",
				"layer", e.Name,
				"shape", []int(e.Tensor.Shape()),
				"order", order.String())
		}
		if withHidden {
			norm *= float64(e.Tensor.Rows())
		}
		product *= norm
	}
	return product
}

// L2 returns 4 * prod ||W||_F * gamma^-2.
func (a *Aggregator) L2(ps *params.Set, gamma float64) (float64, error) {
	inv, err := margin.InverseSquare(gamma)
	if err != nil {
		return 0, err
	}
	return inv * 4 * a.LayerNormProduct(ps, OrderDefault, false), nil
}

// Spectral returns prod (h * ||W||_2) * gamma^-2.
func (a *Aggregator) Spectral(ps *params.Set, gamma float64) (float64, error) {
	inv, err := margin.InverseSquare(gamma)
	if err != nil {
		return 0, err
	}
	return inv * a.LayerNormProduct(ps, OrderSpectral, true), nil
}

// L1Path returns the squared L1 path norm times gamma^-2.
func (a *Aggregator) L1Path(ps *params.Set, gamma float64) (float64, error) {
	inv, err := margin.InverseSquare(gamma)
	if err != nil {
		return 0, err
	}
	set, depth, err := a.enum.Enumerate(ps, paths.Options{Power: 1, Collapse: true})
	if err != nil {
		return 0, fmt.Errorf("l1 path norm: %w", err)
	}
	set.Scale(math.Pow(2, float64(depth)))
	norm := set.AbsSum()
	return inv * norm * norm, nil
}

// L2Path returns the L2 path norm with hidden-unit scaling times gamma^-2.
func (a *Aggregator) L2Path(ps *params.Set, gamma float64) (float64, error) {
	inv, err := margin.InverseSquare(gamma)
	if err != nil {
		return 0, err
	}
	set, depth, err := a.enum.Enumerate(ps, paths.Options{Power: 2, MultiplyByHiddenUnits: true, Collapse: true})
	if err != nil {
		return 0, fmt.Errorf("l2 path norm: %w", err)
	}
	set.Scale(math.Pow(4, float64(depth)))
	return inv * set.Sum(), nil
}
