package margin

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/parallel"
	"github.com/born-ml/genbound/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identity treats the inputs as precomputed scores.
type identity struct{}

func (identity) Forward(x *tensor.Tensor) (*tensor.Tensor, error) { return x, nil }

type failing struct{}

func (failing) Forward(*tensor.Tensor) (*tensor.Tensor, error) { return nil, errors.New("boom") }

func scores(t *testing.T, rows [][]float64, labels []int, batch int) dataset.Dataset {
	t.Helper()
	d, err := dataset.NewMemoryFromSlices(rows, labels, len(rows[0]), batch)
	require.NoError(t, err)
	return d
}

func TestEvaluate(t *testing.T) {
	data := scores(t, [][]float64{
		{3, 1, 2},
		{3, 1, 2},
		{1, 1, 0},
		{0, 0, 5},
	}, []int{0, 1, 0, 2}, 3)

	res, err := Evaluate(identity{}, data)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 0, 5}, res.Margins)
	assert.Equal(t, 1, res.Misclassified)
	assert.InDelta(t, 0.75, res.Accuracy(), 1e-12)
}

func TestEvaluate_NegativeIffMisclassified(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	rows := make([][]float64, 300)
	labels := make([]int, len(rows))
	for i := range rows {
		rows[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		labels[i] = rng.IntN(4)
	}
	data := scores(t, rows, labels, 64)

	res, err := evaluate(identity{}, data, parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8})
	require.NoError(t, err)

	wrong := 0
	for i, m := range res.Margins {
		argmax := 0
		for j, v := range rows[i] {
			if v > rows[i][argmax] {
				argmax = j
			}
		}
		assert.Equal(t, m < 0, argmax != labels[i], "example %d", i)
		if m < 0 {
			wrong++
		}
	}
	assert.Equal(t, wrong, res.Misclassified)
}

func TestEvaluate_Errors(t *testing.T) {
	data := scores(t, [][]float64{{1, 2}}, []int{2}, 1)
	_, err := Evaluate(identity{}, data)
	assert.ErrorIs(t, err, ErrLabelOutOfRange)

	_, err = Evaluate(failing{}, scores(t, [][]float64{{1, 2}}, []int{0}, 1))
	assert.Error(t, err)
}

func TestGamma(t *testing.T) {
	margins := []float64{5, 1, 4, 2, 3}

	tests := []struct {
		eps  float64
		want float64
	}{
		{0, 1},
		{0.1, 2}, // ceil(0.5) = 1
		{0.2, 2},
		{0.5, 4}, // ceil(2.5) = 3
		{1, 5},   // index m clamps to m-1
	}
	for _, tt := range tests {
		got, err := Gamma(margins, tt.eps)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "eps=%v", tt.eps)
	}
	// The input is not reordered.
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, margins)
}

func TestGamma_NonDecreasingInEps(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	margins := make([]float64, 137)
	for i := range margins {
		margins[i] = rng.NormFloat64()
	}

	prev := math.Inf(-1)
	for eps := 0.0; eps <= 1.0; eps += 0.01 {
		g, err := Gamma(margins, eps)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, g, prev)
		prev = g
	}
}

func TestGamma_Errors(t *testing.T) {
	_, err := Gamma(nil, 0.1)
	assert.ErrorIs(t, err, ErrNoMargins)

	_, err = Gamma([]float64{1}, -0.1)
	assert.ErrorIs(t, err, ErrInvalidEpsilon)

	_, err = Gamma([]float64{1}, 1.5)
	assert.ErrorIs(t, err, ErrInvalidEpsilon)

	_, err = Gamma([]float64{2, math.NaN(), 1}, 0)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestInverseSquare(t *testing.T) {
	v, err := InverseSquare(0.5)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	v, err = InverseSquare(-2)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	_, err = InverseSquare(0)
	assert.ErrorIs(t, err, ErrZeroMargin)

	for _, g := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err = InverseSquare(g)
		assert.ErrorIs(t, err, ErrNonFinite, g)
	}
}

func TestEvaluator_GammaMarginRejectsNaNScores(t *testing.T) {
	e := NewEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	data := scores(t, [][]float64{{math.NaN(), 1}, {2, 0}}, []int{0, 0}, 2)
	_, err := e.GammaMargin(identity{}, data, 0)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestEvaluator_GammaMarginWarnsWhenNegative(t *testing.T) {
	var buf bytes.Buffer
	e := NewEvaluator(slog.New(slog.NewTextHandler(&buf, nil)))

	data := scores(t, [][]float64{{0, 1}, {0, 2}, {3, 0}}, []int{0, 0, 0}, 2)
	gamma, err := e.GammaMargin(identity{}, data, 0.05)
	require.NoError(t, err)
	assert.Equal(t, -1.0, gamma) // sorted [-2, -1, 3], index ceil(0.15) = 1
	assert.Contains(t, buf.String(), "gamma margin is not positive")

	buf.Reset()
	data = scores(t, [][]float64{{2, 1}, {3, 0}}, []int{0, 0}, 2)
	gamma, err = e.GammaMargin(identity{}, data, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 3.0, gamma)
	assert.NotContains(t, buf.String(), "WARN")
}
