package sharpness

import (
	"errors"
	"math"
	"testing"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/loss"
	"github.com/born-ml/genbound/internal/model"
	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoLayer(t *testing.T) *params.Set {
	t.Helper()
	ps, err := params.New(
		params.Entry{Name: "fc1.weight", Tensor: tensor.MustNew(tensor.Shape{3, 2}, []float64{1, -1, 0.5, 2, -0.3, 0.8})},
		params.Entry{Name: "fc1.bias", Tensor: tensor.MustNew(tensor.Shape{3}, []float64{0.1, 0, -0.2})},
		params.Entry{Name: "fc2.weight", Tensor: tensor.MustNew(tensor.Shape{2, 3}, []float64{1, 0.5, -1, -0.5, 1, 0.25})},
		params.Entry{Name: "fc2.bias", Tensor: tensor.MustNew(tensor.Shape{2}, []float64{0, 0.1})},
	)
	require.NoError(t, err)
	return ps
}

func newMLP(t *testing.T) *model.MLP {
	t.Helper()
	m, err := model.New(twoLayer(t), model.ReLU, nil)
	require.NoError(t, err)
	return m
}

func newData(t *testing.T) *dataset.Memory {
	t.Helper()
	data, err := dataset.NewMemoryFromSlices(
		[][]float64{{1, 0}, {0, 1}, {1, 1}, {-1, 2}, {0.5, -0.5}},
		[]int{0, 1, 0, 1, 0},
		2, 2)
	require.NoError(t, err)
	return data
}

type trace struct {
	iters  []int64
	values []float64
}

func (tr *trace) record(iter int64, v float64) {
	tr.iters = append(tr.iters, iter)
	tr.values = append(tr.values, v)
}

func TestEstimate_ZeroIterations(t *testing.T) {
	e := New(1, nil)
	e.Iterations = 0
	called := false
	e.OnImprovement = func(int64, float64) { called = true }

	res, err := e.Estimate(newMLP(t), loss.CrossEntropy{}, newData(t))
	require.NoError(t, err)
	assert.True(t, math.IsInf(res.Max, -1))
	assert.Equal(t, int64(0), res.Trials)
	assert.False(t, called)
}

func TestEstimate_BaselineIsBatchMean(t *testing.T) {
	m := newMLP(t)
	data := newData(t)
	crit := loss.CrossEntropy{}

	want := 0.0
	for b := 0; b < data.NumBatches(); b++ {
		batch := data.Batch(b)
		scores, err := m.Forward(batch.Inputs)
		require.NoError(t, err)
		l, err := crit.Forward(scores, batch.Labels)
		require.NoError(t, err)
		want += l
	}
	want /= float64(data.NumBatches())

	e := New(1, nil)
	e.Iterations = 3
	res, err := e.Estimate(m, crit, data)
	require.NoError(t, err)
	assert.InDelta(t, want, res.Baseline, 1e-12)
	assert.Equal(t, int64(3), res.Trials)
}

func TestEstimate_RunningMaxIsIncreasing(t *testing.T) {
	e := New(7, nil)
	e.Iterations = 200
	e.Alpha = 0.05
	var tr trace
	e.OnImprovement = tr.record

	res, err := e.Estimate(newMLP(t), loss.CrossEntropy{}, newData(t))
	require.NoError(t, err)

	require.NotEmpty(t, tr.values)
	for i := 1; i < len(tr.values); i++ {
		assert.Greater(t, tr.values[i], tr.values[i-1])
		assert.Greater(t, tr.iters[i], tr.iters[i-1])
	}
	assert.Equal(t, tr.values[len(tr.values)-1], res.Max)
	assert.Equal(t, int64(len(tr.values)), res.Improvements)
	assert.Equal(t, int64(0), tr.iters[0])
}

func TestEstimate_SeedReplay(t *testing.T) {
	run := func(seed uint64) trace {
		e := New(seed, nil)
		e.Iterations = 100
		e.Alpha = 0.01
		var tr trace
		e.OnImprovement = tr.record
		_, err := e.Estimate(newMLP(t), loss.MSE{}, newData(t))
		require.NoError(t, err)
		return tr
	}

	first := run(42)
	second := run(42)
	assert.Equal(t, first, second)

	other := run(43)
	assert.NotEqual(t, first.values, other.values)
}

func TestEstimate_RestoresParameters(t *testing.T) {
	m := newMLP(t)
	before := m.Parameters()

	e := New(3, nil)
	e.Iterations = 25
	e.Alpha = 0.1
	_, err := e.Estimate(m, loss.CrossEntropy{}, newData(t))
	require.NoError(t, err)

	after := m.Parameters()
	for _, entry := range before.Entries() {
		got, ok := after.Get(entry.Name)
		require.True(t, ok)
		assert.Equal(t, entry.Tensor.Data(), got.Data(), entry.Name)
	}
}

// recorder is a model whose loss is driven by the parameters it is given.
type recorder struct {
	params *params.Set
	loaded []*params.Set
	fail   func(call int) error
	calls  int
}

func (r *recorder) Forward(inputs *tensor.Tensor) (*tensor.Tensor, error) {
	r.calls++
	if r.fail != nil {
		if err := r.fail(r.calls); err != nil {
			return nil, err
		}
	}
	w, _ := r.params.Get("w.weight")
	scores, err := tensor.Zeros(tensor.Shape{inputs.Rows(), 2})
	if err != nil {
		return nil, err
	}
	for i := 0; i < inputs.Rows(); i++ {
		scores.Data()[i*2] = w.Data()[0]
	}
	return scores, nil
}

func (r *recorder) Parameters() *params.Set { return r.params.Clone() }

func (r *recorder) LoadParameters(ps *params.Set) error {
	r.loaded = append(r.loaded, ps.Clone())
	return r.params.CopyFrom(ps)
}

func newRecorder(t *testing.T, values ...float64) *recorder {
	t.Helper()
	ps, err := params.New(params.Entry{
		Name:   "w.weight",
		Tensor: tensor.MustNew(tensor.Shape{len(values)}, values),
	})
	require.NoError(t, err)
	return &recorder{params: ps}
}

func TestEstimate_NoiseIsBoundedByScale(t *testing.T) {
	values := []float64{0, 1, -4, 10}
	r := newRecorder(t, values...)

	e := New(5, nil)
	e.Iterations = 50
	e.Alpha = 0.01
	_, err := e.Estimate(r, loss.CrossEntropy{}, newData(t))
	require.NoError(t, err)

	// One load per trial plus the final restore.
	require.Len(t, r.loaded, 51)
	for _, ps := range r.loaded[:50] {
		w, _ := ps.Get("w.weight")
		for k, v := range w.Data() {
			bound := e.Alpha * (1 + math.Abs(values[k]))
			assert.LessOrEqual(t, math.Abs(v-values[k]), bound)
		}
	}
	restored, _ := r.loaded[50].Get("w.weight")
	assert.Equal(t, values, restored.Data())
}

func TestEstimate_FailingTrialsAreNotMaxima(t *testing.T) {
	data := newData(t)
	batches := data.NumBatches()
	r := newRecorder(t, 1)
	// The baseline pass succeeds, every trial fails.
	r.fail = func(call int) error {
		if call > batches {
			return errors.New("device lost")
		}
		return nil
	}

	e := New(1, nil)
	e.Iterations = 4
	called := false
	e.OnImprovement = func(int64, float64) { called = true }

	res, err := e.Estimate(r, loss.CrossEntropy{}, data)
	require.NoError(t, err)
	assert.True(t, math.IsInf(res.Max, -1))
	assert.Equal(t, int64(4), res.Trials)
	assert.Equal(t, int64(0), res.Improvements)
	assert.False(t, called)
}

func TestEstimate_Errors(t *testing.T) {
	e := New(1, nil)
	e.Alpha = 0
	_, err := e.Estimate(newMLP(t), loss.CrossEntropy{}, newData(t))
	assert.ErrorIs(t, err, ErrInvalidAlpha)

	e = New(1, nil)
	r := newRecorder(t, 1)
	r.fail = func(int) error { return errors.New("boom") }
	_, err = e.Estimate(r, loss.CrossEntropy{}, newData(t))
	assert.Error(t, err)
	assert.Empty(t, r.loaded)
}
