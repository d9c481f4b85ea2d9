package device

import (
	"testing"

	"github.com/born-ml/genbound/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPU_MatMul(t *testing.T) {
	a := tensor.MustNew(tensor.Shape{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	b := tensor.MustNew(tensor.Shape{3, 2}, []float64{7, 8, 9, 10, 11, 12})

	c, err := NewCPU().MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, c.Shape())
	assert.Equal(t, []float64{58, 64, 139, 154}, c.Data())
}

func TestCPU_MatMulShapeMismatch(t *testing.T) {
	a := tensor.MustNew(tensor.Shape{2, 3}, make([]float64, 6))
	b := tensor.MustNew(tensor.Shape{2, 2}, make([]float64, 4))

	_, err := NewCPU().MatMul(a, b)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	v := tensor.MustNew(tensor.Shape{3}, make([]float64, 3))
	_, err = NewCPU().MatMul(a, v)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSelect(t *testing.T) {
	d, err := Select("cpu", nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.CPU, d.Kind())
	d.Close()

	_, err = Select("tpu", nil)
	assert.Error(t, err)

	// auto never fails: it falls back to the host.
	d, err = Select("auto", nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	d.Close()
}
