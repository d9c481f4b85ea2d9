//go:build !windows

package device

import (
	"testing"

	"github.com/born-ml/genbound/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_WebGPUUnavailable(t *testing.T) {
	_, err := Select("webgpu", nil)
	assert.ErrorIs(t, err, ErrAcceleratorUnavailable)

	d, err := Select("", nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.CPU, d.Kind())
}
