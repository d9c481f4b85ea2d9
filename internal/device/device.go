// Package device provides the matrix-multiply engines a model runs on.
//
// The CPU engine is always available. The WebGPU engine dispatches a WGSL
// compute shader and is only built where the native wgpu library is
// supported; elsewhere it reports ErrAcceleratorUnavailable.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/born-ml/genbound/internal/tensor"
)

// Common errors.
var (
	ErrAcceleratorUnavailable = errors.New("device: accelerator not available")
	ErrShapeMismatch          = errors.New("device: matmul shape mismatch")
)

// Device multiplies dense matrices on one compute target.
type Device interface {
	// Kind returns the compute target.
	Kind() tensor.Device
	// MatMul returns a @ b for a [M, K] and b [K, N].
	MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error)
	// Close releases device resources.
	Close()
}

// Select resolves a configured device name.
//
// "auto" (or "") prefers the accelerator and falls back to the CPU with a
// logged notice. An explicit "webgpu" fails when no accelerator exists.
func Select(name string, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		gpu, err := NewWebGPU()
		if err != nil {
			logger.Info("accelerator unavailable, using CPU", "reason", err)
			return NewCPU(), nil
		}
		return gpu, nil
	}

	kind, err := tensor.ParseDevice(name)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	switch kind {
	case tensor.WebGPU:
		return NewWebGPU()
	default:
		return NewCPU(), nil
	}
}

func checkMatMul(a, b *tensor.Tensor) (m, k, n int, err error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return 0, 0, 0, fmt.Errorf("%w: matmul requires 2D tensors, got %v and %v",
			ErrShapeMismatch, a.Shape(), b.Shape())
	}
	m, k, n = a.Shape()[0], a.Shape()[1], b.Shape()[1]
	if b.Shape()[0] != k {
		return 0, 0, 0, fmt.Errorf("%w: [%d,%d] @ [%d,%d]", ErrShapeMismatch, m, k, b.Shape()[0], n)
	}
	return m, k, n, nil
}
