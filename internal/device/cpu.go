package device

import (
	"github.com/born-ml/genbound/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// CPU multiplies on the host through gonum's BLAS-backed dense matrices.
type CPU struct{}

// NewCPU returns the host device.
func NewCPU() *CPU {
	return &CPU{}
}

// Kind returns tensor.CPU.
func (*CPU) Kind() tensor.Device {
	return tensor.CPU
}

// MatMul returns a @ b.
func (*CPU) MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	m, k, n, err := checkMatMul(a, b)
	if err != nil {
		return nil, err
	}

	out := make([]float64, m*n)
	c := mat.NewDense(m, n, out)
	c.Mul(mat.NewDense(m, k, a.Data()), mat.NewDense(k, n, b.Data()))
	return tensor.New(tensor.Shape{m, n}, out)
}

// Close is a no-op.
func (*CPU) Close() {}
