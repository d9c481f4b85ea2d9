//go:build !windows

package device

import "fmt"

// NewWebGPU reports that no accelerator is built for this platform.
func NewWebGPU() (Device, error) {
	return nil, fmt.Errorf("%w: webgpu backend is only built on windows", ErrAcceleratorUnavailable)
}
