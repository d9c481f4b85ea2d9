package tensor

import (
	"fmt"
	"strings"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a configuration value to a Device.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(s) {
	case "cpu":
		return CPU, nil
	case "webgpu", "gpu":
		return WebGPU, nil
	default:
		return 0, fmt.Errorf("unknown device %q", s)
	}
}
