package tensor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDeviceUnavailable is returned when data cannot be placed on the
// requested compute device.
var ErrDeviceUnavailable = errors.New("compute device unavailable")

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	CUDA
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// HasKernels reports whether training kernels exist for the device.
func (d Device) HasKernels() bool {
	return d == CPU
}

// ParseDevice maps a configuration device selector to a Device.
//
// Accepted selectors are "cpu", "cuda" (optionally "cuda:N") and "webgpu".
// Parsing only validates the name; whether the device can actually hold
// tensors is decided by RawTensor.To.
func ParseDevice(name string) (Device, error) {
	sel := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(sel, ':'); i >= 0 {
		sel = sel[:i]
	}
	switch sel {
	case "", "cpu":
		return CPU, nil
	case "cuda", "gpu":
		return CUDA, nil
	case "webgpu":
		return WebGPU, nil
	default:
		return CPU, fmt.Errorf("unknown device %q", name)
	}
}
