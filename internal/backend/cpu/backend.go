// Package cpu implements the CPU backend used for training and evaluation.
package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/seqtune/internal/parallel"
	"github.com/born-ml/seqtune/internal/tensor"
)

// CPUBackend implements tensor kernels on CPU. Matrix products go through
// gonum's float32 BLAS; element-wise kernels split large tensors across
// goroutines with the parallel package.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewWithParallelism creates a CPU backend using cfg for element-wise kernels.
// Concurrent trials use this to keep their kernel fan-out inside their CPU
// share.
func NewWithParallelism(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

func (cpu *CPUBackend) newFloat32(shape tensor.Shape, op string) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}

func sameShape(op string, a, b *tensor.RawTensor) {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape(), b.Shape()))
	}
}

// Add performs element-wise addition of equally shaped tensors.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	sameShape("add", a, b)
	result := cpu.newFloat32(a.Shape(), "add")
	out, x, y := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	parallel.Range(len(out), cpu.par, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = x[i] + y[i]
		}
	})
	return result
}

// Mul performs element-wise multiplication of equally shaped tensors.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	sameShape("mul", a, b)
	result := cpu.newFloat32(a.Shape(), "mul")
	out, x, y := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	parallel.Range(len(out), cpu.par, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = x[i] * y[i]
		}
	})
	return result
}

// AddBias adds bias [cols] to every row of x [rows, cols].
func (cpu *CPUBackend) AddBias(x, bias *tensor.RawTensor) *tensor.RawTensor {
	cols := x.Shape().Cols()
	if bias.NumElements() != cols {
		panic(fmt.Sprintf("add_bias: bias has %d elements, want %d", bias.NumElements(), cols))
	}
	result := cpu.newFloat32(x.Shape(), "add_bias")
	out, in, b := result.AsFloat32(), x.AsFloat32(), bias.AsFloat32()
	parallel.For(x.Shape().Rows(), func(r int) {
		base := r * cols
		for c := 0; c < cols; c++ {
			out[base+c] = in[base+c] + b[c]
		}
	}, cpu.par)
	return result
}

// SumRows reduces x [rows, cols] to [cols].
func (cpu *CPUBackend) SumRows(x *tensor.RawTensor) *tensor.RawTensor {
	rows, cols := x.Shape().Rows(), x.Shape().Cols()
	result := cpu.newFloat32(tensor.Shape{cols}, "sum_rows")
	out, in := result.AsFloat32(), x.AsFloat32()
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			out[c] += in[base+c]
		}
	}
	return result
}

// Tanh applies the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.newFloat32(x.Shape(), "tanh")
	out, in := result.AsFloat32(), x.AsFloat32()
	parallel.Range(len(out), cpu.par, func(lo, hi int) {
		for i, v := range in[lo:hi] {
			out[lo+i] = float32(math.Tanh(float64(v)))
		}
	})
	return result
}
