// Package autodiff implements automatic differentiation using the decorator pattern.
//
// Backend wraps a tensor.Backend (CPU) and adds gradient tracking through a
// GradientTape: every kernel call made while the tape is recording is
// appended as an ops.Operation and can be differentiated later.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	h := backend.Tanh(backend.MatMul(x, w))
//	loss := backend.CrossEntropy(h, labels)
//	grads, _ := autodiff.Backward(loss, backend)
//	fmt.Println(grads.Of(w))
package autodiff

import (
	"github.com/born-ml/seqtune/internal/autodiff/ops"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Backend wraps a tensor.Backend and records operations on a GradientTape.
// It implements tensor.Backend itself, so models are written against it and
// never touch the tape directly.
type Backend struct {
	inner tensor.Backend // Wrapped backend
	tape  *GradientTape  // Records operations for backpropagation
}

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new Backend wrapping the given backend.
func New(inner tensor.Backend) *Backend {
	return &Backend{
		inner: inner,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *Backend) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *Backend) Inner() tensor.Backend {
	return b.inner
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *Backend) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(a, c)
	b.tape.Record(ops.NewAddOp(a, c, result))
	return result
}

// Mul multiplies x by a constant mask and records the operation.
// Only x receives a gradient; the second operand is treated as a constant.
func (b *Backend) Mul(x, mask *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, mask)
	b.tape.Record(ops.NewMaskOp(x, mask, result))
	return result
}

// MatMul performs matrix multiplication and records the operation.
// Transposed operands are not differentiable through this path and panic.
func (b *Backend) MatMul(a, c *tensor.RawTensor, transA, transB bool) *tensor.RawTensor {
	if transA || transB {
		panic("autodiff: transposed matmul is only available on the inner backend")
	}
	result := b.inner.MatMul(a, c, false, false)
	b.tape.Record(ops.NewMatMulOp(a, c, result))
	return result
}

// AddBias adds a row-broadcast bias and records the operation.
func (b *Backend) AddBias(x, bias *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.AddBias(x, bias)
	b.tape.Record(ops.NewAddBiasOp(x, bias, result))
	return result
}

// SumRows is not differentiable here and is forwarded without recording.
func (b *Backend) SumRows(x *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.SumRows(x)
}

// Tanh applies tanh and records the operation.
func (b *Backend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Tanh(x)
	b.tape.Record(ops.NewTanhOp(x, result))
	return result
}

// Embedding gathers weight rows and records the operation.
func (b *Backend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Embedding(weight, indices)
	b.tape.Record(ops.NewEmbeddingOp(weight, indices, result))
	return result
}

// Stack stacks tensors along a new leading dimension and records the operation.
func (b *Backend) Stack(xs []*tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Stack(xs)
	b.tape.Record(ops.NewStackOp(xs, result))
	return result
}

// Reshape returns a view with a new shape and records the operation.
func (b *Backend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	result := x.Reshape(shape)
	b.tape.Record(ops.NewReshapeOp(x, result))
	return result
}

// CrossEntropy computes the mean cross-entropy and records the operation.
func (b *Backend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.CrossEntropy(logits, targets)
	b.tape.Record(ops.NewCrossEntropyOp(logits, targets, result))
	return result
}
