package cpu

import (
	"fmt"

	"github.com/born-ml/seqtune/internal/tensor"
)

// Embedding gathers rows of weight [num, dim] for each int32 index in
// indices (any shape with n elements) and returns [n, dim].
// Panics if an index is outside [0, num).
func (cpu *CPUBackend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	wShape := weight.Shape()
	if len(wShape) != 2 {
		panic(fmt.Sprintf("embedding: weight must be 2D, got %v", wShape))
	}
	num, dim := wShape[0], wShape[1]
	ids := indices.AsInt32()

	result := cpu.newFloat32(tensor.Shape{len(ids), dim}, "embedding")
	out, w := result.AsFloat32(), weight.AsFloat32()
	for i, id := range ids {
		idx := int(id)
		if idx < 0 || idx >= num {
			panic(fmt.Sprintf("embedding: index %d out of range [0, %d)", idx, num))
		}
		copy(out[i*dim:(i+1)*dim], w[idx*dim:(idx+1)*dim])
	}
	return result
}

// Stack stacks equally shaped float32 tensors along a new leading
// dimension: n tensors of shape S become one tensor [n, S...].
func (cpu *CPUBackend) Stack(xs []*tensor.RawTensor) *tensor.RawTensor {
	if len(xs) == 0 {
		panic("stack: no tensors")
	}
	inner := xs[0].Shape()
	shape := append(tensor.Shape{len(xs)}, inner...)
	result := cpu.newFloat32(shape, "stack")
	out := result.AsFloat32()
	size := inner.NumElements()
	for i, x := range xs {
		if !x.Shape().Equal(inner) {
			panic(fmt.Sprintf("stack: tensor %d has shape %v, want %v", i, x.Shape(), inner))
		}
		copy(out[i*size:(i+1)*size], x.AsFloat32())
	}
	return result
}
