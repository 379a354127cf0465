package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seqtune/internal/backend/cpu"
	"github.com/born-ml/seqtune/internal/tensor"
)

func f32(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return r
}

func i32(t *testing.T, data []int32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromInt32(data, tensor.Shape{len(data)})
	require.NoError(t, err)
	return r
}

func TestEmbeddingOp_ScatterAddsIntoSparseRows(t *testing.T) {
	weight := tensor.Zeros(tensor.Shape{4, 2})
	op := NewEmbeddingOp(weight, i32(t, []int32{0, 1, 0}), tensor.Zeros(tensor.Shape{3, 2}))

	grads := op.Backward(f32(t, []float32{1, 2, 3, 4, 5, 6}, 3, 2), cpu.New())
	require.Len(t, grads, 1)
	assert.Equal(t, []float32{6, 8, 3, 4, 0, 0, 0, 0}, grads[0].AsFloat32())
	assert.Equal(t, []int{0, 1}, grads[0].SparseRows())
	assert.Equal(t, []*tensor.RawTensor{weight}, op.Inputs())
}

func TestEmbeddingOp_ScatterIntoSharesOneGradient(t *testing.T) {
	weight := tensor.Zeros(tensor.Shape{5, 1})
	first := NewEmbeddingOp(weight, i32(t, []int32{3, 1}), tensor.Zeros(tensor.Shape{2, 1}))
	second := NewEmbeddingOp(weight, i32(t, []int32{1, 4}), tensor.Zeros(tensor.Shape{2, 1}))
	var _ Scatterer = second

	grad := first.Backward(f32(t, []float32{1, 2}, 2, 1), cpu.New())[0]
	second.ScatterInto(f32(t, []float32{10, 20}, 2, 1), grad)

	assert.Equal(t, []float32{0, 12, 0, 1, 20}, grad.AsFloat32())
	assert.Equal(t, []int{1, 3, 4}, grad.SparseRows())
}

func TestEmbeddingOp_PanicsOutsideVocabulary(t *testing.T) {
	op := NewEmbeddingOp(tensor.Zeros(tensor.Shape{2, 1}), i32(t, []int32{2}), tensor.Zeros(tensor.Shape{1, 1}))
	assert.Panics(t, func() {
		op.Backward(f32(t, []float32{1}, 1, 1), cpu.New())
	})
}

func TestStackOp_SplitsGradient(t *testing.T) {
	a, b := tensor.Zeros(tensor.Shape{2}), tensor.Zeros(tensor.Shape{2})
	op := NewStackOp([]*tensor.RawTensor{a, b}, tensor.Zeros(tensor.Shape{2, 2}))

	grads := op.Backward(f32(t, []float32{1, 2, 3, 4}, 2, 2), cpu.New())
	require.Len(t, grads, 2)
	assert.Equal(t, []float32{1, 2}, grads[0].AsFloat32())
	assert.Equal(t, []float32{3, 4}, grads[1].AsFloat32())
}

func TestTanhOp_UsesOutput(t *testing.T) {
	y := f32(t, []float32{0, 0.5, -0.5}, 3)
	op := NewTanhOp(tensor.Zeros(tensor.Shape{3}), y)

	grads := op.Backward(f32(t, []float32{1, 2, 1}, 3), cpu.New())
	assert.InDeltaSlice(t, []float32{1, 1.5, 0.75}, grads[0].AsFloat32(), 1e-6)
}

func TestCrossEntropyOp_RowsSumToZero(t *testing.T) {
	logits := f32(t, []float32{1, 2, 3, 0, 0, 0}, 2, 3)
	op := NewCrossEntropyOp(logits, i32(t, []int32{2, 0}), tensor.Zeros(tensor.Shape{1}))

	grads := op.Backward(f32(t, []float32{1}, 1), cpu.New())
	require.Len(t, grads, 1)
	g := grads[0]
	for i := 0; i < 2; i++ {
		var sum float32
		for _, v := range g.Row(i) {
			sum += v
		}
		assert.InDelta(t, 0, sum, 1e-6)
	}
	// Uniform logits: (1/3 - 1) / 2 at the target.
	assert.InDelta(t, -1.0/3, g.Row(1)[0], 1e-6)
	assert.Less(t, g.Row(0)[2], float32(0))
}
