package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seqtune/internal/parallel"
	"github.com/born-ml/seqtune/internal/tensor"
)

func mustFloat32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return r
}

func mustInt32(t *testing.T, data []int32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromInt32(data, shape)
	require.NoError(t, err)
	return r
}

func TestCPUBackend_Elementwise(t *testing.T) {
	backend := New()
	a := mustFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := mustFloat32(t, []float32{10, 20, 30, 40}, tensor.Shape{2, 2})

	assert.Equal(t, []float32{11, 22, 33, 44}, backend.Add(a, b).AsFloat32())
	assert.Equal(t, []float32{10, 40, 90, 160}, backend.Mul(a, b).AsFloat32())
	assert.Panics(t, func() { backend.Add(a, mustFloat32(t, []float32{1, 2}, tensor.Shape{2})) })
}

func TestCPUBackend_AddBiasSumRows(t *testing.T) {
	backend := New()
	x := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	bias := mustFloat32(t, []float32{10, 20, 30}, tensor.Shape{3})

	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, backend.AddBias(x, bias).AsFloat32())
	assert.Equal(t, []float32{5, 7, 9}, backend.SumRows(x).AsFloat32())
	assert.Panics(t, func() { backend.AddBias(x, mustFloat32(t, []float32{1, 2}, tensor.Shape{2})) })
}

func TestCPUBackend_Tanh(t *testing.T) {
	backend := New()
	x := mustFloat32(t, []float32{-1, 0, 2}, tensor.Shape{3})
	out := backend.Tanh(x).AsFloat32()
	for i, v := range []float64{-1, 0, 2} {
		assert.InDelta(t, math.Tanh(v), out[i], 1e-6)
	}
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := New()
	// a: [2, 3], b: [3, 2]
	a := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustFloat32(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	tests := []struct {
		name           string
		x, y           *tensor.RawTensor
		transA, transB bool
		wantShape      tensor.Shape
		want           []float32
	}{
		{
			name: "plain", x: a, y: b,
			wantShape: tensor.Shape{2, 2},
			want:      []float32{58, 64, 139, 154},
		},
		{
			// aᵀ [3, 2] @ a [2, 3]
			name: "transpose a", x: a, y: a, transA: true,
			wantShape: tensor.Shape{3, 3},
			want:      []float32{17, 22, 27, 22, 29, 36, 27, 36, 45},
		},
		{
			// a [2, 3] @ aᵀ [3, 2]
			name: "transpose b", x: a, y: a, transB: true,
			wantShape: tensor.Shape{2, 2},
			want:      []float32{14, 32, 32, 77},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := backend.MatMul(tt.x, tt.y, tt.transA, tt.transB)
			assert.Equal(t, tt.wantShape, out.Shape())
			assert.InDeltaSlice(t, tt.want, out.AsFloat32(), 1e-4)
		})
	}

	assert.Panics(t, func() { backend.MatMul(a, a, false, false) })
}

func TestCPUBackend_Embedding(t *testing.T) {
	backend := New()
	w := mustFloat32(t, []float32{0, 1, 10, 11, 20, 21}, tensor.Shape{3, 2})
	ids := mustInt32(t, []int32{2, 0, 2}, tensor.Shape{3})

	out := backend.Embedding(w, ids)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{20, 21, 0, 1, 20, 21}, out.AsFloat32())

	assert.Panics(t, func() { backend.Embedding(w, mustInt32(t, []int32{3}, tensor.Shape{1})) })
}

func TestCPUBackend_Stack(t *testing.T) {
	backend := New()
	x := mustFloat32(t, []float32{1, 2}, tensor.Shape{1, 2})
	y := mustFloat32(t, []float32{3, 4}, tensor.Shape{1, 2})

	out := backend.Stack([]*tensor.RawTensor{x, y})
	assert.Equal(t, tensor.Shape{2, 1, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, out.AsFloat32())

	assert.Panics(t, func() { backend.Stack(nil) })
}

func TestCPUBackend_CrossEntropy(t *testing.T) {
	backend := New()

	// Uniform logits over 4 classes give log(4) whatever the target.
	logits := mustFloat32(t, []float32{0, 0, 0, 0, 1, 1, 1, 1}, tensor.Shape{2, 4})
	targets := mustInt32(t, []int32{0, 3}, tensor.Shape{2})
	loss := backend.CrossEntropy(logits, targets)
	assert.Equal(t, tensor.Shape{1}, loss.Shape())
	assert.InDelta(t, math.Log(4), loss.AsFloat32()[0], 1e-6)

	// Large logits stay finite.
	logits = mustFloat32(t, []float32{1000, 0}, tensor.Shape{1, 2})
	loss = backend.CrossEntropy(logits, mustInt32(t, []int32{0}, tensor.Shape{1}))
	assert.InDelta(t, 0, loss.AsFloat32()[0], 1e-6)

	assert.Panics(t, func() {
		backend.CrossEntropy(logits, mustInt32(t, []int32{2}, tensor.Shape{1}))
	})
}

func TestSoftmax(t *testing.T) {
	out := make([]float32, 3)
	Softmax(out, []float32{1, 2, 3})

	sum := float32(0)
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.Greater(t, out[2], out[1])
	assert.Greater(t, out[1], out[0])
}

func TestLogSumExp(t *testing.T) {
	assert.InDelta(t, math.Log(3), LogSumExp([]float32{0, 0, 0}), 1e-12)
	assert.InDelta(t, 3+math.Log(1+math.Exp(-1)+math.Exp(-2)), LogSumExp([]float32{1, 2, 3}), 1e-6)
	assert.InDelta(t, 1000+math.Log(2), LogSumExp([]float32{1000, 1000}), 1e-9)

	scratch := make([]float64, 4)
	assert.Equal(t, LogSumExp([]float32{1, 2}), logSumExp(scratch, []float32{1, 2}))
}

func TestCPUBackend_ParallelMatchesSequential(t *testing.T) {
	n := 10_000
	a := make([]float32, n)
	b := make([]float32, n)
	for i := range a {
		a[i] = float32(i) * 0.001
		b[i] = float32(n-i) * 0.002
	}
	x := mustFloat32(t, a, tensor.Shape{n})
	y := mustFloat32(t, b, tensor.Shape{n})

	seq := NewWithParallelism(parallel.Sequential())
	par := NewWithParallelism(parallel.WithWorkers(4))

	assert.Equal(t, seq.Add(x, y).AsFloat32(), par.Add(x, y).AsFloat32())
	assert.Equal(t, seq.Tanh(x).AsFloat32(), par.Tanh(x).AsFloat32())
	assert.Equal(t, "CPU", par.Name())
	assert.Equal(t, tensor.CPU, par.Device())
}
