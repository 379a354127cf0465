package autodiff

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seqtune/internal/backend/cpu"
	"github.com/born-ml/seqtune/internal/tensor"
)

func randomTensor(t *testing.T, rng *rand.Rand, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = float32(rng.NormFloat64() * 0.5)
	}
	r, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return r
}

func ids(t *testing.T, data ...int32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromInt32(data, tensor.Shape{len(data)})
	require.NoError(t, err)
	return r
}

// checkGradient compares an analytic gradient against central differences
// of f with respect to every element of param.
func checkGradient(t *testing.T, name string, param, analytic *tensor.RawTensor, f func() float64) {
	t.Helper()
	require.NotNil(t, analytic, "%s: no gradient", name)
	require.Equal(t, param.Shape(), analytic.Shape(), name)

	const eps = 1e-2
	data := param.AsFloat32()
	grad := analytic.AsFloat32()
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus := f()
		data[i] = orig - eps
		minus := f()
		data[i] = orig

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, grad[i], 2e-3, "%s[%d]", name, i)
	}
}

func TestBackward_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	emb := randomTensor(t, rng, tensor.Shape{5, 3})
	w := randomTensor(t, rng, tensor.Shape{3, 4})
	wh := randomTensor(t, rng, tensor.Shape{4, 4})
	bias := randomTensor(t, rng, tensor.Shape{4})
	tokens := ids(t, 1, 3, 1)
	labels := ids(t, 0, 2, 3, 0, 2, 3)

	forward := func(b tensor.Backend, reshape func(*tensor.RawTensor, tensor.Shape) *tensor.RawTensor) *tensor.RawTensor {
		x := b.Embedding(emb, tokens) // [3, 3]
		h1 := b.Tanh(b.AddBias(b.MatMul(x, w, false, false), bias))
		h2 := b.Tanh(b.Add(b.MatMul(x, w, false, false), b.MatMul(h1, wh, false, false)))
		stacked := b.Stack([]*tensor.RawTensor{h1, h2}) // [2, 3, 4]
		return b.CrossEntropy(reshape(stacked, tensor.Shape{6, 4}), labels)
	}

	backend := New(cpu.New())
	backend.Tape().StartRecording()
	loss := forward(backend, backend.Reshape)
	grads, err := Backward(loss, backend)
	require.NoError(t, err)

	inner := cpu.New()
	plain := func(x *tensor.RawTensor, s tensor.Shape) *tensor.RawTensor { return x.Reshape(s) }
	f := func() float64 { return float64(forward(inner, plain).AsFloat32()[0]) }

	checkGradient(t, "embedding", emb, grads.Of(emb), f)
	checkGradient(t, "w", w, grads.Of(w), f)
	checkGradient(t, "wh", wh, grads.Of(wh), f)
	checkGradient(t, "bias", bias, grads.Of(bias), f)
}

func TestBackward_MaskIsConstant(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := randomTensor(t, rng, tensor.Shape{2, 3})
	mask, err := tensor.FromFloat32([]float32{2, 0, 2, 0, 2, 2}, tensor.Shape{2, 3})
	require.NoError(t, err)

	backend := New(cpu.New())
	backend.Tape().StartRecording()
	loss := backend.CrossEntropy(backend.Mul(x, mask), ids(t, 1, 2))
	grads, err := Backward(loss, backend)
	require.NoError(t, err)

	assert.Nil(t, grads.Of(mask))
	gx := grads.Of(x).AsFloat32()
	assert.Zero(t, gx[1])
	assert.Zero(t, gx[3])
}

func TestBackward_EmbeddingGradientIsSparse(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	emb := randomTensor(t, rng, tensor.Shape{6, 2})
	w := randomTensor(t, rng, tensor.Shape{2, 3})

	backend := New(cpu.New())
	backend.Tape().StartRecording()
	a := backend.MatMul(backend.Embedding(emb, ids(t, 4, 1)), w, false, false)
	b := backend.MatMul(backend.Embedding(emb, ids(t, 1, 5)), w, false, false)
	loss := backend.CrossEntropy(backend.Add(a, b), ids(t, 0, 2))

	grads, err := Backward(loss, backend)
	require.NoError(t, err)

	g := grads.Of(emb)
	require.NotNil(t, g)
	assert.Equal(t, []int{1, 4, 5}, g.SparseRows())
	for _, row := range []int{0, 2, 3} {
		assert.Equal(t, []float32{0, 0}, g.Row(row))
	}
	assert.False(t, grads.Of(w).IsSparse())
}

func TestBackward_EmbeddingSharedWithDenseUse(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	emb := randomTensor(t, rng, tensor.Shape{3, 3})

	backend := New(cpu.New())
	backend.Tape().StartRecording()
	looked := backend.Embedding(emb, ids(t, 0, 2, 2))
	tied := backend.MatMul(looked, emb, false, false)
	loss := backend.CrossEntropy(tied, ids(t, 1, 0, 2))

	grads, err := Backward(loss, backend)
	require.NoError(t, err)

	// The dense use reaches the table first, so the lookup adds into a
	// dense gradient and the result stays dense.
	g := grads.Of(emb)
	require.NotNil(t, g)
	assert.False(t, g.IsSparse())
	assert.Len(t, g.AsFloat32(), 9)
}

func TestBackward_Errors(t *testing.T) {
	backend := New(cpu.New())
	loss := tensor.Zeros(tensor.Shape{1})

	_, err := Backward(loss, backend)
	assert.Error(t, err, "nothing recorded")

	backend.Tape().StartRecording()
	x := tensor.Zeros(tensor.Shape{2, 2})
	out := backend.Tanh(x)
	_, err = Backward(out, backend)
	assert.Error(t, err, "non-scalar loss")
}

func TestGradientTape_Recording(t *testing.T) {
	backend := New(cpu.New())
	tape := backend.Tape()
	x := tensor.Zeros(tensor.Shape{2})

	backend.Tanh(x)
	assert.Equal(t, 0, tape.NumOps(), "not recording")

	tape.StartRecording()
	backend.Tanh(x)
	backend.Add(x, x)
	assert.Equal(t, 2, tape.NumOps())
	assert.True(t, tape.IsRecording())

	tape.Clear()
	assert.Equal(t, 0, tape.NumOps())
	assert.True(t, tape.IsRecording(), "clear keeps recording state")

	tape.StopRecording()
	assert.False(t, tape.IsRecording())
}

func TestBackend_TransposedMatMulPanics(t *testing.T) {
	backend := New(cpu.New())
	x := tensor.Zeros(tensor.Shape{2, 2})
	assert.Panics(t, func() { backend.MatMul(x, x, true, false) })
	assert.Equal(t, "Autodiff(CPU)", backend.Name())
}

func TestGradients_Of(t *testing.T) {
	g := Gradients{}
	assert.Nil(t, g.Of(nil))
	x := tensor.Zeros(tensor.Shape{1})
	assert.Nil(t, g.Of(x))
}
