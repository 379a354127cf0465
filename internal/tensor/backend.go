package tensor

// Backend defines the kernels a compute backend provides to the training
// stack. Backends handle the actual computation; autodiff decorates a
// Backend to record operations for the backward pass.
//
// Shapes follow the conventions of the sequence models trained here:
// matrices are [rows, cols], token ids are int32 and per-step outputs are
// stacked along a leading step dimension.
type Backend interface {
	// Name returns the backend name.
	Name() string

	// Device returns the device the backend computes on.
	Device() Device

	// Add returns a + b for tensors of equal shape.
	Add(a, b *RawTensor) *RawTensor

	// Mul returns the element-wise product of tensors of equal shape.
	Mul(a, b *RawTensor) *RawTensor

	// MatMul returns op(a) @ op(b) where op transposes when the flag is set.
	// Both operands are 2D.
	MatMul(a, b *RawTensor, transA, transB bool) *RawTensor

	// AddBias adds bias [cols] to every row of x [rows, cols].
	AddBias(x, bias *RawTensor) *RawTensor

	// SumRows reduces x [rows, cols] to [cols].
	SumRows(x *RawTensor) *RawTensor

	// Tanh applies the hyperbolic tangent element-wise.
	Tanh(x *RawTensor) *RawTensor

	// Embedding gathers rows of weight [num, dim] for int32 indices [n],
	// returning [n, dim].
	Embedding(weight, indices *RawTensor) *RawTensor

	// Stack stacks equally shaped tensors along a new leading dimension.
	Stack(xs []*RawTensor) *RawTensor

	// CrossEntropy returns the mean cross-entropy of logits [n, classes]
	// against int32 targets [n] as a tensor of shape [1].
	CrossEntropy(logits, targets *RawTensor) *RawTensor
}
