package ops

import "github.com/born-ml/seqtune/internal/tensor"

// MatMulOp is a @ b.
//
//	dA = grad @ Bᵀ
//	dB = Aᵀ @ grad
//
// The transposes are passed to the backend as flags, never materialised.
type MatMulOp struct{ node }

// NewMatMulOp records output = a @ b.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{newNode(output, a, b)}
}

// Backward implements Operation.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		backend.MatMul(outputGrad, b, false, true),
		backend.MatMul(a, outputGrad, true, false),
	}
}

// AddBiasOp is x [N, D] plus bias [D] added to every row. The bias gradient
// is the column sum of the output gradient.
type AddBiasOp struct{ node }

// NewAddBiasOp records output = x + bias.
func NewAddBiasOp(x, bias, output *tensor.RawTensor) *AddBiasOp {
	return &AddBiasOp{newNode(output, x, bias)}
}

// Backward implements Operation.
func (op *AddBiasOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad, backend.SumRows(outputGrad)}
}
