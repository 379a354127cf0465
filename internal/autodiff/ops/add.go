package ops

import "github.com/born-ml/seqtune/internal/tensor"

// AddOp is a + b for equally shaped tensors. Both inputs receive the output
// gradient unchanged.
type AddOp struct{ node }

// NewAddOp records output = a + b.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{newNode(output, a, b)}
}

// Backward implements Operation.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad, outputGrad}
}

// MaskOp is x * mask for a constant mask, used by inverted dropout: the
// mask holds 0 for dropped units and 1/(1-p) for kept ones.
type MaskOp struct {
	node
	mask *tensor.RawTensor
}

// NewMaskOp records output = x * mask.
func NewMaskOp(x, mask, output *tensor.RawTensor) *MaskOp {
	return &MaskOp{node: newNode(output, x), mask: mask}
}

// Backward implements Operation.
func (op *MaskOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.mask)}
}
