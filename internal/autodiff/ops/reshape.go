package ops

import "github.com/born-ml/seqtune/internal/tensor"

// ReshapeOp is a view of x with a new shape. The gradient is the output
// gradient viewed with the shape of x.
type ReshapeOp struct{ node }

// NewReshapeOp records output = reshape(x).
func NewReshapeOp(x, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{newNode(output, x)}
}

// Backward implements Operation.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad.Reshape(op.inputs[0].Shape())}
}

// StackOp stacks equally shaped tensors along a new leading dimension. Input
// i receives slice i of the output gradient.
type StackOp struct{ node }

// NewStackOp records output = stack(inputs).
func NewStackOp(inputs []*tensor.RawTensor, output *tensor.RawTensor) *StackOp {
	return &StackOp{newNode(output, inputs...)}
}

// Backward implements Operation.
func (op *StackOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	data := outputGrad.AsFloat32()
	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		n := in.NumElements()
		g, err := tensor.FromFloat32(data[offset:offset+n], in.Shape())
		if err != nil {
			panic(err)
		}
		grads[i] = g
		offset += n
	}
	return grads
}
