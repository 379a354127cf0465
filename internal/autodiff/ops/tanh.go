package ops

import "github.com/born-ml/seqtune/internal/tensor"

// TanhOp is y = tanh(x). Its gradient is grad * (1 - y²), computed from the
// recorded output.
type TanhOp struct{ node }

// NewTanhOp records output = tanh(x).
func NewTanhOp(x, output *tensor.RawTensor) *TanhOp {
	return &TanhOp{newNode(output, x)}
}

// Backward implements Operation.
func (op *TanhOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad, err := tensor.NewRaw(op.output.Shape(), tensor.Float32, backend.Device())
	if err != nil {
		panic(err)
	}
	dx, dy, y := grad.AsFloat32(), outputGrad.AsFloat32(), op.output.AsFloat32()
	for i := range dx {
		dx[i] = dy[i] * (1 - y[i]*y[i])
	}
	return []*tensor.RawTensor{grad}
}
