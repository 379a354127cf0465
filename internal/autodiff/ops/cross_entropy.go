package ops

import (
	"fmt"

	"github.com/born-ml/seqtune/internal/backend/cpu"
	"github.com/born-ml/seqtune/internal/tensor"
)

// CrossEntropyOp is the mean softmax cross-entropy of logits [N, C] against
// class ids [N].
//
// Forward:  L = -mean_n log softmax(logits_n)[target_n]
// Backward: dlogits_n = g * (softmax(logits_n) - onehot(target_n)) / N
//
// Targets are constants and receive no gradient.
type CrossEntropyOp struct {
	node
	targets *tensor.RawTensor
}

// NewCrossEntropyOp records a loss computed from logits and targets.
func NewCrossEntropyOp(logits, targets, loss *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{node: newNode(loss, logits), targets: targets}
}

// Backward returns the logits gradient.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	logits := op.inputs[0]
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross entropy backward: logits must be [N, C], got %v", shape))
	}
	n := shape[0]
	grad, err := tensor.NewRaw(shape, tensor.Float32, backend.Device())
	if err != nil {
		panic(err)
	}

	g := outputGrad.AsFloat32()[0] / float32(n)
	for i, target := range op.targets.AsInt32() {
		row := grad.Row(i)
		cpu.Softmax(row, logits.Row(i))
		row[target]--
		for j := range row {
			row[j] *= g
		}
	}
	return []*tensor.RawTensor{grad}
}
