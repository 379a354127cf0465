package autodiff

import (
	"fmt"

	"github.com/born-ml/seqtune/internal/tensor"
)

// Gradients maps a tensor that took part in the recorded computation to its
// accumulated gradient. Optimizers look parameters up by their raw tensor.
type Gradients map[*tensor.RawTensor]*tensor.RawTensor

// Of returns the gradient recorded for t, or nil when t did not take part in
// the computation.
func (g Gradients) Of(t *tensor.RawTensor) *tensor.RawTensor {
	if t == nil {
		return nil
	}
	return g[t]
}

// accumulate adds grad into the entry for t. Two sparse gradients stay sparse
// over the union of their rows; mixing with a dense gradient makes the
// result dense.
func (g Gradients) accumulate(t, grad *tensor.RawTensor, backend tensor.Backend) {
	existing, ok := g[t]
	if !ok {
		g[t] = grad
		return
	}
	sum := backend.Add(existing, grad)
	if existing.IsSparse() && grad.IsSparse() {
		sum.SetSparseRows(append(append([]int(nil), existing.SparseRows()...), grad.SparseRows()...))
	}
	g[t] = sum
}

// Backward computes gradients of the scalar loss with respect to everything
// recorded on the backend's tape.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	logits := model.Forward(tokens)
//	loss := backend.CrossEntropy(logits, labels)
//	grads, err := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
func Backward(loss *tensor.RawTensor, backend *Backend) (Gradients, error) {
	tape := backend.Tape()
	if tape.NumOps() == 0 {
		return nil, fmt.Errorf("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}
	if loss.NumElements() != 1 {
		return nil, fmt.Errorf("backward: loss must have one element, got shape %v", loss.Shape())
	}

	outputGrad, err := tensor.NewRaw(loss.Shape(), tensor.Float32, backend.Device())
	if err != nil {
		return nil, fmt.Errorf("backward: failed to create output gradient: %w", err)
	}
	outputGrad.AsFloat32()[0] = 1

	return tape.Backward(loss, outputGrad, backend.Inner()), nil
}
