package autodiff

import (
	"github.com/born-ml/seqtune/internal/autodiff/ops"
	"github.com/born-ml/seqtune/internal/tensor"
)

// GradientTape is the op log of one forward pass.
//
// The training step records a single batch on it, walks it backwards once and
// clears it; evaluation pauses recording so nothing accumulates. A tape
// belongs to one model and is not safe for concurrent use.
//
//	tape.Clear()
//	tape.StartRecording()
//	loss := criterion.Forward(model.Forward(tokens), labels)
//	grads := tape.Backward(loss, ones, backend)
type GradientTape struct {
	ops       []ops.Operation
	recording bool
}

// NewGradientTape creates an idle tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{ops: make([]ops.Operation, 0, 64)}
}

// StartRecording makes Record keep operations.
func (t *GradientTape) StartRecording() { t.recording = true }

// StopRecording makes Record drop operations.
func (t *GradientTape) StopRecording() { t.recording = false }

// IsRecording reports whether Record keeps operations.
func (t *GradientTape) IsRecording() bool { return t.recording }

// Record appends op while recording.
func (t *GradientTape) Record(op ops.Operation) {
	if !t.recording {
		return
	}
	t.ops = append(t.ops, op)
}

// Clear drops the recorded operations and the tensors they hold. The
// recording flag is left as is.
func (t *GradientTape) Clear() {
	clear(t.ops)
	t.ops = t.ops[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.ops)
}

// Backward propagates outputGrad from output back through the tape and
// returns the gradient of every tensor reached, summed over all its uses.
// Operations whose output received no gradient are skipped. A Scatterer
// whose input already holds a sparse gradient adds into it in place.
// Nothing is recorded while it runs.
func (t *GradientTape) Backward(output, outputGrad *tensor.RawTensor, backend tensor.Backend) Gradients {
	grads := Gradients{}
	if len(t.ops) == 0 {
		return grads
	}

	defer func(recording bool) { t.recording = recording }(t.recording)
	t.recording = false

	grads[output] = outputGrad
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		upstream := grads.Of(op.Output())
		if upstream == nil {
			continue
		}
		inputs := op.Inputs()
		if s, ok := op.(ops.Scatterer); ok {
			if dst := grads.Of(inputs[0]); dst != nil && dst.IsSparse() {
				s.ScatterInto(upstream, dst)
				continue
			}
		}
		for j, g := range op.Backward(upstream, backend) {
			if g != nil && j < len(inputs) {
				grads.accumulate(inputs[j], g, backend)
			}
		}
	}
	return grads
}
