// Package train implements the single-configuration training routine: the
// training step, the evaluator and the loop that drives them over epochs
// and emits metric reports.
package train

import (
	"fmt"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/data"
	"github.com/born-ml/seqtune/internal/nn"
	"github.com/born-ml/seqtune/internal/optim"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Criterion maps per-step class scores [T, B, C] and labels [B] to a scalar
// loss tensor.
type Criterion interface {
	Forward(scores, labels *tensor.RawTensor) *tensor.RawTensor
}

// Step runs one forward/backward/update cycle over batch.
//
// Accuracy is measured on the last output step only, while the loss
// supervises every step (labels repeated once per step). It mutates the
// model parameters and the optimizer state and has no other side effects.
func Step(batch data.Batch, model nn.Model, group *optim.Group, criterion Criterion) (loss, accuracy float64, err error) {
	model.Train(true)
	group.ZeroGrad()

	backend := model.Backend()
	tape := backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	scores := model.Forward(batch.Tokens)
	accuracy = Accuracy(scores, batch.Labels)
	lossT := criterion.Forward(scores, batch.Labels)

	grads, err := autodiff.Backward(lossT, backend)
	if err != nil {
		return 0, 0, fmt.Errorf("train step: %w", err)
	}
	group.Step(grads)

	return float64(lossT.AsFloat32()[0]), accuracy, nil
}

// Accuracy returns the fraction of labels matched by the argmax of the
// final output step of scores [T, B, C]. Ties resolve to the lowest class.
func Accuracy(scores, labels *tensor.RawTensor) float64 {
	shape := scores.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("accuracy: expected scores [steps, batch, classes], got %v", shape))
	}
	steps, batch, classes := shape[0], shape[1], shape[2]
	if labels.NumElements() != batch {
		panic(fmt.Sprintf("accuracy: %d labels for batch of %d", labels.NumElements(), batch))
	}
	if batch == 0 {
		return 0
	}

	last := scores.AsFloat32()[(steps-1)*batch*classes:]
	want := labels.AsInt32()
	correct := 0
	for b := 0; b < batch; b++ {
		row := last[b*classes : (b+1)*classes]
		best := 0
		for c := 1; c < classes; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if int32(best) == want[b] { //nolint:gosec // G115: class index < n_classes.
			correct++
		}
	}
	return float64(correct) / float64(batch)
}
