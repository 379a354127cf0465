package nn

import (
	"fmt"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/tensor"
)

// CrossEntropyLoss computes the mean cross-entropy of per-step class scores
// against one label per sequence.
//
// Scores [T, B, C] are flattened to [T*B, C] and the labels [B] are repeated
// once per step, so every step of a sequence is supervised with the
// sequence's label.
//
// Example:
//
//	criterion := nn.NewCrossEntropyLoss(backend)
//	loss := criterion.Forward(model.Forward(tokens), labels)
type CrossEntropyLoss struct {
	backend *autodiff.Backend
}

// NewCrossEntropyLoss creates a loss recorded on backend.
func NewCrossEntropyLoss(backend *autodiff.Backend) *CrossEntropyLoss {
	return &CrossEntropyLoss{backend: backend}
}

// Forward returns the mean loss as a tensor of shape [1].
func (c *CrossEntropyLoss) Forward(scores, labels *tensor.RawTensor) *tensor.RawTensor {
	shape := scores.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("cross entropy: expected scores [steps, batch, classes], got %v", shape))
	}
	steps, batch, classes := shape[0], shape[1], shape[2]
	if labels.NumElements() != batch {
		panic(fmt.Sprintf("cross entropy: %d labels for batch of %d", labels.NumElements(), batch))
	}

	src := labels.AsInt32()
	repeated := make([]int32, 0, steps*batch)
	for t := 0; t < steps; t++ {
		repeated = append(repeated, src...)
	}
	targets, err := tensor.FromInt32(repeated, tensor.Shape{steps * batch})
	if err != nil {
		panic(err)
	}

	flat := c.backend.Reshape(scores, tensor.Shape{steps * batch, classes})
	return c.backend.CrossEntropy(flat, targets)
}
