package train

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/seqtune/internal/data"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/nn"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Evaluator runs a full pass of the evaluation set through a model.
type Evaluator struct {
	loader *data.Loader
	device tensor.Device
}

// NewEvaluator creates an evaluator over loader. The loader should not
// shuffle, so repeated evaluations see the same batches. Each batch is
// moved to device before the forward pass.
func NewEvaluator(loader *data.Loader, device tensor.Device) *Evaluator {
	return &Evaluator{loader: loader, device: device}
}

// Evaluate returns eval_loss and eval_accuracy (means over examples) and
// eval_examples.
//
// The model is switched to evaluation mode and the gradient tape is paused
// for the duration of the pass; both are restored afterwards. Parameters
// are never modified.
func (e *Evaluator) Evaluate(ctx context.Context, model nn.Model, criterion Criterion) (map[string]float64, error) {
	wasTraining := model.Training()
	model.Train(false)
	defer model.Train(wasTraining)

	tape := model.Backend().Tape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	it := e.loader.Epoch(ctx)
	defer it.Close()

	var losses, accs, weights []float64
	for {
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		if batch, err = batch.To(e.device); err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		scores := model.Forward(batch.Tokens)
		loss := criterion.Forward(scores, batch.Labels)
		losses = append(losses, float64(loss.AsFloat32()[0]))
		accs = append(accs, Accuracy(scores, batch.Labels))
		weights = append(weights, float64(batch.Size()))
	}

	return map[string]float64{
		metrics.EvalLoss:     stat.Mean(losses, weights),
		metrics.EvalAccuracy: stat.Mean(accs, weights),
		metrics.EvalExamples: floats.Sum(weights),
	}, nil
}
