package cpu

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/seqtune/internal/tensor"
)

// CrossEntropy computes mean(-log_softmax(logits)[targets]) for logits
// [n, classes] and int32 targets [n], returning a tensor of shape [1].
//
// log_softmax uses the log-sum-exp trick:
//
//	log_softmax(z) = z - (max(z) + log(Σ exp(z - max(z))))
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross_entropy: logits must be 2D [n, classes], got %v", shape))
	}
	n, classes := shape[0], shape[1]
	labels := targets.AsInt32()
	if len(labels) != n {
		panic(fmt.Sprintf("cross_entropy: %d targets for %d rows", len(labels), n))
	}

	total := 0.0
	scratch := make([]float64, classes)
	for r := 0; r < n; r++ {
		target := int(labels[r])
		if target < 0 || target >= classes {
			panic(fmt.Sprintf("cross_entropy: target %d out of range [0, %d)", target, classes))
		}
		row := logits.Row(r)
		total -= float64(row[target]) - logSumExp(scratch, row)
	}

	result := cpu.newFloat32(tensor.Shape{1}, "cross_entropy")
	result.AsFloat32()[0] = float32(total / float64(n))
	return result
}

// LogSumExp returns log(Σ exp(row)) computed stably.
func LogSumExp(row []float32) float64 {
	return logSumExp(make([]float64, len(row)), row)
}

// logSumExp widens row into scratch, which must hold len(row) values.
func logSumExp(scratch []float64, row []float32) float64 {
	scratch = scratch[:len(row)]
	for i, v := range row {
		scratch[i] = float64(v)
	}
	return floats.LogSumExp(scratch)
}

// Softmax writes softmax(row) into out.
func Softmax(out, row []float32) {
	lse := LogSumExp(row)
	for i, v := range row {
		out[i] = float32(math.Exp(float64(v) - lse))
	}
}
