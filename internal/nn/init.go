package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/seqtune/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// Draws come from rng so a model built twice from the same seed has the
// same weights.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return Uniform(bound, shape, rng)
}

// Uniform returns a tensor with values drawn from U(-bound, bound).
func Uniform(bound float64, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// Normal returns a tensor with values drawn from N(0, std²).
func Normal(std float64, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}
