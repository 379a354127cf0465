package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [in_features, out_features]
//   - b is the bias vector with shape [out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
	backend     *autodiff.Backend
}

// NewLinear creates a new Linear layer named name.
func NewLinear(name string, inFeatures, outFeatures int, backend *autodiff.Backend, rng *rand.Rand) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", Xavier(inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures}, rng)),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outFeatures})),
		backend:     backend,
	}
}

// Forward computes x @ W + b for x [batch_size, in_features].
func (l *Linear) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	if shape := x.Shape(); len(shape) != 2 || shape[1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected input [batch, %d], got %v", l.inFeatures, shape))
	}
	return l.backend.AddBias(l.backend.MatMul(x, l.weight.Tensor(), false, false), l.bias.Tensor())
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Embedding is a lookup table that maps discrete indices to dense vectors.
//
// Architecture:
//   - Weight: [NumEmbed, EmbedDim] learnable parameter
//   - Forward: indices [n] -> embeddings [n, EmbedDim]
//   - Backward: gradients scatter-add to weight rows
//
// A sparse Embedding registers its weight as a sparse parameter, so only the
// rows looked up in a batch are touched by the optimizer.
type Embedding struct {
	Weight   *Parameter
	NumEmbed int
	EmbedDim int
	backend  *autodiff.Backend
}

// NewEmbedding creates an Embedding with weights drawn from N(0, 1).
func NewEmbedding(numEmbeddings, embeddingDim int, sparse bool, backend *autodiff.Backend, rng *rand.Rand) *Embedding {
	weight := Normal(1, tensor.Shape{numEmbeddings, embeddingDim}, rng)
	param := NewParameter("embedding.weight", weight)
	if sparse {
		param = NewSparseParameter("embedding.weight", weight)
	}
	return &Embedding{
		Weight:   param,
		NumEmbed: numEmbeddings,
		EmbedDim: embeddingDim,
		backend:  backend,
	}
}

// Forward performs the lookup for int32 indices and returns [n, EmbedDim].
// Panics if any index is out of bounds [0, NumEmbed).
func (e *Embedding) Forward(indices *tensor.RawTensor) *tensor.RawTensor {
	return e.backend.Embedding(e.Weight.Tensor(), indices)
}

// Parameters returns the list of trainable parameters.
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.Weight}
}

// Dropout zeroes activations with probability P in training mode and
// rescales the survivors by 1/(1-P) (inverted dropout). In evaluation mode it
// is the identity.
type Dropout struct {
	P       float64
	backend *autodiff.Backend
	rng     *rand.Rand
}

// NewDropout creates a Dropout layer drawing masks from rng.
func NewDropout(p float64, backend *autodiff.Backend, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, backend: backend, rng: rng}
}

// Forward applies dropout when training is true.
func (d *Dropout) Forward(x *tensor.RawTensor, training bool) *tensor.RawTensor {
	if !training || d.P == 0 {
		return x
	}
	mask := tensor.Zeros(x.Shape())
	keep := float32(1 / (1 - d.P))
	data := mask.AsFloat32()
	for i := range data {
		if d.rng.Float64() >= d.P {
			data[i] = keep
		}
	}
	return d.backend.Mul(x, mask)
}
