package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/tensor"
)

// RNNName is the registry name of the reference recurrent classifier.
const RNNName = "rnn"

// rnnLayer is one Elman recurrence: h_t = tanh(x_t @ Wx + h_{t-1} @ Wh + b).
type rnnLayer struct {
	wx   *Parameter // [in, hidden]
	wh   *Parameter // [hidden, hidden]
	bias *Parameter // [hidden]
}

// RNN is a stacked Elman recurrent network over token embeddings with a
// per-step linear classification head.
//
// Architecture:
//
//	tokens [B, T] -> Embedding -> RNN x NumLayers -> Linear -> [T, B, C]
//
// Every step produces class scores so the loss can supervise the whole
// sequence; the last step is the end-of-sequence prediction. Dropout is
// applied between stacked layers and before the head in training mode.
type RNN struct {
	cfg       config.Model
	embedding *Embedding
	layers    []rnnLayer
	head      *Linear
	dropout   *Dropout
	backend   *autodiff.Backend
	training  bool
}

// NewRNN builds the reference model for a vocabulary of vocabSize ids.
// Weights are drawn from a generator seeded with seed.
func NewRNN(vocabSize int, cfg config.Model, backend *autodiff.Backend, seed int64) (*RNN, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("rnn: vocabulary size must be positive, got %d", vocabSize)
	}
	if cfg.EmbeddingSize <= 0 || cfg.HiddenSize <= 0 || cfg.NumLayers <= 0 || cfg.NClasses <= 0 {
		return nil, fmt.Errorf("rnn: embedding_size, hidden_size, num_layers and n_classes must be positive")
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("rnn: dropout must be in [0, 1), got %v", cfg.Dropout)
	}

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // G404: weight init does not need crypto randomness.
	m := &RNN{
		cfg:       cfg,
		embedding: NewEmbedding(vocabSize, cfg.EmbeddingSize, cfg.SparseEmbedding, backend, rng),
		backend:   backend,
		training:  true,
	}

	bound := 1 / math.Sqrt(float64(cfg.HiddenSize))
	in := cfg.EmbeddingSize
	for i := 0; i < cfg.NumLayers; i++ {
		prefix := fmt.Sprintf("rnn.%d", i)
		m.layers = append(m.layers, rnnLayer{
			wx:   NewParameter(prefix+".wx", Uniform(bound, tensor.Shape{in, cfg.HiddenSize}, rng)),
			wh:   NewParameter(prefix+".wh", Uniform(bound, tensor.Shape{cfg.HiddenSize, cfg.HiddenSize}, rng)),
			bias: NewParameter(prefix+".bias", Uniform(bound, tensor.Shape{cfg.HiddenSize}, rng)),
		})
		in = cfg.HiddenSize
	}
	m.head = NewLinear("head", cfg.HiddenSize, cfg.NClasses, backend, rng)
	m.dropout = NewDropout(cfg.Dropout, backend, rng)
	return m, nil
}

// Forward maps tokens [B, T] to class scores [T, B, C].
func (m *RNN) Forward(tokens *tensor.RawTensor) *tensor.RawTensor {
	shape := tokens.Shape()
	if len(shape) != 2 || tokens.DType() != tensor.Int32 {
		panic(fmt.Sprintf("rnn: expected int32 tokens [batch, seq], got %s %v", tokens.DType(), shape))
	}
	batch, steps := shape[0], shape[1]
	if steps == 0 {
		panic("rnn: empty sequences")
	}

	ids := tokens.AsInt32()
	inputs := make([]*tensor.RawTensor, steps)
	for t := 0; t < steps; t++ {
		column := make([]int32, batch)
		for b := 0; b < batch; b++ {
			column[b] = ids[b*steps+t]
		}
		idx, err := tensor.FromInt32(column, tensor.Shape{batch})
		if err != nil {
			panic(err)
		}
		inputs[t] = m.embedding.Forward(idx)
	}

	for i, layer := range m.layers {
		if i > 0 {
			for t := range inputs {
				inputs[t] = m.dropout.Forward(inputs[t], m.training)
			}
		}
		var h *tensor.RawTensor
		for t, x := range inputs {
			pre := m.backend.MatMul(x, layer.wx.Tensor(), false, false)
			if h != nil {
				pre = m.backend.Add(pre, m.backend.MatMul(h, layer.wh.Tensor(), false, false))
			}
			h = m.backend.Tanh(m.backend.AddBias(pre, layer.bias.Tensor()))
			inputs[t] = h
		}
	}

	scores := make([]*tensor.RawTensor, steps)
	for t, h := range inputs {
		scores[t] = m.head.Forward(m.dropout.Forward(h, m.training))
	}
	return m.backend.Stack(scores)
}

// Parameters returns every trainable parameter, embedding first.
func (m *RNN) Parameters() []*Parameter {
	params := append([]*Parameter(nil), m.embedding.Parameters()...)
	for _, l := range m.layers {
		params = append(params, l.wx, l.wh, l.bias)
	}
	return append(params, m.head.Parameters()...)
}

// DenseParameters returns the parameters for the dense optimizer.
func (m *RNN) DenseParameters() []*Parameter {
	dense, _ := SplitParameters(m.Parameters())
	return dense
}

// SparseParameters returns the embedding table when it is sparse.
func (m *RNN) SparseParameters() []*Parameter {
	_, sparse := SplitParameters(m.Parameters())
	return sparse
}

// Train sets training mode.
func (m *RNN) Train(training bool) {
	m.training = training
}

// Training reports whether dropout is active.
func (m *RNN) Training() bool {
	return m.training
}

// Backend returns the autodiff backend.
func (m *RNN) Backend() *autodiff.Backend {
	return m.backend
}
