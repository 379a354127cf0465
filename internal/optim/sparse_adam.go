package optim

import (
	"math"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/nn"
)

// SparseAdam is the lazy variant of Adam for parameters with sparse
// gradients.
//
// Only the rows listed in the gradient's SparseRows have their moments and
// values updated; every other row keeps its parameter value and its moment
// estimates. Each parameter keeps its own step count, which advances only
// when the parameter receives a gradient. A gradient without sparse rows is
// treated as touching every row.
type SparseAdam struct {
	params []*nn.Parameter
	cfg    AdamConfig
	state  map[*nn.Parameter]*sparseState
}

type sparseState struct {
	step int
	m, v []float32
}

// NewSparseAdam creates a SparseAdam optimizer with the same defaults as
// NewAdam.
func NewSparseAdam(params []*nn.Parameter, cfg AdamConfig) *SparseAdam {
	return &SparseAdam{
		params: params,
		cfg:    cfg.withDefaults(),
		state:  make(map[*nn.Parameter]*sparseState),
	}
}

// Step updates the touched rows of every parameter that has a gradient.
func (s *SparseAdam) Step(grads autodiff.Gradients) {
	for _, param := range s.params {
		grad := grads.Of(param.Tensor())
		if grad == nil {
			continue
		}
		param.SetGrad(grad)

		data := param.Tensor().AsFloat32()
		st, ok := s.state[param]
		if !ok {
			st = &sparseState{m: make([]float32, len(data)), v: make([]float32, len(data))}
			s.state[param] = st
		}
		st.step++
		bc1 := 1.0 - math.Pow(s.cfg.Betas[0], float64(st.step))
		bc2 := 1.0 - math.Pow(s.cfg.Betas[1], float64(st.step))

		g := grad.AsFloat32()
		if !grad.IsSparse() {
			adamUpdate(data, g, st.m, st.v, s.cfg, bc1, bc2)
			continue
		}
		cols := param.Tensor().Shape().Cols()
		for _, row := range grad.SparseRows() {
			lo, hi := row*cols, (row+1)*cols
			adamUpdate(data[lo:hi], g[lo:hi], st.m[lo:hi], st.v[lo:hi], s.cfg, bc1, bc2)
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SparseAdam) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// LR returns the learning rate.
func (s *SparseAdam) LR() float64 {
	return s.cfg.LR
}

// Params returns the optimized parameters.
func (s *SparseAdam) Params() []*nn.Parameter {
	return s.params
}
