package optim

import (
	"math"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/nn"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)   // Parameter update
//
// Gradients are applied densely, including gradients that carry sparse
// rows. Use SparseAdam for embedding tables.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*nn.Parameter
	cfg    AdamConfig
	t      int                         // Timestep for bias correction
	m      map[*nn.Parameter][]float32 // First moment estimates
	v      map[*nn.Parameter][]float32 // Second moment estimates
}

// NewAdam creates a new Adam optimizer. Zero config fields take the
// defaults LR 0.001, betas (0.9, 0.999) and eps 1e-8.
func NewAdam(params []*nn.Parameter, cfg AdamConfig) *Adam {
	return &Adam{
		params: params,
		cfg:    cfg.withDefaults(),
		m:      make(map[*nn.Parameter][]float32),
		v:      make(map[*nn.Parameter][]float32),
	}
}

// Step performs a single optimization step.
// Parameters with no gradient are skipped.
func (a *Adam) Step(grads autodiff.Gradients) {
	a.t++
	bc1 := 1.0 - math.Pow(a.cfg.Betas[0], float64(a.t))
	bc2 := 1.0 - math.Pow(a.cfg.Betas[1], float64(a.t))

	for _, param := range a.params {
		grad := grads.Of(param.Tensor())
		if grad == nil {
			continue
		}
		param.SetGrad(grad)

		data := param.Tensor().AsFloat32()
		m, ok := a.m[param]
		if !ok {
			m = make([]float32, len(data))
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = make([]float32, len(data))
			a.v[param] = v
		}
		adamUpdate(data, grad.AsFloat32(), m, v, a.cfg, bc1, bc2)
	}
}

// adamUpdate applies the bias-corrected Adam rule element-wise.
func adamUpdate(param, grad, m, v []float32, cfg AdamConfig, bc1, bc2 float64) {
	beta1 := float32(cfg.Betas[0])
	beta2 := float32(cfg.Betas[1])
	lr := float32(cfg.LR)
	eps := float32(cfg.Eps)
	for i := range param {
		g := grad[i]
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / float32(bc1)
		vHat := v[i] / float32(bc2)
		param[i] -= lr * mHat / (float32(math.Sqrt(float64(vHat))) + eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// LR returns the learning rate.
func (a *Adam) LR() float64 {
	return a.cfg.LR
}

// Params returns the optimized parameters.
func (a *Adam) Params() []*nn.Parameter {
	return a.params
}

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int {
	return a.t
}
