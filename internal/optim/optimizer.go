// Package optim implements the optimizers used to train sequence models.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - Adam: Adaptive Moment Estimation for dense parameters
//   - SparseAdam: lazy Adam that only touches the rows present in a
//     sparse gradient (embedding tables)
//   - Group: the dense optimizer plus an optional sparse one, built from a
//     model's own dense/sparse parameter designation
//
// Example usage:
//
//	group, err := optim.BuildGroup(model, cfg.Optimizer)
//	if err != nil {
//	    return err
//	}
//
//	group.ZeroGrad()
//	backend.Tape().StartRecording()
//	loss := criterion.Forward(model.Forward(tokens), labels)
//	grads, _ := autodiff.Backward(loss, backend)
//	group.Step(grads)
package optim

import (
	"errors"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/nn"
)

// ErrUnsupportedOptimizer is returned by BuildGroup for any optimizer name
// other than the Adam family.
var ErrUnsupportedOptimizer = errors.New("unsupported optimizer")

// Optimizer updates a fixed set of parameters from their gradients.
type Optimizer interface {
	// Step applies one update to every parameter that has a gradient in
	// grads. Parameters absent from grads are left untouched.
	Step(grads autodiff.Gradients)

	// ZeroGrad clears the gradients recorded on the parameters.
	ZeroGrad()

	// LR returns the learning rate.
	LR() float64

	// Params returns the parameters bound to this optimizer.
	Params() []*nn.Parameter
}

// AdamConfig holds configuration for the Adam family.
type AdamConfig struct {
	LR    float64    // Learning rate (default: 0.001)
	Betas [2]float64 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float64    // Term for numerical stability (default: 1e-8)
}

// withDefaults fills zero fields with the Adam defaults.
func (c AdamConfig) withDefaults() AdamConfig {
	if c.LR == 0 {
		c.LR = 0.001
	}
	if c.Betas[0] == 0 {
		c.Betas[0] = 0.9
	}
	if c.Betas[1] == 0 {
		c.Betas[1] = 0.999
	}
	if c.Eps == 0 {
		c.Eps = 1e-8
	}
	return c
}
