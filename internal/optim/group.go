package optim

import (
	"fmt"
	"strings"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/nn"
)

// AdamName is the only supported optimizer family.
const AdamName = "adam"

// Group binds one optimizer to the model's dense parameters and, when the
// model has any, one sparse-aware optimizer to its sparse parameters.
// Every parameter belongs to exactly one optimizer.
type Group struct {
	Dense  Optimizer
	Sparse Optimizer // nil when the model has no sparse parameters
}

// BuildGroup partitions the model's parameters by their own dense/sparse
// designation and constructs the optimizers.
//
// Only the Adam family is supported: dense parameters get Adam and sparse
// parameters get SparseAdam. Any other name fails with
// ErrUnsupportedOptimizer before anything is allocated.
func BuildGroup(model nn.Model, cfg config.Optimizer) (*Group, error) {
	if err := CheckSupported(cfg); err != nil {
		return nil, err
	}
	adam := AdamConfig{LR: cfg.LR, Betas: cfg.Betas, Eps: cfg.Eps}
	g := &Group{Dense: NewAdam(model.DenseParameters(), adam)}
	if sparse := model.SparseParameters(); len(sparse) > 0 {
		g.Sparse = NewSparseAdam(sparse, adam)
	}
	return g, nil
}

// CheckSupported reports whether cfg names a supported optimizer.
func CheckSupported(cfg config.Optimizer) error {
	if strings.ToLower(cfg.Name) != AdamName {
		return fmt.Errorf("%w %q (only %q is supported)", ErrUnsupportedOptimizer, cfg.Name, AdamName)
	}
	return nil
}

// Optimizers returns the group's optimizers, dense first.
func (g *Group) Optimizers() []Optimizer {
	if g.Sparse == nil {
		return []Optimizer{g.Dense}
	}
	return []Optimizer{g.Dense, g.Sparse}
}

// Step steps every optimizer in the group.
func (g *Group) Step(grads autodiff.Gradients) {
	for _, opt := range g.Optimizers() {
		opt.Step(grads)
	}
}

// ZeroGrad clears gradients of every optimizer in the group.
func (g *Group) ZeroGrad() {
	for _, opt := range g.Optimizers() {
		opt.ZeroGrad()
	}
}
