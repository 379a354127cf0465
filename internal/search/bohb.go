package search

import (
	"math/rand"
)

// BOHB is the model-based half of BOHB: a TPE fitted per budget.
//
// Every report of a trial is observed at the budget rung it reached
// (cumulative examples). A suggestion uses the observations of the largest
// rung that holds at least InitialPoints successful trials; until one
// does, suggestions are random.
type BOHB struct {
	history
	core          tpeCore
	mode          Mode
	budgets       []int64
	maxConcurrent int
}

// NewBOHB creates a BOHB search over the given budget rungs (ascending).
func NewBOHB(space *Space, mode Mode, cfg TPEConfig, budgets []int64, maxConcurrent int) *BOHB {
	cfg = cfg.withDefaults()
	return &BOHB{
		history: newHistory(space),
		core: tpeCore{
			space: space,
			cfg:   cfg,
			rng:   rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // G404: sampling does not need crypto randomness.
		},
		mode:          mode,
		budgets:       budgets,
		maxConcurrent: maxConcurrent,
	}
}

// Name implements Algorithm.
func (b *BOHB) Name() string { return MethodBOHB }

// rung returns the largest budget not above steps, or -1.
func (b *BOHB) rung(steps int64) int64 {
	r := int64(-1)
	for _, budget := range b.budgets {
		if budget <= steps {
			r = budget
		}
	}
	return r
}

// byBudget returns, per rung, the latest observation of every trial that
// reached it.
func (b *BOHB) byBudget() map[int64]map[string]scored {
	out := make(map[int64]map[string]scored)
	failed := make(map[string]bool)
	for _, o := range b.obs {
		if o.Failed {
			failed[o.TrialID] = true
		}
	}
	for _, o := range b.obs {
		if o.Failed || failed[o.TrialID] {
			continue
		}
		r := b.rung(o.Budget)
		if r < 0 {
			continue
		}
		if out[r] == nil {
			out[r] = make(map[string]scored)
		}
		out[r][o.TrialID] = scored{a: o.Assignment, loss: b.mode.Loss(o.Value)}
	}
	return out
}

// Suggest implements Algorithm.
func (b *BOHB) Suggest() (Assignment, bool) {
	if b.space.Len() == 0 {
		return Assignment{}, true
	}
	rungs := b.byBudget()
	var points []scored
	for i := len(b.budgets) - 1; i >= 0; i-- {
		trials := rungs[b.budgets[i]]
		if len(trials) >= b.core.cfg.InitialPoints {
			for _, s := range trials {
				points = append(points, s)
			}
			break
		}
	}

	var a Assignment
	ok := false
	if len(points) > 0 {
		a, ok = b.core.propose(points, b.Seen)
	}
	if !ok {
		a, ok = b.sampleUnseen(b.core.rng)
	}
	if ok {
		b.seen[a.Key()] = true
	}
	return a, ok
}

// Observe implements Algorithm. Intermediate observations are kept.
func (b *BOHB) Observe(obs Observation) {
	b.record(obs)
}

// MaxConcurrent implements Algorithm.
func (b *BOHB) MaxConcurrent() int { return b.maxConcurrent }

// Save implements Algorithm.
func (b *BOHB) Save(dir string) error { return b.save(dir, MethodBOHB) }

// Restore implements Algorithm.
func (b *BOHB) Restore(dir string) error {
	obs, err := b.load(dir, MethodBOHB)
	if err != nil {
		return err
	}
	b.history = newHistory(b.space)
	for _, o := range obs {
		b.Observe(o)
	}
	return nil
}
