package search

import (
	"math"
	"math/rand"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TPEConfig configures the Tree-structured Parzen Estimator.
type TPEConfig struct {
	// InitialPoints is the number of random draws before the model is used.
	InitialPoints int
	// Candidates is the number of draws from l(x) scored per suggestion.
	Candidates int
	// Gamma is the fraction of observations considered good.
	Gamma float64
	Seed  int64
}

func (c TPEConfig) withDefaults() TPEConfig {
	if c.InitialPoints <= 0 {
		c.InitialPoints = 7
	}
	if c.Candidates <= 0 {
		c.Candidates = 24
	}
	if c.Gamma <= 0 || c.Gamma >= 1 {
		c.Gamma = 0.25
	}
	return c
}

// scored is an assignment with the loss to minimise.
type scored struct {
	a    Assignment
	loss float64
}

// parzen is a Gaussian mixture over one dimension's internal scale: one
// component per observed point plus a wide prior component.
type parzen struct {
	mus, sigmas []float64
	logW        float64
	lo, hi      float64
}

func fitParzen(points []float64, lo, hi float64) parzen {
	span := hi - lo
	if span <= 0 {
		span = 1e-12
	}
	prior := lo + span/2
	mus := append(slices.Clone(points), prior)
	sort.Float64s(mus)
	priorIdx := sort.SearchFloat64s(mus, prior)

	minSigma := span / math.Min(100, float64(len(mus)))
	sigmas := make([]float64, len(mus))
	for i, mu := range mus {
		if i == priorIdx {
			sigmas[i] = span
			continue
		}
		left := mu - lo
		if i > 0 {
			left = mu - mus[i-1]
		}
		right := hi - mu
		if i < len(mus)-1 {
			right = mus[i+1] - mu
		}
		sigmas[i] = math.Min(math.Max(math.Max(left, right), minSigma), span)
	}
	return parzen{mus: mus, sigmas: sigmas, logW: -math.Log(float64(len(mus))), lo: lo, hi: hi}
}

func (p parzen) logPDF(x float64) float64 {
	terms := make([]float64, len(p.mus))
	for i := range p.mus {
		terms[i] = p.logW + distuv.Normal{Mu: p.mus[i], Sigma: p.sigmas[i]}.LogProb(x)
	}
	return floats.LogSumExp(terms)
}

func (p parzen) sample(rng *rand.Rand) float64 {
	i := rng.Intn(len(p.mus))
	x := p.mus[i] + p.sigmas[i]*rng.NormFloat64()
	return math.Min(math.Max(x, p.lo), p.hi)
}

// categorical is a smoothed frequency distribution over choices.
type categorical []float64

func fitCategorical(indices []int, n int) categorical {
	p := make(categorical, n)
	for i := range p {
		p[i] = 1 // prior count
	}
	for _, idx := range indices {
		p[idx]++
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

func (c categorical) sample(rng *rand.Rand) int {
	r := rng.Float64()
	for i, p := range c {
		r -= p
		if r < 0 {
			return i
		}
	}
	return len(c) - 1
}

// tpeCore proposes assignments from scored observations.
type tpeCore struct {
	space *Space
	cfg   TPEConfig
	rng   *rand.Rand
}

// propose splits points at the gamma quantile of their losses, fits l(x) on
// the good ones and g(x) on the rest, draws candidates from l(x) and returns
// the unseen candidate maximising l(x)/g(x).
func (t *tpeCore) propose(points []scored, seen func(string) bool) (Assignment, bool) {
	losses := make([]float64, len(points))
	for i, p := range points {
		losses[i] = p.loss
	}
	sort.Float64s(losses)
	threshold := stat.Quantile(t.cfg.Gamma, stat.Empirical, losses, nil)

	var good, bad []Assignment
	for _, p := range points {
		if p.loss <= threshold {
			good = append(good, p.a)
		} else {
			bad = append(bad, p.a)
		}
	}

	type model struct {
		l, g   parzen
		cl, cg categorical
	}
	models := make([]model, len(t.space.dims))
	for i, d := range t.space.dims {
		if d.Type == "categorical" {
			models[i].cl = fitCategorical(choiceIndices(d, good), len(d.Choices))
			models[i].cg = fitCategorical(choiceIndices(d, bad), len(d.Choices))
			continue
		}
		lo, hi := d.bounds()
		models[i].l = fitParzen(internalValues(d, good), lo, hi)
		models[i].g = fitParzen(internalValues(d, bad), lo, hi)
	}

	var best Assignment
	bestScore := math.Inf(-1)
	for c := 0; c < t.cfg.Candidates; c++ {
		a := make(Assignment, len(t.space.dims))
		score := 0.0
		for i, d := range t.space.dims {
			m := models[i]
			if d.Type == "categorical" {
				idx := m.cl.sample(t.rng)
				a[d.Path] = d.Choices[idx]
				score += math.Log(m.cl[idx]) - math.Log(m.cg[idx])
				continue
			}
			v := d.fromInternal(m.l.sample(t.rng))
			a[d.Path] = v
			u := d.toInternal(v)
			score += m.l.logPDF(u) - m.g.logPDF(u)
		}
		if seen(a.Key()) {
			continue
		}
		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	return best, best != nil
}

func choiceIndices(d Dimension, as []Assignment) []int {
	out := make([]int, 0, len(as))
	for _, a := range as {
		if idx := d.choiceIndex(a[d.Path]); idx >= 0 {
			out = append(out, idx)
		}
	}
	return out
}

func internalValues(d Dimension, as []Assignment) []float64 {
	out := make([]float64, 0, len(as))
	for _, a := range as {
		out = append(out, d.toInternal(a[d.Path]))
	}
	return out
}

// TPE is sequential Bayesian optimisation with a Tree-structured Parzen
// Estimator.
//
// The first InitialPoints suggestions are random; after that every
// suggestion is the best of Candidates draws from the density of good
// configurations, scored by the ratio of good to bad densities. Only final
// observations of trials that did not fail inform the model.
type TPE struct {
	history
	core          tpeCore
	mode          Mode
	maxConcurrent int
}

// NewTPE creates a TPE search minimising or maximising per mode.
func NewTPE(space *Space, mode Mode, cfg TPEConfig, maxConcurrent int) *TPE {
	cfg = cfg.withDefaults()
	return &TPE{
		history: newHistory(space),
		core: tpeCore{
			space: space,
			cfg:   cfg,
			rng:   rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // G404: sampling does not need crypto randomness.
		},
		mode:          mode,
		maxConcurrent: maxConcurrent,
	}
}

// Name implements Algorithm.
func (t *TPE) Name() string { return MethodHyperopt }

// Suggest implements Algorithm.
func (t *TPE) Suggest() (Assignment, bool) {
	if t.space.Len() == 0 {
		return Assignment{}, true
	}
	var points []scored
	for _, o := range t.finals() {
		if !o.Failed {
			points = append(points, scored{a: o.Assignment, loss: t.mode.Loss(o.Value)})
		}
	}

	var a Assignment
	ok := false
	if len(points) >= t.core.cfg.InitialPoints {
		a, ok = t.core.propose(points, t.Seen)
	}
	if !ok {
		a, ok = t.sampleUnseen(t.core.rng)
	}
	if ok {
		t.seen[a.Key()] = true
	}
	return a, ok
}

// Observe implements Algorithm. Intermediate observations are ignored.
func (t *TPE) Observe(obs Observation) {
	if obs.Final {
		t.record(obs)
	}
}

// MaxConcurrent implements Algorithm.
func (t *TPE) MaxConcurrent() int { return t.maxConcurrent }

// Save implements Algorithm.
func (t *TPE) Save(dir string) error { return t.save(dir, MethodHyperopt) }

// Restore implements Algorithm.
func (t *TPE) Restore(dir string) error {
	obs, err := t.load(dir, MethodHyperopt)
	if err != nil {
		return err
	}
	t.history = newHistory(t.space)
	for _, o := range obs {
		t.Observe(o)
	}
	return nil
}
