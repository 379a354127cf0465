package search

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/seqtune/internal/metrics"
)

// Decision is a scheduler's verdict on a running trial.
type Decision int

// Decisions.
const (
	Continue Decision = iota
	Stop
)

func (d Decision) String() string {
	if d == Stop {
		return "stop"
	}
	return "continue"
}

// Scheduler decides at every report whether a trial keeps running.
type Scheduler interface {
	OnResult(trialID string, r metrics.Report) Decision
	OnComplete(trialID string)
}

// FIFO lets every trial run until its own stop policy ends it.
type FIFO struct{}

// OnResult implements Scheduler.
func (FIFO) OnResult(string, metrics.Report) Decision { return Continue }

// OnComplete implements Scheduler.
func (FIFO) OnComplete(string) {}

// maxRungs bounds the rung ladder when max_t is unset.
const maxRungs = 16

// Rungs returns the milestones grace*eta^k below maxT, ascending. A
// non-positive maxT yields at most maxRungs milestones.
func Rungs(grace int64, eta float64, maxT int64) []int64 {
	var out []int64
	if grace <= 0 || eta <= 1 {
		return out
	}
	for k := 0; k < maxRungs; k++ {
		m := int64(math.Round(float64(grace) * math.Pow(eta, float64(k))))
		if maxT > 0 && m >= maxT {
			break
		}
		out = append(out, m)
	}
	return out
}

// AsyncHyperBand stops trials asynchronously at rungs of cumulative
// examples.
//
// When a trial first reaches a rung, its metric is compared with the
// values previously recorded at that rung: it continues only if it is
// within the top 1/eta of them. The first trial at a rung always continues.
type AsyncHyperBand struct {
	metric string
	mode   Mode
	eta    float64
	rungs  []int64
	// recorded[rung][trial] is the metric value recorded when trial reached rung.
	recorded map[int64]map[string]float64
}

// NewAsyncHyperBand creates the scheduler.
func NewAsyncHyperBand(metric string, mode Mode, grace int64, eta float64, maxT int64) *AsyncHyperBand {
	return &AsyncHyperBand{
		metric:   metric,
		mode:     mode,
		eta:      eta,
		rungs:    Rungs(grace, eta, maxT),
		recorded: make(map[int64]map[string]float64),
	}
}

// OnResult implements Scheduler. Only the highest newly reached rung is
// judged.
func (s *AsyncHyperBand) OnResult(trialID string, r metrics.Report) Decision {
	v, ok := r.Get(s.metric)
	if !ok || math.IsNaN(v) {
		return Continue
	}
	for i := len(s.rungs) - 1; i >= 0; i-- {
		milestone := s.rungs[i]
		if r.Step < milestone {
			continue
		}
		rung := s.recorded[milestone]
		if rung == nil {
			rung = make(map[string]float64)
			s.recorded[milestone] = rung
		}
		if _, done := rung[trialID]; done {
			return Continue
		}
		decision := Continue
		if cutoff, ok := s.cutoff(rung); ok && s.mode.Better(cutoff, v) {
			decision = Stop
		}
		rung[trialID] = v
		return decision
	}
	return Continue
}

// cutoff returns the value a trial must match to be in the top 1/eta of
// the rung.
func (s *AsyncHyperBand) cutoff(rung map[string]float64) (float64, bool) {
	if len(rung) == 0 {
		return 0, false
	}
	values := make([]float64, 0, len(rung))
	for _, v := range rung {
		values = append(values, s.mode.Loss(v))
	}
	sort.Float64s(values)
	q := stat.Quantile(1/s.eta, stat.LinInterp, values, nil)
	return s.mode.Loss(q), true
}

// OnComplete implements Scheduler.
func (s *AsyncHyperBand) OnComplete(string) {}
