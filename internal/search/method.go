package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/seqtune/internal/config"
)

// ErrUnsupportedMethod is returned for an unknown tuning method name.
var ErrUnsupportedMethod = errors.New("unsupported tuning method")

// Method names accepted in tune.tuning_method.
const (
	MethodNoSearch = "no_search"
	MethodHyperopt = "hyperopt"
	MethodTPE      = "tpe"
	MethodBOHB     = "bohb"
)

// Method selects the search algorithm and scheduler pairing. It is one of
// NoSearch, SequentialBayesian or MultiFidelity.
type Method interface {
	// Name is the method name; it also names the checkpoint directory.
	Name() string
	method()
}

// NoSearch runs independent trials drawn at random from the space, or
// repeats the base configuration when the space is empty. Trials run to
// completion under a FIFO scheduler.
type NoSearch struct {
	Seed          int64
	MaxConcurrent int // 0 means no limit
}

// SequentialBayesian runs a Tree-structured Parzen Estimator under a FIFO
// scheduler.
type SequentialBayesian struct {
	TPE           TPEConfig
	MaxConcurrent int // 0 means one trial at a time
}

// MultiFidelity runs BOHB: a budget-aware Parzen estimator under an
// asynchronous HyperBand scheduler whose budget is cumulative examples.
type MultiFidelity struct {
	TPE           TPEConfig
	Eta           float64
	GracePeriod   int64
	MaxT          int64
	MaxConcurrent int // 0 means one trial at a time
}

// Name implements Method.
func (NoSearch) Name() string { return MethodNoSearch }

// Name implements Method.
func (SequentialBayesian) Name() string { return MethodHyperopt }

// Name implements Method.
func (MultiFidelity) Name() string { return MethodBOHB }

func (NoSearch) method()           {}
func (SequentialBayesian) method() {}
func (MultiFidelity) method()      {}

// ParseMethod selects the method named by t.TuningMethod and fills its
// parameters from t. Names are "no_search", "hyperopt" (or "tpe") and
// "bohb"; anything else is ErrUnsupportedMethod.
func ParseMethod(t config.Tune) (Method, error) {
	tpe := TPEConfig{
		InitialPoints: t.NInitialPoints,
		Candidates:    t.NCandidates,
		Gamma:         t.Gamma,
		Seed:          t.Seed,
	}
	switch strings.ToLower(t.TuningMethod) {
	case MethodNoSearch:
		return NoSearch{Seed: t.Seed, MaxConcurrent: t.MaxConcurrent}, nil
	case MethodHyperopt, MethodTPE:
		return SequentialBayesian{TPE: tpe, MaxConcurrent: t.MaxConcurrent}, nil
	case MethodBOHB:
		eta := t.ReductionFactor
		if eta <= 1 {
			return nil, fmt.Errorf("%w: tune.reduction_factor must be > 1, got %g", config.ErrInvalid, eta)
		}
		if t.GracePeriod <= 0 {
			return nil, fmt.Errorf("%w: tune.grace_period must be > 0, got %d", config.ErrInvalid, t.GracePeriod)
		}
		return MultiFidelity{
			TPE:           tpe,
			Eta:           eta,
			GracePeriod:   t.GracePeriod,
			MaxT:          t.MaxT,
			MaxConcurrent: t.MaxConcurrent,
		}, nil
	default:
		return nil, fmt.Errorf("%w %q (expected %s, %s or %s)",
			ErrUnsupportedMethod, t.TuningMethod, MethodNoSearch, MethodHyperopt, MethodBOHB)
	}
}

// Mode is the optimisation direction of the discriminating metric.
type Mode string

// Modes.
const (
	Max Mode = "max"
	Min Mode = "min"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case Max:
		return Max, nil
	case Min:
		return Min, nil
	default:
		return "", fmt.Errorf("%w: metric mode must be max or min, got %q", config.ErrInvalid, s)
	}
}

// Better reports whether a is strictly better than b.
func (m Mode) Better(a, b float64) bool {
	if m == Min {
		return a < b
	}
	return a > b
}

// Loss maps a metric value to a quantity to minimise.
func (m Mode) Loss(v float64) float64 {
	if m == Min {
		return v
	}
	return -v
}

// newAlgorithm builds the search algorithm of m.
func newAlgorithm(m Method, space *Space, mode Mode) Algorithm {
	switch m := m.(type) {
	case NoSearch:
		return NewRandom(space, m.Seed, m.MaxConcurrent)
	case SequentialBayesian:
		return NewTPE(space, mode, m.TPE, max(m.MaxConcurrent, 1))
	case MultiFidelity:
		return NewBOHB(space, mode, m.TPE, Rungs(m.GracePeriod, m.Eta, m.MaxT), max(m.MaxConcurrent, 1))
	default:
		panic(fmt.Sprintf("search: unknown method %T", m))
	}
}

// newScheduler builds the trial scheduler of m.
func newScheduler(m Method, metric string, mode Mode) Scheduler {
	if mf, ok := m.(MultiFidelity); ok {
		return NewAsyncHyperBand(metric, mode, mf.GracePeriod, mf.Eta, mf.MaxT)
	}
	return FIFO{}
}
