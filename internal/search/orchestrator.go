package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/optim"
	"github.com/born-ml/seqtune/internal/tensor"
)

// RunOptions configures one search.
type RunOptions struct {
	// Base is the configuration every trial starts from.
	Base  *config.Config
	Space map[string]config.Param
	// NumSamples is the number of trials launched by this run.
	NumSamples int
	// Resources is the total budget shared by concurrent trials; PerTrial is
	// what one trial takes from it.
	Resources config.Resources
	PerTrial  config.Resources
	Stop      StopPolicy
	// Metric and Mode name the discriminating metric.
	Metric string
	Mode   Mode
	// CheckpointDir receives the algorithm state after every terminal
	// trial. It is created only after the options are validated.
	CheckpointDir string
	// Resume restores the algorithm state from CheckpointDir first.
	Resume bool
	// OnTrialTerminal runs synchronously for every terminal trial, after
	// the algorithm state is saved and before the trial is released.
	OnTrialTerminal func(t *Trial)
}

// OptionsFromConfig derives run options from a loaded configuration.
// The checkpoint directory is <working_dir>/<experiment_name>/<method>.
func OptionsFromConfig(cfg *config.Config, method Method) (RunOptions, error) {
	mode, err := ParseMode(cfg.Tune.DiscriminatingMetricMode)
	if err != nil {
		return RunOptions{}, err
	}
	metric := cfg.Tune.DiscriminatingMetric
	return RunOptions{
		Base:       cfg,
		Space:      cfg.Tune.Space,
		NumSamples: cfg.Tune.NSamples,
		Resources:  cfg.Tune.Resources,
		PerTrial:   cfg.Tune.ResourcesPerTrial,
		Stop: StopPolicy{
			MaxExamples: cfg.Tune.MaxT,
			Patience:    cfg.Tune.Patience,
			Metric:      metric,
			Mode:        mode,
		},
		Metric:        metric,
		Mode:          mode,
		CheckpointDir: filepath.Join(cfg.Tune.WorkingDir, cfg.ExperimentName, method.Name()),
		Resume:        cfg.Tune.Resume,
	}, nil
}

// Orchestrator runs searches.
//
// A single control goroutine owns the search algorithm and the scheduler.
// Each concurrent trial runs on its own worker goroutine, pushes every
// report to the control goroutine and waits for its decision, so trials
// are only ever stopped between reports.
type Orchestrator struct {
	newRunner RunnerFactory
	logger    *log.Logger
}

// NewOrchestrator creates an orchestrator building trial runners with
// newRunner. A nil logger uses log.Default().
func NewOrchestrator(newRunner RunnerFactory, logger *log.Logger) *Orchestrator {
	return &Orchestrator{newRunner: newRunner, logger: logging.OrDefault(logger)}
}

// event is a message from a trial worker to the control goroutine.
type event struct {
	trial  *Trial
	report metrics.Report
	done   bool
	err    error
	reply  chan Decision
}

// Run executes a search with method and returns the results of every
// trial it launched.
//
// The method, space, metric and base configuration are validated before
// anything touches the filesystem; an invalid search creates no
// checkpoint directory and no trial. A failed trial is recorded and
// reported to the algorithm as a failure; it is not retried and does not
// abort the search. Cancelling ctx stops launching trials and interrupts
// the running ones at their next step; an interrupted trial is Stopped and
// records no final observation, so a resumed search suggests its
// assignment again.
func (o *Orchestrator) Run(ctx context.Context, method Method, opts RunOptions) (*Results, error) {
	if method == nil {
		return nil, fmt.Errorf("%w: no method", ErrUnsupportedMethod)
	}
	space, err := o.validate(opts)
	if err != nil {
		return nil, err
	}

	algo := newAlgorithm(method, space, opts.Mode)
	sched := newScheduler(method, opts.Metric, opts.Mode)
	logger := o.logger.With("method", method.Name())

	if err := os.MkdirAll(opts.CheckpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if opts.Resume {
		if err := algo.Restore(opts.CheckpointDir); err != nil {
			logger.Warn("unable to load trials, cold starting", "dir", opts.CheckpointDir, "err", err)
		} else {
			logger.Info("trials loaded, warm starting", "trials", algo.Observations())
		}
	}

	slots := concurrency(opts.Resources, opts.PerTrial, algo.MaxConcurrent())
	logger.Info("search started", "samples", opts.NumSamples, "concurrent", slots, "dir", opts.CheckpointDir)

	results := &Results{Metric: opts.Metric, Mode: opts.Mode}
	events := make(chan event)
	launched, running := 0, 0

	terminal := func(t *Trial) {
		sched.OnComplete(t.ID)
		last, ok := t.Last()
		v, hasMetric := last.Get(opts.Metric)
		if t.Interrupted() {
			algo.Forget(t.Assignment)
		} else {
			obs := Observation{TrialID: t.ID, Assignment: t.Assignment, Budget: last.Step, Value: v, Final: true}
			obs.Failed = t.Status() == Failed || !ok || !hasMetric
			if obs.Failed {
				obs.Value = 0
			}
			algo.Observe(obs)
		}
		if err := algo.Save(opts.CheckpointDir); err != nil {
			logger.Warn("checkpoint failed", "err", err)
		} else {
			logger.Debug("checkpointed", "observations", algo.Observations())
		}
		if opts.OnTrialTerminal != nil {
			opts.OnTrialTerminal(t)
		}
		t.Release()
		results.add(t)

		l := logger.With("trial", t.ID, "status", t.Status())
		if err := t.Err(); err != nil {
			l.Error("trial failed", "err", err)
		} else if t.Interrupted() {
			l.Warn("trial interrupted", "examples", last.Step)
		} else {
			l.Info("trial finished", "examples", last.Step, opts.Metric, v)
		}
	}

	launch := func() bool {
		if launched >= opts.NumSamples || ctx.Err() != nil {
			return false
		}
		a, ok := algo.Suggest()
		if !ok {
			logger.Info("search space exhausted", "launched", launched)
			return false
		}
		launched++
		cfg, err := opts.Base.With(a)
		t := NewTrial(cfg, a, opts.Stop, o.newRunner)
		if err != nil {
			t.Config = opts.Base
			t.finish(Failed, fmt.Errorf("apply assignment %s: %w", a.Key(), err))
			terminal(t)
			return true
		}
		running++
		logger.Info("trial started", "trial", t.ID, "assignment", a.Key())
		go work(ctx, t, events)
		return true
	}

	for running < slots && launch() {
	}
	for running > 0 {
		ev := <-events
		t := ev.trial
		if !ev.done {
			decision := sched.OnResult(t.ID, ev.report)
			if v, ok := ev.report.Get(opts.Metric); ok {
				algo.Observe(Observation{TrialID: t.ID, Assignment: t.Assignment, Value: v, Budget: ev.report.Step})
			}
			if decision == Continue {
				ev.reply <- Continue
				continue
			}
			t.finish(Stopped, nil)
			ev.reply <- Stop
			logger.Debug("scheduler stopped trial", "trial", t.ID, "examples", ev.report.Step)
		}
		running--
		terminal(t)
		for running < slots && launch() {
		}
	}

	logger.Info("search finished", "trials", len(results.Trials))
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// work drives one trial until it is terminal or the control goroutine
// stops it.
func work(ctx context.Context, t *Trial, events chan<- event) {
	for {
		report, done, err := t.Step(ctx)
		if done {
			events <- event{trial: t, report: report, done: true, err: err}
			return
		}
		reply := make(chan Decision, 1)
		events <- event{trial: t, report: report, reply: reply}
		if <-reply == Stop {
			return
		}
	}
}

func (o *Orchestrator) validate(opts RunOptions) (*Space, error) {
	if opts.Base == nil {
		return nil, fmt.Errorf("%w: no base configuration", config.ErrInvalid)
	}
	if err := optim.CheckSupported(opts.Base.Optimizer); err != nil {
		return nil, err
	}
	device, err := tensor.ParseDevice(opts.Base.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if !device.HasKernels() {
		return nil, fmt.Errorf("%w: %s has no training kernels", tensor.ErrDeviceUnavailable, device)
	}
	if opts.Metric == "" {
		return nil, fmt.Errorf("%w: no discriminating metric", config.ErrInvalid)
	}
	if opts.Mode != Max && opts.Mode != Min {
		return nil, fmt.Errorf("%w: metric mode must be max or min, got %q", config.ErrInvalid, opts.Mode)
	}
	if opts.NumSamples < 0 {
		return nil, fmt.Errorf("%w: negative sample count", config.ErrInvalid)
	}
	if opts.PerTrial.CPU <= 0 {
		return nil, fmt.Errorf("%w: resources_per_trial.cpu must be > 0", config.ErrInvalid)
	}
	if opts.CheckpointDir == "" {
		return nil, fmt.Errorf("%w: no checkpoint directory", config.ErrInvalid)
	}
	space, err := NewSpace(opts.Space)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	return space, nil
}

// concurrency returns how many trials fit in total at once, at least one.
func concurrency(total, perTrial config.Resources, algoMax int) int {
	n := int(math.Floor(total.CPU / perTrial.CPU))
	if perTrial.GPU > 0 {
		n = min(n, int(math.Floor(total.GPU/perTrial.GPU)))
	}
	if algoMax > 0 {
		n = min(n, algoMax)
	}
	return max(n, 1)
}

// TrialResult is the outcome of one trial.
type TrialResult struct {
	ID         string
	Assignment Assignment
	Status     Status
	// Last is the final report; Examples is its step.
	Last     metrics.Report
	Examples int64
	// Value is the last value of the discriminating metric; HasValue is
	// false when the trial never reported it.
	Value    float64
	HasValue bool
	Err      error
	// Interrupted is set for trials stopped by cancellation of the search.
	Interrupted bool
}

// Results collects the trials of a search in completion order.
type Results struct {
	Metric string
	Mode   Mode
	Trials []TrialResult
}

func (r *Results) add(t *Trial) {
	last, _ := t.Last()
	v, ok := last.Get(r.Metric)
	r.Trials = append(r.Trials, TrialResult{
		ID:          t.ID,
		Assignment:  t.Assignment,
		Status:      t.Status(),
		Last:        last,
		Examples:    last.Step,
		Value:       v,
		HasValue:    ok,
		Err:         t.Err(),
		Interrupted: t.Interrupted(),
	})
}

// Best returns the non-failed trial with the best final metric.
func (r *Results) Best() (TrialResult, bool) {
	var best TrialResult
	found := false
	for _, t := range r.Trials {
		if t.Status == Failed || !t.HasValue {
			continue
		}
		if !found || r.Mode.Better(t.Value, best.Value) {
			best, found = t, true
		}
	}
	return best, found
}

// Sorted returns the trials ordered best first; failed trials and trials
// without the metric come last.
func (r *Results) Sorted() []TrialResult {
	out := append([]TrialResult(nil), r.Trials...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOK := a.Status != Failed && a.HasValue
		bOK := b.Status != Failed && b.HasValue
		if aOK != bOK {
			return aOK
		}
		return aOK && r.Mode.Better(a.Value, b.Value)
	})
	return out
}

// Failed returns the number of failed trials.
func (r *Results) Failed() int {
	n := 0
	for _, t := range r.Trials {
		if t.Status == Failed {
			n++
		}
	}
	return n
}

// ErrNoTrials is returned by callers that need at least one successful
// trial.
var ErrNoTrials = errors.New("no successful trials")
