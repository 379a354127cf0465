// Package search implements hyperparameter search over the training
// routine: trials, search spaces, search algorithms, early-stopping
// schedulers and the orchestrator that runs them concurrently with
// checkpointing.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/metrics"
)

// ErrTrialFinished is returned by Step on a trial in a terminal state.
var ErrTrialFinished = errors.New("trial already finished")

// Status is the lifecycle state of a trial.
type Status int

// Trial states.
const (
	Created Status = iota
	Running
	Completed
	Stopped
	Failed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Stopped:
		return "STOPPED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the state is final.
func (s Status) Terminal() bool {
	return s == Completed || s == Stopped || s == Failed
}

// RunStatus maps a terminal trial state to a metrics run status.
func (s Status) RunStatus() metrics.RunStatus {
	switch s {
	case Completed:
		return metrics.RunStatusFinished
	case Stopped:
		return metrics.RunStatusKilled
	case Failed:
		return metrics.RunStatusFailed
	default:
		return metrics.RunStatusRunning
	}
}

// Runner advances a training run one reporting unit at a time. It is
// satisfied by *train.Loop.
type Runner interface {
	Next(ctx context.Context) (metrics.Report, error)
	Close()
}

// RunnerFactory builds the runner of a trial.
type RunnerFactory func(ctx context.Context, t *Trial) (Runner, error)

// StopPolicy ends a trial on its own progress, independently of the
// scheduler.
type StopPolicy struct {
	// MaxExamples completes the trial once it has seen this many
	// cumulative examples; 0 disables it.
	MaxExamples int64
	// Patience completes the trial after this many consecutive reports
	// without improvement of the metric; 0 disables it.
	Patience int
	Metric   string
	Mode     Mode
}

// Trial is one configuration of the training routine with its progress.
//
// The runner is built lazily on the first Step, exactly once. Step is
// driven by one goroutine at a time; the accessors are safe to call
// concurrently with it.
type Trial struct {
	ID         string
	Config     *config.Config
	Assignment Assignment

	policy    StopPolicy
	newRunner RunnerFactory
	runner    Runner
	stale     int

	mu       sync.Mutex
	status   Status
	last     metrics.Report
	reports  int
	best     float64
	hasBest  bool
	err      error
	released bool
	// interrupted marks a trial stopped by cancellation of its context.
	interrupted bool
}

// NewTrial creates a trial in the Created state.
func NewTrial(cfg *config.Config, a Assignment, policy StopPolicy, newRunner RunnerFactory) *Trial {
	return &Trial{
		ID:         uuid.NewString(),
		Config:     cfg,
		Assignment: a,
		policy:     policy,
		newRunner:  newRunner,
		best:       math.NaN(),
	}
}

// Step advances the trial by one reporting unit.
//
// It returns the new report (zero when the run ended without one), whether
// the trial has reached a terminal state, and the error that failed it.
// A panic inside the training run fails the trial. A run ended by
// cancellation of ctx stops the trial as interrupted instead: its result is
// unknown, not bad. Step does not release the trial's resources; call
// Release once the trial is terminal.
func (t *Trial) Step(ctx context.Context) (report metrics.Report, done bool, err error) {
	if t.Status().Terminal() {
		return metrics.Report{}, true, ErrTrialFinished
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trial %s panicked: %v", t.ID, r)
			t.finish(Failed, err)
			report, done = metrics.Report{}, true
		}
	}()

	if t.runner == nil {
		t.setStatus(Running)
		runner, err := t.newRunner(ctx, t)
		if err != nil {
			if cancelled(ctx, err) {
				t.interrupt()
				return metrics.Report{}, true, nil
			}
			err = fmt.Errorf("trial %s setup: %w", t.ID, err)
			t.finish(Failed, err)
			return metrics.Report{}, true, err
		}
		t.runner = runner
	}

	report, err = t.runner.Next(ctx)
	if errors.Is(err, io.EOF) {
		t.finish(Completed, nil)
		return metrics.Report{}, true, nil
	}
	if cancelled(ctx, err) {
		t.interrupt()
		return metrics.Report{}, true, nil
	}
	if err != nil {
		err = fmt.Errorf("trial %s: %w", t.ID, err)
		t.finish(Failed, err)
		return metrics.Report{}, true, err
	}

	if t.observe(report) {
		t.finish(Completed, nil)
		return report, true, nil
	}
	return report, false, nil
}

// observe records report and reports whether the stop policy ends the
// trial.
func (t *Trial) observe(r metrics.Report) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = r
	t.reports++

	if v, ok := r.Get(t.policy.Metric); ok && !math.IsNaN(v) {
		if !t.hasBest || t.policy.Mode.Better(v, t.best) {
			t.best, t.hasBest = v, true
			t.stale = 0
		} else {
			t.stale++
		}
	}

	if t.policy.MaxExamples > 0 && r.Step >= t.policy.MaxExamples {
		return true
	}
	return t.policy.Patience > 0 && t.stale >= t.policy.Patience
}

// cancelled reports whether err is the cancellation of ctx.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (t *Trial) interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = Stopped
	t.interrupted = true
}

func (t *Trial) setStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.Terminal() {
		t.status = s
	}
}

// finish moves the trial to a terminal state. The first terminal state
// wins.
func (t *Trial) finish(s Status, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
	t.err = err
}

// Stop marks a non-terminal trial as Stopped and releases it.
func (t *Trial) Stop() {
	t.finish(Stopped, nil)
	t.Release()
}

// Release frees the trial's model and data pipeline. It is idempotent.
func (t *Trial) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	runner := t.runner
	t.runner = nil
	t.mu.Unlock()
	if runner != nil {
		runner.Close()
	}
}

// Status returns the trial state.
func (t *Trial) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Last returns the latest report and whether there is one.
func (t *Trial) Last() (metrics.Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.reports > 0
}

// Best returns the best value of the policy metric seen so far.
func (t *Trial) Best() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best, t.hasBest
}

// Interrupted reports whether the trial was stopped by cancellation before
// its result was known.
func (t *Trial) Interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// Err returns the error that failed the trial.
func (t *Trial) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
