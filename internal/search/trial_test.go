package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/metrics"
)

// scriptedRunner replays reports, then returns err (io.EOF by default).
type scriptedRunner struct {
	reports []metrics.Report
	err     error
	panicAt int // 1-based call that panics; 0 never
	calls   int
	closed  atomic.Int32
}

func (r *scriptedRunner) Next(context.Context) (metrics.Report, error) {
	r.calls++
	if r.calls == r.panicAt {
		panic("boom")
	}
	if r.calls > len(r.reports) {
		if r.err != nil {
			return metrics.Report{}, r.err
		}
		return metrics.Report{}, io.EOF
	}
	return r.reports[r.calls-1], nil
}

func (r *scriptedRunner) Close() { r.closed.Add(1) }

func reports(metric string, values ...float64) []metrics.Report {
	out := make([]metrics.Report, len(values))
	for i, v := range values {
		out[i] = report(int64(10*(i+1)), metric, v)
	}
	return out
}

func runnerFactory(r Runner) RunnerFactory {
	return func(context.Context, *Trial) (Runner, error) { return r, nil }
}

func drive(t *testing.T, trial *Trial) (steps int, err error) {
	t.Helper()
	for i := 0; i < 100; i++ {
		_, done, err := trial.Step(context.Background())
		steps++
		if done {
			return steps, err
		}
	}
	t.Fatal("trial never finished")
	return
}

func TestTrial_RunsToCompletion(t *testing.T) {
	r := &scriptedRunner{reports: reports("acc", 0.1, 0.2, 0.3)}
	trial := NewTrial(config.Default(), Assignment{}, StopPolicy{Metric: "acc", Mode: Max}, runnerFactory(r))
	assert.Equal(t, Created, trial.Status())
	assert.NotEmpty(t, trial.ID)

	report, done, err := trial.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(10), report.Step)
	assert.Equal(t, Running, trial.Status())

	steps, err := drive(t, trial)
	require.NoError(t, err)
	assert.Equal(t, 3, steps, "two more reports, then the end of the run")
	assert.Equal(t, Completed, trial.Status())

	last, ok := trial.Last()
	require.True(t, ok)
	assert.Equal(t, int64(30), last.Step)
	best, ok := trial.Best()
	require.True(t, ok)
	assert.Equal(t, 0.3, best)

	_, done, err = trial.Step(context.Background())
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrTrialFinished)

	assert.Zero(t, r.closed.Load(), "Step never releases")
	trial.Release()
	trial.Release()
	assert.Equal(t, int32(1), r.closed.Load())
}

func TestTrial_Failures(t *testing.T) {
	errRun := errors.New("diverged")
	errSetup := errors.New("no data")

	tests := []struct {
		name    string
		factory RunnerFactory
		wantErr error
		wantMsg string
	}{
		{
			name: "setup error",
			factory: func(context.Context, *Trial) (Runner, error) {
				return nil, errSetup
			},
			wantErr: errSetup,
		},
		{
			name:    "run error",
			factory: runnerFactory(&scriptedRunner{reports: reports("acc", 0.1), err: errRun}),
			wantErr: errRun,
		},
		{
			name:    "panic in run",
			factory: runnerFactory(&scriptedRunner{reports: reports("acc", 0.1), panicAt: 2}),
			wantMsg: "panicked: boom",
		},
		{
			name: "panic in setup",
			factory: func(context.Context, *Trial) (Runner, error) {
				panic("bad config")
			},
			wantMsg: "panicked: bad config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trial := NewTrial(config.Default(), Assignment{}, StopPolicy{}, tt.factory)
			_, err := drive(t, trial)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Equal(t, Failed, trial.Status())
			assert.Equal(t, err, trial.Err())
			trial.Release()
		})
	}
}

func TestTrial_StopPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    StopPolicy
		values    []float64
		wantSteps int
		wantLast  int64
	}{
		{
			name:      "max examples",
			policy:    StopPolicy{MaxExamples: 20},
			values:    []float64{0.1, 0.2, 0.3, 0.4},
			wantSteps: 2,
			wantLast:  20,
		},
		{
			name:      "patience counts consecutive non-improving reports",
			policy:    StopPolicy{Patience: 2, Metric: "acc", Mode: Max},
			values:    []float64{0.5, 0.6, 0.6, 0.7, 0.65, 0.55, 0.9},
			wantSteps: 6,
			wantLast:  60,
		},
		{
			name:      "patience in min mode",
			policy:    StopPolicy{Patience: 1, Metric: "acc", Mode: Min},
			values:    []float64{0.5, 0.4, 0.45},
			wantSteps: 3,
			wantLast:  30,
		},
		{
			name:      "disabled",
			policy:    StopPolicy{Metric: "acc", Mode: Max},
			values:    []float64{0.5, 0.4, 0.3},
			wantSteps: 4,
			wantLast:  30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedRunner{reports: reports("acc", tt.values...)}
			trial := NewTrial(config.Default(), Assignment{}, tt.policy, runnerFactory(r))
			steps, err := drive(t, trial)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSteps, steps)
			assert.Equal(t, Completed, trial.Status())
			last, _ := trial.Last()
			assert.Equal(t, tt.wantLast, last.Step)
		})
	}
}

func TestTrial_Stop(t *testing.T) {
	r := &scriptedRunner{reports: reports("acc", 0.1, 0.2)}
	trial := NewTrial(config.Default(), Assignment{}, StopPolicy{}, runnerFactory(r))
	_, done, err := trial.Step(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	trial.Stop()
	assert.Equal(t, Stopped, trial.Status())
	assert.Equal(t, int32(1), r.closed.Load())

	trial.finish(Failed, errors.New("late"))
	assert.Equal(t, Stopped, trial.Status(), "first terminal state wins")
	assert.NoError(t, trial.Err())
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		name     string
		terminal bool
		run      metrics.RunStatus
	}{
		{Created, "CREATED", false, metrics.RunStatusRunning},
		{Running, "RUNNING", false, metrics.RunStatusRunning},
		{Completed, "COMPLETED", true, metrics.RunStatusFinished},
		{Stopped, "STOPPED", true, metrics.RunStatusKilled},
		{Failed, "FAILED", true, metrics.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.status.String())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.run, tt.status.RunStatus())
		})
	}
	assert.Equal(t, "Status(9)", Status(9).String())
}

func TestTrial_CancellationInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("during run", func(t *testing.T) {
		r := &scriptedRunner{err: fmt.Errorf("eval: %w", context.Canceled)}
		trial := NewTrial(config.Default(), Assignment{}, StopPolicy{}, runnerFactory(r))
		_, done, err := trial.Step(ctx)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, Stopped, trial.Status())
		assert.True(t, trial.Interrupted())
		assert.NoError(t, trial.Err())
	})

	t.Run("during setup", func(t *testing.T) {
		trial := NewTrial(config.Default(), Assignment{}, StopPolicy{}, func(ctx context.Context, _ *Trial) (Runner, error) {
			return nil, ctx.Err()
		})
		_, done, err := trial.Step(ctx)
		require.NoError(t, err)
		assert.True(t, done)
		assert.True(t, trial.Interrupted())
	})

	t.Run("live context fails", func(t *testing.T) {
		r := &scriptedRunner{err: context.Canceled}
		trial := NewTrial(config.Default(), Assignment{}, StopPolicy{}, runnerFactory(r))
		_, err := drive(t, trial)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, Failed, trial.Status())
		assert.False(t, trial.Interrupted())
	})
}
