package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/optim"
	"github.com/born-ml/seqtune/internal/tensor"
)

const score = "score"

// fakeRunners builds scripted runners whose score is a function of the
// trial's learning rate and tracks how many are open at once.
type fakeRunners struct {
	steps int
	fail  func(a Assignment) bool

	// decreasing scores each trial below every earlier one.
	decreasing bool
	launches   atomic.Int32

	mu      sync.Mutex
	runners map[string]*scriptedRunner
	open    atomic.Int32
	peak    atomic.Int32
}

func newFakeRunners(steps int) *fakeRunners {
	return &fakeRunners{steps: steps, runners: make(map[string]*scriptedRunner)}
}

func (f *fakeRunners) factory(_ context.Context, t *Trial) (Runner, error) {
	if f.fail != nil && f.fail(t.Assignment) {
		return nil, errors.New("setup failed")
	}
	n := f.open.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	lr, _ := t.Assignment["optimizer.lr"].(float64)
	if k := f.launches.Add(1); f.decreasing {
		lr = 1 / float64(k)
	}
	values := make([]float64, f.steps)
	for i := range values {
		values[i] = lr * float64(i+1)
	}
	r := &countingRunner{scriptedRunner: &scriptedRunner{reports: reports(score, values...)}, open: &f.open}
	f.mu.Lock()
	f.runners[t.ID] = r.scriptedRunner
	f.mu.Unlock()
	return r, nil
}

func (f *fakeRunners) runner(id string) *scriptedRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runners[id]
}

type countingRunner struct {
	*scriptedRunner
	open *atomic.Int32
}

func (r *countingRunner) Close() {
	r.open.Add(-1)
	r.scriptedRunner.Close()
}

func searchOptions(t *testing.T, samples int) RunOptions {
	t.Helper()
	return RunOptions{
		Base: config.Default(),
		Space: map[string]config.Param{
			"optimizer.lr": {Type: "float", Low: 1e-4, High: 1e-1, Log: true},
		},
		NumSamples:    samples,
		Resources:     config.Resources{CPU: 2},
		PerTrial:      config.Resources{CPU: 1},
		Stop:          StopPolicy{Metric: score, Mode: Max},
		Metric:        score,
		Mode:          Max,
		CheckpointDir: filepath.Join(t.TempDir(), "exp", "method"),
	}
}

func readState(t *testing.T, dir string) stateFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	require.NoError(t, err)
	var st stateFile
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestOrchestrator_NoSearch(t *testing.T) {
	fake := newFakeRunners(3)
	opts := searchOptions(t, 5)
	o := NewOrchestrator(fake.factory, logging.Discard())

	results, err := o.Run(context.Background(), NoSearch{Seed: 1}, opts)
	require.NoError(t, err)
	require.Len(t, results.Trials, 5)

	keys := map[string]bool{}
	for _, tr := range results.Trials {
		assert.Equal(t, Completed, tr.Status)
		assert.Equal(t, int64(30), tr.Examples)
		assert.True(t, tr.HasValue)
		keys[tr.Assignment.Key()] = true
		assert.Equal(t, int32(1), fake.runner(tr.ID).closed.Load(), "released")
	}
	assert.Len(t, keys, 5)
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
	assert.Zero(t, fake.open.Load())

	st := readState(t, opts.CheckpointDir)
	assert.Equal(t, MethodNoSearch, st.Method)
	assert.Len(t, st.Observations, 5)

	best, ok := results.Best()
	require.True(t, ok)
	for _, tr := range results.Trials {
		assert.GreaterOrEqual(t, best.Value, tr.Value)
	}
}

func TestOrchestrator_NoSearchEmptySpaceRepeatsBase(t *testing.T) {
	fake := newFakeRunners(1)
	opts := searchOptions(t, 3)
	opts.Space = nil
	results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(context.Background(), NoSearch{}, opts)
	require.NoError(t, err)
	require.Len(t, results.Trials, 3)
	for _, tr := range results.Trials {
		assert.Empty(t, tr.Assignment)
	}
}

func TestOrchestrator_SequentialRunsOneAtATime(t *testing.T) {
	fake := newFakeRunners(2)
	opts := searchOptions(t, 4)
	opts.Resources = config.Resources{CPU: 8}
	results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(context.Background(), SequentialBayesian{TPE: TPEConfig{Seed: 1}}, opts)
	require.NoError(t, err)
	assert.Len(t, results.Trials, 4)
	assert.Equal(t, int32(1), fake.peak.Load())
}

func TestOrchestrator_ResumeDoesNotResampleSeenConfigs(t *testing.T) {
	opts := searchOptions(t, 4)
	method := SequentialBayesian{TPE: TPEConfig{Seed: 5}}

	first, err := NewOrchestrator(newFakeRunners(1).factory, logging.Discard()).Run(context.Background(), method, opts)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, tr := range first.Trials {
		seen[tr.Assignment.Key()] = true
	}

	opts.Resume = true
	second, err := NewOrchestrator(newFakeRunners(1).factory, logging.Discard()).Run(context.Background(), method, opts)
	require.NoError(t, err)
	require.Len(t, second.Trials, 4)
	for _, tr := range second.Trials {
		assert.False(t, seen[tr.Assignment.Key()], "resampled %s", tr.Assignment.Key())
	}
	assert.Len(t, readState(t, opts.CheckpointDir).Observations, 8)
}

func TestOrchestrator_ResumeWithoutStateColdStarts(t *testing.T) {
	opts := searchOptions(t, 2)
	opts.Resume = true
	results, err := NewOrchestrator(newFakeRunners(1).factory, logging.Discard()).Run(context.Background(), NoSearch{}, opts)
	require.NoError(t, err)
	assert.Len(t, results.Trials, 2)
}

func TestOrchestrator_InvalidSearchTouchesNothing(t *testing.T) {
	tests := []struct {
		name    string
		method  Method
		mutate  func(*RunOptions)
		wantErr error
	}{
		{name: "no method", wantErr: ErrUnsupportedMethod},
		{
			name:    "unsupported optimizer",
			method:  NoSearch{},
			mutate:  func(o *RunOptions) { o.Base.Optimizer.Name = "sgd" },
			wantErr: optim.ErrUnsupportedOptimizer,
		},
		{
			name:    "device without kernels",
			method:  NoSearch{},
			mutate:  func(o *RunOptions) { o.Base.Device = "cuda" },
			wantErr: tensor.ErrDeviceUnavailable,
		},
		{
			name:    "no metric",
			method:  NoSearch{},
			mutate:  func(o *RunOptions) { o.Metric = "" },
			wantErr: config.ErrInvalid,
		},
		{
			name:    "bad mode",
			method:  NoSearch{},
			mutate:  func(o *RunOptions) { o.Mode = "up" },
			wantErr: config.ErrInvalid,
		},
		{
			name:    "no per-trial cpu",
			method:  NoSearch{},
			mutate:  func(o *RunOptions) { o.PerTrial.CPU = 0 },
			wantErr: config.ErrInvalid,
		},
		{
			name:   "bad space",
			method: NoSearch{},
			mutate: func(o *RunOptions) {
				o.Space = map[string]config.Param{"x": {Type: "int", Low: 2, High: 1}}
			},
			wantErr: config.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeRunners(1)
			opts := searchOptions(t, 2)
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(context.Background(), tt.method, opts)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, results)
			_, statErr := os.Stat(filepath.Dir(opts.CheckpointDir))
			assert.True(t, os.IsNotExist(statErr), "checkpoint dir created")
			assert.Zero(t, fake.peak.Load())
		})
	}
}

func TestOrchestrator_HookRunsBeforeRelease(t *testing.T) {
	fake := newFakeRunners(2)
	opts := searchOptions(t, 3)
	var hooked []string
	opts.OnTrialTerminal = func(tr *Trial) {
		hooked = append(hooked, tr.ID)
		assert.True(t, tr.Status().Terminal())
		assert.Zero(t, fake.runner(tr.ID).closed.Load(), "hook after release")
		_, err := os.Stat(filepath.Join(opts.CheckpointDir, StateFile))
		assert.NoError(t, err, "state saved before the hook")
	}

	results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(context.Background(), NoSearch{Seed: 2}, opts)
	require.NoError(t, err)
	require.Len(t, hooked, 3)
	for i, tr := range results.Trials {
		assert.Equal(t, hooked[i], tr.ID)
	}
}

func TestOrchestrator_FailedTrialsDoNotAbort(t *testing.T) {
	fake := newFakeRunners(2)
	var calls atomic.Int32
	fake.fail = func(Assignment) bool { return calls.Add(1) == 2 }
	opts := searchOptions(t, 4)
	opts.Resources = config.Resources{CPU: 1}

	results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(context.Background(), NoSearch{Seed: 3}, opts)
	require.NoError(t, err)
	require.Len(t, results.Trials, 4)
	assert.Equal(t, 1, results.Failed())
	assert.Equal(t, Failed, results.Trials[1].Status)
	assert.Error(t, results.Trials[1].Err)

	st := readState(t, opts.CheckpointDir)
	failed := 0
	for _, o := range st.Observations {
		if o.Failed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	sorted := results.Sorted()
	assert.Equal(t, Failed, sorted[len(sorted)-1].Status)
}

func TestOrchestrator_SchedulerStopsTrials(t *testing.T) {
	fake := newFakeRunners(6)
	fake.decreasing = true
	opts := searchOptions(t, 6)
	opts.Resources = config.Resources{CPU: 1}
	method := MultiFidelity{TPE: TPEConfig{Seed: 9}, Eta: 2, GracePeriod: 20, MaxT: 1000}

	results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(context.Background(), method, opts)
	require.NoError(t, err)
	require.Len(t, results.Trials, 6)
	assert.Equal(t, Completed, results.Trials[0].Status, "first trial sets every rung")

	for _, tr := range results.Trials[1:] {
		assert.Equal(t, Stopped, tr.Status)
		assert.Equal(t, int64(20), tr.Examples, "stopped at the first rung")
		assert.Equal(t, int32(1), fake.runner(tr.ID).closed.Load())
	}
	assert.Equal(t, MethodBOHB, readState(t, opts.CheckpointDir).Method)
}

func TestOrchestrator_MaxExamplesCompletesTrials(t *testing.T) {
	opts := searchOptions(t, 2)
	opts.Stop.MaxExamples = 20
	results, err := NewOrchestrator(newFakeRunners(5).factory, logging.Discard()).Run(context.Background(), NoSearch{}, opts)
	require.NoError(t, err)
	for _, tr := range results.Trials {
		assert.Equal(t, Completed, tr.Status)
		assert.Equal(t, int64(20), tr.Examples)
	}
}

func TestOrchestrator_Cancelled(t *testing.T) {
	fake := newFakeRunners(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := NewOrchestrator(fake.factory, logging.Discard()).Run(ctx, NoSearch{}, searchOptions(t, 3))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, results)
	assert.Empty(t, results.Trials)
}

// cancellingRunner cancels the search from inside its first step, once
// started is closed.
type cancellingRunner struct {
	started <-chan struct{}
	cancel  context.CancelFunc
	closed  atomic.Int32
}

func (r *cancellingRunner) Next(ctx context.Context) (metrics.Report, error) {
	<-r.started
	r.cancel()
	<-ctx.Done()
	return metrics.Report{}, ctx.Err()
}

func (r *cancellingRunner) Close() { r.closed.Add(1) }

func TestOrchestrator_InterruptedTrialIsResumed(t *testing.T) {
	opts := searchOptions(t, 2)
	opts.Space = map[string]config.Param{
		"model.num_layers": {Type: "categorical", Choices: []any{1, 2}},
	}
	interrupts := func(a Assignment) bool { return fmt.Sprint(a["model.num_layers"]) == "2" }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	var once sync.Once
	blocking := &cancellingRunner{started: started, cancel: cancel}
	factory := func(_ context.Context, tr *Trial) (Runner, error) {
		if interrupts(tr.Assignment) {
			return blocking, nil
		}
		once.Do(func() { close(started) })
		return &scriptedRunner{reports: reports(score, 0.5)}, nil
	}

	first, err := NewOrchestrator(factory, logging.Discard()).Run(ctx, NoSearch{Seed: 3}, opts)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, first)
	require.Len(t, first.Trials, 2)
	var cut TrialResult
	for _, tr := range first.Trials {
		if interrupts(tr.Assignment) {
			cut = tr
		}
	}
	assert.True(t, cut.Interrupted)
	assert.Equal(t, Stopped, cut.Status)
	assert.NoError(t, cut.Err)
	assert.Equal(t, metrics.RunStatusKilled, cut.Status.RunStatus())
	assert.Equal(t, int32(1), blocking.closed.Load(), "released")
	assert.Equal(t, 0, first.Failed())

	for _, o := range readState(t, opts.CheckpointDir).Observations {
		assert.False(t, o.Final && interrupts(o.Assignment), "interrupted trial recorded as final")
	}

	opts.Resume = true
	second, err := NewOrchestrator(newFakeRunners(1).factory, logging.Discard()).Run(context.Background(), NoSearch{Seed: 3}, opts)
	require.NoError(t, err)
	require.Len(t, second.Trials, 1)
	assert.True(t, interrupts(second.Trials[0].Assignment))
	assert.Equal(t, Completed, second.Trials[0].Status)
}

func TestConcurrency(t *testing.T) {
	tests := []struct {
		name            string
		total, perTrial config.Resources
		algoMax         int
		want            int
	}{
		{"cpu bound", config.Resources{CPU: 4}, config.Resources{CPU: 1}, 0, 4},
		{"fractional", config.Resources{CPU: 4}, config.Resources{CPU: 1.5}, 0, 2},
		{"algorithm bound", config.Resources{CPU: 4}, config.Resources{CPU: 1}, 1, 1},
		{"gpu bound", config.Resources{CPU: 8, GPU: 1}, config.Resources{CPU: 1, GPU: 0.5}, 0, 2},
		{"at least one", config.Resources{CPU: 1}, config.Resources{CPU: 3}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, concurrency(tt.total, tt.perTrial, tt.algoMax))
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ExperimentName = "exp"
	cfg.Tune.WorkingDir = "/tmp/runs"
	opts, err := OptionsFromConfig(cfg, MultiFidelity{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/runs", "exp", MethodBOHB), opts.CheckpointDir)
	assert.Equal(t, Max, opts.Mode)
	assert.Equal(t, cfg.Tune.DiscriminatingMetric, opts.Stop.Metric)
	assert.Equal(t, cfg.Tune.MaxT, opts.Stop.MaxExamples)
	assert.Equal(t, cfg.Tune.Patience, opts.Stop.Patience)

	cfg.Tune.DiscriminatingMetricMode = "sideways"
	_, err = OptionsFromConfig(cfg, NoSearch{})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestResults(t *testing.T) {
	r := &Results{Metric: score, Mode: Min, Trials: []TrialResult{
		{ID: "a", Status: Completed, Value: 0.5, HasValue: true},
		{ID: "b", Status: Failed, Err: errors.New("x")},
		{ID: "c", Status: Stopped, Value: 0.2, HasValue: true},
		{ID: "d", Status: Completed},
		{ID: "e", Status: Completed, Value: 0.9, HasValue: true},
	}}

	best, ok := r.Best()
	require.True(t, ok)
	assert.Equal(t, "c", best.ID)
	assert.Equal(t, 1, r.Failed())

	var order []string
	for _, tr := range r.Sorted() {
		order = append(order, tr.ID)
	}
	assert.Equal(t, []string{"c", "a", "e", "b", "d"}, order)
	assert.Equal(t, "a", r.Trials[0].ID, "Sorted does not reorder in place")

	_, ok = (&Results{Metric: score, Mode: Max}).Best()
	assert.False(t, ok)
}

func TestResults_CarriesLastReport(t *testing.T) {
	trial := NewTrial(config.Default(), Assignment{"x": 1}, StopPolicy{}, runnerFactory(&scriptedRunner{
		reports: []metrics.Report{{Step: 40, Values: map[string]float64{score: 0.7, "other": 1}}},
	}))
	_, err := drive(t, trial)
	require.NoError(t, err)

	r := &Results{Metric: score, Mode: Max}
	r.add(trial)
	require.Len(t, r.Trials, 1)
	assert.Equal(t, int64(40), r.Trials[0].Examples)
	assert.Equal(t, 0.7, r.Trials[0].Value)
	assert.Equal(t, 1.0, r.Trials[0].Last.Values["other"])
}
