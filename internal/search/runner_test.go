package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/data"
	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/train"
)

func tinyConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for name, n := range map[string]int{"train.csv": 12, "test.csv": 4} {
		var sb strings.Builder
		sb.WriteString("label,text\n")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&sb, "%d,%s\n", i%2, strings.Repeat("ab"[i%2:i%2+1], 3+i%3))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sb.String()), 0o600))
	}

	cfg := config.Default()
	cfg.Datasets.Dir = dir
	cfg.Model.EmbeddingSize = 4
	cfg.Model.HiddenSize = 4
	cfg.Training = config.Training{
		TrainBatchSize:    4,
		TrainingEpochs:    2,
		LogEveryNBatches:  1,
		EvalEveryNBatches: 2,
	}
	cfg.Evaluation = config.Evaluation{EvalBatchSize: 4}
	cfg.Tune.WorkingDir = t.TempDir()
	cfg.Tune.TuningMethod = MethodNoSearch
	cfg.Tune.NSamples = 2
	cfg.Tune.Resources = config.Resources{CPU: 2}
	cfg.Tune.Patience = 0
	cfg.Tune.MaxT = 0
	cfg.Tune.Space = map[string]config.Param{
		"model.hidden_size": {Type: "categorical", Choices: []any{4, 6}},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestTrainingRunners(t *testing.T) {
	cfg := tinyConfig(t)
	method, err := ParseMethod(cfg.Tune)
	require.NoError(t, err)
	opts, err := OptionsFromConfig(cfg, method)
	require.NoError(t, err)

	var mu sync.Mutex
	sinks := map[string]*metrics.MemorySink{}
	newSink := func(tr *Trial) (metrics.Sink, error) {
		mu.Lock()
		defer mu.Unlock()
		s := metrics.NewMemorySink()
		sinks[tr.ID] = s
		return s, nil
	}

	cache := data.NewCache()
	runners := TrainingRunners(train.Options{Cache: cache, Logger: logging.Discard(), KernelWorkers: 1}, newSink)
	results, err := NewOrchestrator(runners, logging.Discard()).Run(context.Background(), method, opts)
	require.NoError(t, err)
	require.Len(t, results.Trials, 2)
	assert.Equal(t, 2, cache.Scans(), "datasets shared by every trial")

	hidden := map[any]bool{}
	for _, tr := range results.Trials {
		assert.Equal(t, Completed, tr.Status, "%v", tr.Err)
		assert.Equal(t, int64(24), tr.Examples)
		assert.True(t, tr.HasValue)
		hidden[tr.Assignment["model.hidden_size"]] = true

		sink := sinks[tr.ID]
		require.NotNil(t, sink)
		assert.Equal(t, metrics.RunStatusFinished, sink.Status())
		assert.Equal(t, tr.Assignment["model.hidden_size"], sink.Params()["model_hidden_size"])
		assert.NotEmpty(t, sink.Points(metrics.EvalAccuracy))
	}
	assert.Len(t, hidden, 2)
}

func TestTrainingRunners_SinkError(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.Tune.NSamples = 1
	opts, err := OptionsFromConfig(cfg, NoSearch{})
	require.NoError(t, err)

	errSink := errors.New("store unavailable")
	runners := TrainingRunners(train.Options{Logger: logging.Discard()}, func(*Trial) (metrics.Sink, error) {
		return nil, errSink
	})
	results, err := NewOrchestrator(runners, logging.Discard()).Run(context.Background(), NoSearch{}, opts)
	require.NoError(t, err)
	require.Len(t, results.Trials, 1)
	assert.Equal(t, Failed, results.Trials[0].Status)
	assert.ErrorIs(t, results.Trials[0].Err, errSink)
}

func TestTrainingRunners_SetupErrorEndsSink(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.Datasets.Train = []string{"missing.csv"}
	trial := NewTrial(cfg, Assignment{}, StopPolicy{}, nil)

	sink := metrics.NewMemorySink()
	newRunner := TrainingRunners(train.Options{Logger: logging.Discard()}, func(*Trial) (metrics.Sink, error) {
		return sink, nil
	})
	_, err := newRunner(context.Background(), trial)
	assert.Error(t, err)
	assert.Equal(t, metrics.RunStatusFailed, sink.Status())
}
