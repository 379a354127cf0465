package search

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/train"
)

// SinkFactory returns the metric sink of a trial.
type SinkFactory func(t *Trial) (metrics.Sink, error)

// TrainingRunners returns a RunnerFactory that sets up a train.Loop for
// each trial from the trial's configuration. Every trial shares
// opts.Cache, gets its own sink from newSink (nil keeps opts.Sink) and logs
// with its id. The sink records the trial's terminal status when the trial
// is released; a sink that kept a write error has it logged then.
func TrainingRunners(opts train.Options, newSink SinkFactory) RunnerFactory {
	return func(_ context.Context, t *Trial) (Runner, error) {
		o := opts
		o.Logger = logging.OrDefault(opts.Logger).With("trial", t.ID)
		if newSink != nil {
			sink, err := newSink(t)
			if err != nil {
				return nil, err
			}
			o.Sink = sink
		}
		loop, err := train.Setup(t.Config, o)
		if err != nil {
			if o.Sink != nil {
				metrics.End(o.Sink, metrics.RunStatusFailed)
			}
			return nil, err
		}
		return &trialRunner{Loop: loop, sink: o.Sink, trial: t, logger: o.Logger}, nil
	}
}

type trialRunner struct {
	*train.Loop
	sink   metrics.Sink
	trial  *Trial
	logger *log.Logger
}

func (r *trialRunner) Close() {
	r.Loop.Close()
	if r.sink != nil {
		metrics.End(r.sink, r.trial.Status().RunStatus())
		if err := metrics.Err(r.sink); err != nil {
			r.logger.Warn("metric sink write failed", "err", err)
		}
	}
}
