package train

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/backend/cpu"
	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/data"
	"github.com/born-ml/seqtune/internal/logging"
	"github.com/born-ml/seqtune/internal/metrics"
	"github.com/born-ml/seqtune/internal/nn"
	"github.com/born-ml/seqtune/internal/optim"
	"github.com/born-ml/seqtune/internal/parallel"
	"github.com/born-ml/seqtune/internal/tensor"
)

// Options carries the collaborators of a training run.
type Options struct {
	// Cache provides the datasets and tokenizer; nil creates a private one.
	Cache *data.Cache
	// Factory builds the model; nil uses nn.Build.
	Factory nn.Factory
	// Sink receives parameters and metrics; nil discards them.
	Sink   metrics.Sink
	Logger *log.Logger
	// KernelWorkers bounds the goroutines of one CPU kernel; 0 uses every CPU.
	KernelWorkers int
}

// Components are the parts of a Loop, for callers that build them
// directly.
type Components struct {
	Model     nn.Model
	Group     *optim.Group
	Criterion Criterion
	Train     *data.Loader
	Evaluator *Evaluator
	Device    tensor.Device
	Sink      metrics.Sink
	Logger    *log.Logger
}

// Loop trains one configuration.
//
// It iterates epochs and batches, runs Step on each batch and counts
// cumulative examples, the progress axis of every metric. Training metrics
// are logged every log_every_n_batches batches and an evaluation runs every
// eval_every_n_batches batches; both use the batch index within the epoch,
// so the first batch of each epoch always logs and evaluates.
//
// Next returns at every evaluation point, which makes a Loop drivable one
// reporting unit at a time by a search scheduler. Run drives it to the end.
//
// Example:
//
//	loop, err := train.Setup(cfg, train.Options{Sink: sink})
//	if err != nil {
//	    return err
//	}
//	defer loop.Close()
//	return loop.Run(ctx)
type Loop struct {
	cfg       config.Training
	model     nn.Model
	group     *optim.Group
	criterion Criterion
	train     *data.Loader
	evaluator *Evaluator
	device    tensor.Device
	sink      metrics.Sink
	logger    *log.Logger

	it        *data.Iterator
	epoch     int   // epoch of the iterator, or the next one to start
	batchIdx  int   // batch index within the epoch
	examples  int64 // cumulative training examples
	sinceEval int   // batches trained since the last evaluation
	lastTrain map[string]float64
	done      bool
}

// Setup builds the model, optimizer group and batch sources for cfg.
//
// The optimizer name and the compute device are validated before any
// dataset is read, so an unsupported configuration fails without side
// effects.
func Setup(cfg *config.Config, opts Options) (*Loop, error) {
	if err := optim.CheckSupported(cfg.Optimizer); err != nil {
		return nil, err
	}
	device, err := tensor.ParseDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if !device.HasKernels() {
		return nil, fmt.Errorf("%w: %s has no training kernels", tensor.ErrDeviceUnavailable, device)
	}

	cache := opts.Cache
	if cache == nil {
		cache = data.NewCache()
	}
	tok, err := cache.Tokenizer(cfg)
	if err != nil {
		return nil, err
	}
	trainDS, err := cache.Dataset(cfg, data.Train)
	if err != nil {
		return nil, err
	}
	evalDS, err := cache.Dataset(cfg, data.Eval)
	if err != nil {
		return nil, err
	}

	pre := data.NewPreprocessor(tok, cfg.Datasets, cfg.Preprocessing, cfg.Model.NClasses)
	trainLoader, err := data.NewLoader(trainDS, pre, data.LoaderOptions{
		BatchSize: cfg.Training.TrainBatchSize,
		Shuffle:   true,
		Workers:   cfg.Training.NTrainWorkers,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("train loader: %w", err)
	}
	evalLoader, err := data.NewLoader(evalDS, pre, data.LoaderOptions{
		BatchSize: cfg.Evaluation.EvalBatchSize,
		Workers:   cfg.Evaluation.NEvalWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("eval loader: %w", err)
	}

	par := parallel.DefaultConfig()
	if opts.KernelWorkers > 0 {
		par = parallel.WithWorkers(opts.KernelWorkers)
	}
	backend := autodiff.New(cpu.NewWithParallelism(par))

	factory := opts.Factory
	if factory == nil {
		factory = nn.Build
	}
	model, err := factory(tok.VocabSize(), cfg.Model, backend, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	group, err := optim.BuildGroup(model, cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	sink := opts.Sink
	if sink == nil {
		sink = metrics.Multi{}
	}
	sink.LogParameters(cfg.Flatten())

	logger := logging.OrDefault(opts.Logger)
	logger.Debug("training setup",
		"model", cfg.Model.Name,
		"vocab", tok.VocabSize(),
		"train_examples", trainDS.Len(),
		"eval_examples", evalDS.Len(),
		"sparse_optimizer", group.Sparse != nil,
	)

	return New(cfg.Training, Components{
		Model:     model,
		Group:     group,
		Criterion: nn.NewCrossEntropyLoss(backend),
		Train:     trainLoader,
		Evaluator: NewEvaluator(evalLoader, device),
		Device:    device,
		Sink:      sink,
		Logger:    logger,
	}), nil
}

// New assembles a Loop from ready-made components.
func New(cfg config.Training, c Components) *Loop {
	if c.Sink == nil {
		c.Sink = metrics.Multi{}
	}
	return &Loop{
		cfg:       cfg,
		model:     c.Model,
		group:     c.Group,
		criterion: c.Criterion,
		train:     c.Train,
		evaluator: c.Evaluator,
		device:    c.Device,
		sink:      c.Sink,
		logger:    logging.OrDefault(c.Logger),
	}
}

// Next trains until the next evaluation point and returns its report.
//
// The report carries the evaluation metrics, the metrics of the latest
// training batch and num_examples, at step = cumulative examples. After
// the last epoch Next returns a final report if any batch ran since the
// last evaluation, then io.EOF.
func (l *Loop) Next(ctx context.Context) (metrics.Report, error) {
	if l.done {
		return metrics.Report{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return metrics.Report{}, err
		}
		if l.it == nil {
			if l.epoch >= l.cfg.TrainingEpochs {
				l.done = true
				if l.sinceEval > 0 {
					return l.evaluate(ctx, l.epoch-1)
				}
				return metrics.Report{}, io.EOF
			}
			l.it = l.train.Epoch(ctx)
			l.batchIdx = 0
		}

		batch, err := l.it.Next()
		if errors.Is(err, io.EOF) {
			l.it.Close()
			l.it = nil
			l.epoch++
			continue
		}
		if err != nil {
			return metrics.Report{}, fmt.Errorf("epoch %d batch %d: %w", l.epoch, l.batchIdx, err)
		}
		if batch, err = batch.To(l.device); err != nil {
			return metrics.Report{}, err
		}

		l.examples += int64(batch.Size())
		loss, acc, err := Step(batch, l.model, l.group, l.criterion)
		if err != nil {
			return metrics.Report{}, err
		}
		idx := l.batchIdx
		l.batchIdx++
		l.sinceEval++
		l.lastTrain = map[string]float64{metrics.TrainLoss: loss, metrics.TrainAccuracy: acc}

		if idx%l.cfg.LogEveryNBatches == 0 {
			l.logger.Debug("train", "epoch", l.epoch, "examples", l.examples, "loss", loss, "accuracy", acc)
			l.sink.LogMetric(metrics.TrainLoss, loss, l.examples, l.epoch)
			l.sink.LogMetric(metrics.TrainAccuracy, acc, l.examples, l.epoch)
		}
		if idx%l.cfg.EvalEveryNBatches == 0 {
			return l.evaluate(ctx, l.epoch)
		}
	}
}

func (l *Loop) evaluate(ctx context.Context, epoch int) (metrics.Report, error) {
	l.sinceEval = 0
	results, err := l.evaluator.Evaluate(ctx, l.model, l.criterion)
	if err != nil {
		return metrics.Report{}, err
	}
	report := metrics.Report{Step: l.examples, Epoch: epoch, Values: make(map[string]float64, len(results)+3)}
	for name, v := range results {
		l.sink.LogMetric(name, v, l.examples, epoch)
		report.Values[name] = v
	}
	for name, v := range l.lastTrain {
		report.Values[name] = v
	}
	report.Values[metrics.NumExamples] = float64(l.examples)
	l.logger.Debug("eval", "epoch", epoch, "examples", l.examples,
		"loss", results[metrics.EvalLoss], "accuracy", results[metrics.EvalAccuracy])
	return report, nil
}

// Run trains to completion.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()
	for {
		if _, err := l.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Examples returns the cumulative number of training examples seen.
func (l *Loop) Examples() int64 {
	return l.examples
}

// Epoch returns the current epoch.
func (l *Loop) Epoch() int {
	return l.epoch
}

// Model returns the model being trained.
func (l *Loop) Model() nn.Model {
	return l.model
}

// Group returns the optimizers stepping the model.
func (l *Loop) Group() *optim.Group {
	return l.group
}

// Close stops any in-flight batch collation. The loop cannot be resumed
// after Close.
func (l *Loop) Close() {
	if l.it != nil {
		l.it.Close()
		l.it = nil
	}
	l.done = true
}
