// Package config defines the hierarchical run configuration shared by the
// training loop and the search orchestrator.
//
// A Config is loaded from YAML on top of Default(), validated once, and then
// treated as immutable: trial configurations are derived with With, which
// returns a deep copy.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full run configuration.
type Config struct {
	ExperimentName string        `yaml:"experiment_name"`
	Device         string        `yaml:"device"`
	Seed           int64         `yaml:"seed"`
	Datasets       Datasets      `yaml:"datasets"`
	Preprocessing  Preprocessing `yaml:"preprocessing"`
	Model          Model         `yaml:"model"`
	Training       Training      `yaml:"training"`
	Evaluation     Evaluation    `yaml:"evaluation"`
	Optimizer      Optimizer     `yaml:"optimizer"`
	Tune           Tune          `yaml:"tune"`
	Logging        Logging       `yaml:"logging"`
}

// Datasets lists the CSV files merged into each split.
type Datasets struct {
	Dir   string   `yaml:"dir"`
	Train []string `yaml:"train"`
	Test  []string `yaml:"test"`
	// LabelColumn and TextColumn are zero-based CSV column indices.
	LabelColumn int `yaml:"label_column"`
	TextColumn  int `yaml:"text_column"`
}

// Preprocessing configures the text-to-token collation.
type Preprocessing struct {
	// Tokenizer is "char" or a tiktoken encoding name such as "cl100k_base".
	Tokenizer string `yaml:"tokenizer"`
	MaxSeqLen int    `yaml:"max_seq_len"`
	Lowercase bool   `yaml:"lowercase"`
}

// Model configures the model factory.
type Model struct {
	Name            string  `yaml:"name"`
	NClasses        int     `yaml:"n_classes"`
	EmbeddingSize   int     `yaml:"embedding_size"`
	HiddenSize      int     `yaml:"hidden_size"`
	NumLayers       int     `yaml:"num_layers"`
	Dropout         float64 `yaml:"dropout"`
	SparseEmbedding bool    `yaml:"sparse_embedding"`
}

// Training configures the single-config training loop.
type Training struct {
	TrainBatchSize    int `yaml:"train_batch_size"`
	NTrainWorkers     int `yaml:"n_train_workers"`
	TrainingEpochs    int `yaml:"training_epochs"`
	LogEveryNBatches  int `yaml:"log_every_n_batches"`
	EvalEveryNBatches int `yaml:"eval_every_n_batches"`
}

// Evaluation configures the evaluation batch source.
type Evaluation struct {
	EvalBatchSize int `yaml:"eval_batch_size"`
	NEvalWorkers  int `yaml:"n_eval_workers"`
}

// Optimizer configures the optimizer group.
type Optimizer struct {
	Name  string     `yaml:"name"`
	LR    float64    `yaml:"lr"`
	Betas [2]float64 `yaml:"betas,flow"`
	Eps   float64    `yaml:"eps"`
}

// Resources is a CPU/GPU resource amount.
type Resources struct {
	CPU float64 `yaml:"cpu"`
	GPU float64 `yaml:"gpu"`
}

// Param declares one dimension of the search space. The map key in
// Tune.Space is the dotted configuration path the sampled value replaces,
// for example "model.hidden_size".
type Param struct {
	// Type is "int", "float" or "categorical".
	Type    string  `yaml:"type"`
	Low     float64 `yaml:"low,omitempty"`
	High    float64 `yaml:"high,omitempty"`
	Log     bool    `yaml:"log,omitempty"`
	Q       float64 `yaml:"q,omitempty"`
	Choices []any   `yaml:"choices,omitempty,flow"`
}

// Tune configures the search orchestrator.
type Tune struct {
	TuningMethod             string           `yaml:"tuning_method"`
	Space                    map[string]Param `yaml:"space"`
	ResourcesPerTrial        Resources        `yaml:"resources_per_trial"`
	Resources                Resources        `yaml:"resources"`
	WorkingDir               string           `yaml:"working_dir"`
	Resume                   bool             `yaml:"resume"`
	NSamples                 int              `yaml:"n_samples"`
	DiscriminatingMetric     string           `yaml:"discriminating_metric"`
	DiscriminatingMetricMode string           `yaml:"discriminating_metric_mode"`
	MaxT                     int64            `yaml:"max_t"`
	// Patience is the number of consecutive reports without improvement of
	// the discriminating metric after which a trial completes; 0 disables it.
	Patience       int     `yaml:"patience"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	NInitialPoints int     `yaml:"n_initial_points"`
	NCandidates    int     `yaml:"n_candidates"`
	Gamma          float64 `yaml:"gamma"`
	Seed           int64   `yaml:"seed"`
	// ReductionFactor and GracePeriod drive the multi-fidelity scheduler;
	// GracePeriod is in cumulative examples.
	ReductionFactor float64 `yaml:"reduction_factor"`
	GracePeriod     int64   `yaml:"grace_period"`
}

// Logging configures log output and the metric store.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// MetricsDB is the SQLite file receiving metrics; empty disables it.
	MetricsDB string `yaml:"metrics_db"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ExperimentName: "seqtune",
		Device:         "cpu",
		Seed:           42,
		Datasets: Datasets{
			Dir:         "data",
			Train:       []string{"train.csv"},
			Test:        []string{"test.csv"},
			LabelColumn: 0,
			TextColumn:  1,
		},
		Preprocessing: Preprocessing{
			Tokenizer: "char",
			MaxSeqLen: 64,
			Lowercase: true,
		},
		Model: Model{
			Name:            "rnn",
			NClasses:        2,
			EmbeddingSize:   64,
			HiddenSize:      128,
			NumLayers:       1,
			Dropout:         0.1,
			SparseEmbedding: true,
		},
		Training: Training{
			TrainBatchSize:    32,
			NTrainWorkers:     2,
			TrainingEpochs:    5,
			LogEveryNBatches:  10,
			EvalEveryNBatches: 100,
		},
		Evaluation: Evaluation{
			EvalBatchSize: 128,
			NEvalWorkers:  2,
		},
		Optimizer: Optimizer{
			Name:  "adam",
			LR:    1e-3,
			Betas: [2]float64{0.9, 0.999},
			Eps:   1e-8,
		},
		Tune: Tune{
			TuningMethod:             "hyperopt",
			ResourcesPerTrial:        Resources{CPU: 1},
			Resources:                Resources{CPU: float64(runtime.NumCPU())},
			WorkingDir:               "tune_results",
			NSamples:                 10,
			DiscriminatingMetric:     "eval_accuracy",
			DiscriminatingMetricMode: "max",
			MaxT:                     1_000_000,
			Patience:                 2,
			NInitialPoints:           7,
			NCandidates:              24,
			Gamma:                    0.25,
			Seed:                     42,
			ReductionFactor:          3,
			GracePeriod:              10_000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Names of optimizers and tuning methods are
// checked by the components that interpret them.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	if c.ExperimentName == "" {
		errs = append(errs, errors.New("experiment_name is required"))
	}
	positive("training.train_batch_size", c.Training.TrainBatchSize)
	positive("training.training_epochs", c.Training.TrainingEpochs)
	positive("training.log_every_n_batches", c.Training.LogEveryNBatches)
	positive("training.eval_every_n_batches", c.Training.EvalEveryNBatches)
	positive("evaluation.eval_batch_size", c.Evaluation.EvalBatchSize)
	positive("preprocessing.max_seq_len", c.Preprocessing.MaxSeqLen)
	positive("model.n_classes", c.Model.NClasses)
	positive("model.embedding_size", c.Model.EmbeddingSize)
	positive("model.hidden_size", c.Model.HiddenSize)
	positive("model.num_layers", c.Model.NumLayers)
	if c.Training.NTrainWorkers < 0 || c.Evaluation.NEvalWorkers < 0 {
		errs = append(errs, errors.New("worker counts must be >= 0"))
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("model.dropout must be in [0, 1), got %g", c.Model.Dropout))
	}
	if c.Optimizer.LR <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.lr must be > 0, got %g", c.Optimizer.LR))
	}
	for i, b := range c.Optimizer.Betas {
		if b < 0 || b >= 1 {
			errs = append(errs, fmt.Errorf("optimizer.betas[%d] must be in [0, 1), got %g", i, b))
		}
	}
	switch c.Tune.DiscriminatingMetricMode {
	case "max", "min":
	default:
		errs = append(errs, fmt.Errorf("tune.discriminating_metric_mode must be max or min, got %q", c.Tune.DiscriminatingMetricMode))
	}
	if c.Tune.NSamples < 0 {
		errs = append(errs, errors.New("tune.n_samples must be >= 0"))
	}
	if c.Tune.Patience < 0 {
		errs = append(errs, errors.New("tune.patience must be >= 0"))
	}
	for path, p := range c.Tune.Space {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("tune.space.%s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (p Param) validate() error {
	switch p.Type {
	case "int", "float":
		if p.High < p.Low {
			return fmt.Errorf("high %g < low %g", p.High, p.Low)
		}
		if p.Log && p.Low <= 0 {
			return fmt.Errorf("log scale needs low > 0, got %g", p.Low)
		}
		if p.Q < 0 {
			return fmt.Errorf("q must be >= 0, got %g", p.Q)
		}
	case "categorical":
		if len(p.Choices) == 0 {
			return errors.New("categorical parameter needs choices")
		}
	default:
		return fmt.Errorf("unknown parameter type %q", p.Type)
	}
	return nil
}
