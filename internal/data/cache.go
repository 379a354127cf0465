package data

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/tokenizer"
)

// ErrCacheConflict is returned when a Cache bound to one dataset
// configuration is asked for another.
var ErrCacheConflict = errors.New("dataset cache already bound to a different configuration")

// Cache holds the datasets and the tokenizer shared by every training run
// in the process.
//
// Each split is scanned at most once, on first use, and the tokenizer is
// built once from the training split. The cached values are read-only and
// safe to share between concurrent trials. A Cache serves a single dataset
// configuration; hyperparameters outside datasets and the tokenizer choice
// may vary freely between callers.
type Cache struct {
	mu       sync.Mutex
	bound    bool
	datasets config.Datasets
	pre      config.Preprocessing
	splits   map[Split]*Dataset
	tok      tokenizer.Tokenizer
	scans    int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{splits: make(map[Split]*Dataset)}
}

func (c *Cache) bind(ds config.Datasets, pre config.Preprocessing) error {
	if !c.bound {
		c.bound = true
		c.datasets = ds
		c.pre = pre
		return nil
	}
	if !sameDatasets(c.datasets, ds) || c.pre.Tokenizer != pre.Tokenizer || c.pre.Lowercase != pre.Lowercase {
		return ErrCacheConflict
	}
	return nil
}

func sameDatasets(a, b config.Datasets) bool {
	return a.Dir == b.Dir &&
		slices.Equal(a.Train, b.Train) &&
		slices.Equal(a.Test, b.Test) &&
		a.LabelColumn == b.LabelColumn &&
		a.TextColumn == b.TextColumn
}

// Dataset returns the merged dataset of a split, scanning its files on the
// first call.
func (c *Cache) Dataset(cfg *config.Config, split Split) (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.bind(cfg.Datasets, cfg.Preprocessing); err != nil {
		return nil, err
	}
	return c.dataset(split)
}

func (c *Cache) dataset(split Split) (*Dataset, error) {
	if ds, ok := c.splits[split]; ok {
		return ds, nil
	}
	var files []string
	switch split {
	case Train:
		files = c.datasets.Train
	case Eval:
		files = c.datasets.Test
	default:
		return nil, fmt.Errorf("dataset cache: unknown split %q", split)
	}
	ds, err := LoadDataset(c.datasets.Dir, files)
	if err != nil {
		return nil, fmt.Errorf("load %s split: %w", split, err)
	}
	c.scans++
	c.splits[split] = ds
	return ds, nil
}

// Tokenizer returns the tokenizer built from the training split's text
// column, building it on the first call.
func (c *Cache) Tokenizer(cfg *config.Config) (tokenizer.Tokenizer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.bind(cfg.Datasets, cfg.Preprocessing); err != nil {
		return nil, err
	}
	if c.tok != nil {
		return c.tok, nil
	}
	train, err := c.dataset(Train)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.New(c.pre.Tokenizer, train.Column(c.datasets.TextColumn), c.pre.Lowercase)
	if err != nil {
		return nil, err
	}
	c.tok = tok
	return tok, nil
}

// Scans returns how many splits have been read from disk.
func (c *Cache) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}
