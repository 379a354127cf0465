package nn

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/born-ml/seqtune/internal/autodiff"
	"github.com/born-ml/seqtune/internal/config"
)

// ErrUnknownModel is returned by Build for an unregistered model name.
var ErrUnknownModel = errors.New("unknown model")

// Factory builds a model for a vocabulary of vocabSize ids.
type Factory func(vocabSize int, cfg config.Model, backend *autodiff.Backend, seed int64) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		RNNName: func(vocabSize int, cfg config.Model, backend *autodiff.Backend, seed int64) (Model, error) {
			return NewRNN(vocabSize, cfg, backend, seed)
		},
	}
)

// Register adds a factory under name, replacing any previous entry.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Models returns the registered model names in sorted order.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build looks up cfg.Name and builds the model. It satisfies Factory.
func Build(vocabSize int, cfg config.Model, backend *autodiff.Backend, seed int64) (Model, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownModel, cfg.Name, Models())
	}
	return f(vocabSize, cfg, backend, seed)
}
