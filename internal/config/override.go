package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// With returns a deep copy of c with dotted-path overrides applied, for
// example {"model.hidden_size": 256, "optimizer.lr": 3e-4}. The receiver is
// not modified. Unknown paths and values that do not decode into the target
// field are errors.
//
// The copy is made by a YAML round trip, so overrides are interpreted
// exactly as if they had been written in the configuration file.
func (c *Config) With(overrides map[string]any) (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode config tree: %w", err)
	}

	for _, path := range slices.Sorted(maps.Keys(overrides)) {
		if err := setPath(tree, path, overrides[path]); err != nil {
			return nil, fmt.Errorf("%w: override %s: %w", ErrInvalid, path, err)
		}
	}

	data, err = yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode overridden config: %w", err)
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("%w: apply overrides: %w", ErrInvalid, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func setPath(tree map[string]any, path string, value any) error {
	keys := strings.Split(path, ".")
	node := tree
	for i, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a configuration group", strings.Join(keys[:i+1], "."))
		}
		node = child
	}
	last := keys[len(keys)-1]
	if _, ok := node[last]; !ok {
		return fmt.Errorf("unknown key %q", path)
	}
	node[last] = value
	return nil
}

// Flatten returns a single-level view of the configuration with nested keys
// joined by "_" (for example "training_train_batch_size"). It is meant only
// for handing parameters to experiment logging.
func (c *Config) Flatten() map[string]any {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten(out, "", tree)
	return out
}

func flatten(out map[string]any, prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(out, key, child)
			continue
		}
		out[key] = v
	}
}
