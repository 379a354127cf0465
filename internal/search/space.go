package search

import (
	"fmt"
	"maps"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"strings"

	"github.com/born-ml/seqtune/internal/config"
)

// Dimension is one named axis of a search space. Path is the dotted
// configuration path the sampled value replaces.
type Dimension struct {
	Path string
	config.Param
}

// Space is a search space: a set of dimensions ordered by path.
type Space struct {
	dims []Dimension
}

// NewSpace builds a space from the tune.space configuration.
func NewSpace(params map[string]config.Param) (*Space, error) {
	s := &Space{}
	for _, path := range slices.Sorted(maps.Keys(params)) {
		p := params[path]
		switch p.Type {
		case "int", "float":
			if p.High < p.Low {
				return nil, fmt.Errorf("space %s: high %g < low %g", path, p.High, p.Low)
			}
			if p.Log && p.Low <= 0 {
				return nil, fmt.Errorf("space %s: log scale needs low > 0", path)
			}
		case "categorical":
			if len(p.Choices) == 0 {
				return nil, fmt.Errorf("space %s: no choices", path)
			}
		default:
			return nil, fmt.Errorf("space %s: unknown parameter type %q", path, p.Type)
		}
		s.dims = append(s.dims, Dimension{Path: path, Param: p})
	}
	return s, nil
}

// Len returns the number of dimensions.
func (s *Space) Len() int {
	return len(s.dims)
}

// Dims returns the dimensions ordered by path.
func (s *Space) Dims() []Dimension {
	return s.dims
}

// Sample draws one assignment uniformly (log-uniformly for log dimensions).
func (s *Space) Sample(rng *rand.Rand) Assignment {
	a := make(Assignment, len(s.dims))
	for _, d := range s.dims {
		if d.Type == "categorical" {
			a[d.Path] = d.Choices[rng.Intn(len(d.Choices))]
			continue
		}
		lo, hi := d.bounds()
		a[d.Path] = d.fromInternal(lo + rng.Float64()*(hi-lo))
	}
	return a
}

// Normalize converts values decoded from JSON or YAML back to the types the
// space produces: int for int dimensions, float64 for float dimensions and
// the matching choice for categorical dimensions. Paths outside the space
// are dropped.
func (s *Space) Normalize(a Assignment) (Assignment, error) {
	out := make(Assignment, len(s.dims))
	for _, d := range s.dims {
		v, ok := a[d.Path]
		if !ok {
			return nil, fmt.Errorf("assignment misses %s", d.Path)
		}
		switch d.Type {
		case "categorical":
			idx := d.choiceIndex(v)
			if idx < 0 {
				return nil, fmt.Errorf("%s: %v is not a choice", d.Path, v)
			}
			out[d.Path] = d.Choices[idx]
		default:
			f, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Path, err)
			}
			if d.Type == "int" {
				out[d.Path] = int(math.Round(f))
			} else {
				out[d.Path] = f
			}
		}
	}
	return out, nil
}

// bounds returns the sampling interval in the internal (log for log
// dimensions) scale.
func (d Dimension) bounds() (float64, float64) {
	if d.Log {
		return math.Log(d.Low), math.Log(d.High)
	}
	return d.Low, d.High
}

// toInternal maps a value to the internal scale.
func (d Dimension) toInternal(v any) float64 {
	f, _ := toFloat(v)
	if d.Log {
		return math.Log(f)
	}
	return f
}

// fromInternal maps an internal-scale value back to a quantised, clamped
// value of the dimension's type.
func (d Dimension) fromInternal(u float64) any {
	x := u
	if d.Log {
		x = math.Exp(u)
	}
	if d.Q > 0 {
		x = math.Round(x/d.Q) * d.Q
	}
	x = math.Min(math.Max(x, d.Low), d.High)
	if d.Type == "int" {
		return int(math.Round(x))
	}
	return x
}

func (d Dimension) choiceIndex(v any) int {
	want := fmt.Sprint(v)
	for i, c := range d.Choices {
		if fmt.Sprint(c) == want {
			return i
		}
	}
	return -1
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}

// Assignment maps configuration paths to sampled values.
type Assignment map[string]any

// Key returns a canonical string identifying the assignment. Two
// assignments with equal values have equal keys.
func (a Assignment) Key() string {
	var b strings.Builder
	for i, path := range slices.Sorted(maps.Keys(a)) {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(path)
		b.WriteByte('=')
		switch v := a[path].(type) {
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
