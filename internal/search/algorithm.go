package search

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// StateFile is the name of the algorithm state file in a checkpoint
// directory.
const StateFile = "observations.json"

// Observation is one metric value reported for a trial's assignment.
type Observation struct {
	TrialID    string     `json:"trial_id"`
	Assignment Assignment `json:"assignment"`
	Value      float64    `json:"value"`
	// Budget is the cumulative number of examples the trial had seen.
	Budget int64 `json:"budget"`
	// Final marks the trial's terminal observation; the others are
	// intermediate reports.
	Final  bool `json:"final"`
	Failed bool `json:"failed,omitempty"`
}

// Algorithm proposes assignments and learns from their results. It is
// driven by a single goroutine.
type Algorithm interface {
	// Name returns the method name.
	Name() string
	// Suggest returns the next assignment to try, or false when the
	// algorithm has nothing new to propose.
	Suggest() (Assignment, bool)
	// Observe records a result. Failed observations never inform the model.
	Observe(obs Observation)
	// Seen reports whether an assignment key was already suggested or
	// observed.
	Seen(key string) bool
	// Forget makes a suggested assignment that never produced a final
	// observation eligible for suggestion again.
	Forget(a Assignment)
	// MaxConcurrent bounds the trials running at once; 0 means no limit.
	MaxConcurrent() int
	// Observations returns the number of final observations.
	Observations() int
	// Save writes the observation history to dir.
	Save(dir string) error
	// Restore replaces the observation history with the one in dir.
	Restore(dir string) error
}

// maxDraws bounds the attempts to find an assignment not seen before.
const maxDraws = 1000

// history is the observation log and the set of seen keys shared by the
// algorithms.
type history struct {
	space *Space
	obs   []Observation
	seen  map[string]bool
}

func newHistory(space *Space) history {
	return history{space: space, seen: make(map[string]bool)}
}

func (h *history) record(obs Observation) {
	h.obs = append(h.obs, obs)
	if obs.Final {
		h.seen[obs.Assignment.Key()] = true
	}
}

func (h *history) finals() []Observation {
	var out []Observation
	for _, o := range h.obs {
		if o.Final {
			out = append(out, o)
		}
	}
	return out
}

// Seen implements Algorithm.
func (h *history) Seen(key string) bool {
	return h.seen[key]
}

// Forget implements Algorithm.
func (h *history) Forget(a Assignment) {
	key := a.Key()
	for _, o := range h.obs {
		if o.Final && o.Assignment.Key() == key {
			return
		}
	}
	delete(h.seen, key)
}

// Observations implements Algorithm.
func (h *history) Observations() int {
	return len(h.finals())
}

type stateFile struct {
	Method       string        `json:"method"`
	Observations []Observation `json:"observations"`
}

// save writes the history atomically to dir/StateFile.
func (h *history) save(dir, method string) error {
	data, err := json.MarshalIndent(stateFile{Method: method, Observations: h.obs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s state: %w", method, err)
	}
	tmp, err := os.CreateTemp(dir, StateFile+".*")
	if err != nil {
		return fmt.Errorf("save %s state: %w", method, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s state: %w", method, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s state: %w", method, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, StateFile))
}

// load reads dir/StateFile and returns its observations with assignments
// normalised to the space.
func (h *history) load(dir, method string) ([]Observation, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, fmt.Errorf("restore %s state: %w", method, err)
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", method, err)
	}
	if st.Method != method {
		return nil, fmt.Errorf("restore %s state: file written by %q", method, st.Method)
	}
	for i := range st.Observations {
		a, err := h.space.Normalize(st.Observations[i].Assignment)
		if err != nil {
			return nil, fmt.Errorf("restore %s state: observation %d: %w", method, i, err)
		}
		st.Observations[i].Assignment = a
	}
	return st.Observations, nil
}

// sampleUnseen draws random assignments until one has not been seen.
func (h *history) sampleUnseen(rng *rand.Rand) (Assignment, bool) {
	for i := 0; i < maxDraws; i++ {
		a := h.space.Sample(rng)
		if !h.seen[a.Key()] {
			return a, true
		}
	}
	return nil, false
}

// Random proposes independent random draws. With an empty space it
// proposes the base configuration (an empty assignment) every time;
// otherwise it never proposes the same assignment twice.
type Random struct {
	history
	rng           *rand.Rand
	maxConcurrent int
}

// NewRandom creates a random search.
func NewRandom(space *Space, seed int64, maxConcurrent int) *Random {
	return &Random{
		history:       newHistory(space),
		rng:           rand.New(rand.NewSource(seed)), //nolint:gosec // G404: sampling does not need crypto randomness.
		maxConcurrent: maxConcurrent,
	}
}

// Name implements Algorithm.
func (r *Random) Name() string { return MethodNoSearch }

// Suggest implements Algorithm.
func (r *Random) Suggest() (Assignment, bool) {
	if r.space.Len() == 0 {
		return Assignment{}, true
	}
	a, ok := r.sampleUnseen(r.rng)
	if ok {
		r.seen[a.Key()] = true
	}
	return a, ok
}

// Observe implements Algorithm. Intermediate observations are ignored.
func (r *Random) Observe(obs Observation) {
	if obs.Final {
		r.record(obs)
	}
}

// MaxConcurrent implements Algorithm.
func (r *Random) MaxConcurrent() int { return r.maxConcurrent }

// Save implements Algorithm.
func (r *Random) Save(dir string) error { return r.save(dir, MethodNoSearch) }

// Restore implements Algorithm.
func (r *Random) Restore(dir string) error {
	obs, err := r.load(dir, MethodNoSearch)
	if err != nil {
		return err
	}
	r.history = newHistory(r.space)
	for _, o := range obs {
		r.Observe(o)
	}
	return nil
}
