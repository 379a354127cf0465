// Package metrics defines the metric report exchanged between the training
// loop, the experiment log and the search scheduler, and the sinks that
// record metrics.
package metrics

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

// Standard metric names.
const (
	TrainLoss     = "train_loss"
	TrainAccuracy = "train_accuracy"
	EvalLoss      = "eval_loss"
	EvalAccuracy  = "eval_accuracy"
	EvalExamples  = "eval_examples"
	// NumExamples is the progress axis: cumulative training examples.
	NumExamples = "num_examples"
)

// Report is a set of named scalar metrics tagged with the cumulative number
// of training examples seen (Step) and the epoch.
type Report struct {
	Step   int64
	Epoch  int
	Values map[string]float64
}

// Get returns the value of name and whether the report contains it.
func (r Report) Get(name string) (float64, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Names returns the metric names in sorted order.
func (r Report) Names() []string {
	return slices.Sorted(maps.Keys(r.Values))
}

// RunStatus is the final state of a run recorded by a sink.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// Sink receives parameters and metrics. Calls are append-only and
// fire-and-forget: a sink never fails the training run.
type Sink interface {
	LogParameters(params map[string]any)
	LogMetric(name string, value float64, step int64, epoch int)
}

// Ender is implemented by sinks that record the end of a run.
type Ender interface {
	End(status RunStatus)
}

// End records status on sink if it supports it.
func End(sink Sink, status RunStatus) {
	if e, ok := sink.(Ender); ok {
		e.End(status)
	}
}

// Err returns the write error kept by sink, if it keeps one.
func Err(sink Sink) error {
	if e, ok := sink.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// LogReport sends every value of r to sink, in name order.
func LogReport(sink Sink, r Report) {
	for _, name := range r.Names() {
		sink.LogMetric(name, r.Values[name], r.Step, r.Epoch)
	}
}

// Multi fans out to several sinks.
type Multi []Sink

// LogParameters implements Sink.
func (m Multi) LogParameters(params map[string]any) {
	for _, s := range m {
		s.LogParameters(params)
	}
}

// LogMetric implements Sink.
func (m Multi) LogMetric(name string, value float64, step int64, epoch int) {
	for _, s := range m {
		s.LogMetric(name, value, step, epoch)
	}
}

// End implements Ender.
func (m Multi) End(status RunStatus) {
	for _, s := range m {
		End(s, status)
	}
}

// Err joins the write errors kept by the sinks.
func (m Multi) Err() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, Err(s))
	}
	return errors.Join(errs...)
}

// Point is one recorded metric value.
type Point struct {
	Name  string
	Value float64
	Step  int64
	Epoch int
}

// MemorySink keeps everything in memory. It is safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	params map[string]any
	points []Point
	status RunStatus
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{params: make(map[string]any)}
}

// LogParameters implements Sink.
func (s *MemorySink) LogParameters(params map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.params, params)
}

// LogMetric implements Sink.
func (s *MemorySink) LogMetric(name string, value float64, step int64, epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, Point{Name: name, Value: value, Step: step, Epoch: epoch})
}

// End implements Ender.
func (s *MemorySink) End(status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Params returns a copy of the logged parameters.
func (s *MemorySink) Params() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.params)
}

// Points returns the points logged under name, or all points when name is
// empty.
func (s *MemorySink) Points(name string) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Point
	for _, p := range s.points {
		if name == "" || p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Status returns the status recorded by End.
func (s *MemorySink) Status() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
