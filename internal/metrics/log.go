package metrics

import (
	"github.com/charmbracelet/log"
)

// LogSink writes metrics to a structured logger.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink. A nil logger uses log.Default().
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// LogParameters logs the parameters at debug level.
func (s *LogSink) LogParameters(params map[string]any) {
	kv := make([]any, 0, 2*len(params))
	for _, k := range sortedKeys(params) {
		kv = append(kv, k, params[k])
	}
	s.logger.Debug("parameters", kv...)
}

// LogMetric logs one metric at info level.
func (s *LogSink) LogMetric(name string, value float64, step int64, epoch int) {
	s.logger.Info("metric", "name", name, "value", value, "step", step, "epoch", epoch)
}

// End logs the final run status.
func (s *LogSink) End(status RunStatus) {
	s.logger.Info("run ended", "status", status)
}
