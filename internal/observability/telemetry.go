package observability

import (
	"go.uber.org/zap"
)

// TelemetryRecorder implements model.Telemetry by writing each event as a
// structured log line and counting it. Either sink may be nil.
type TelemetryRecorder struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewTelemetryRecorder creates a TelemetryRecorder.
func NewTelemetryRecorder(logger *zap.Logger, metrics *Metrics) *TelemetryRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelemetryRecorder{logger: logger.Named("telemetry"), metrics: metrics}
}

// Record logs and counts event.
func (t *TelemetryRecorder) Record(event string, props map[string]any) {
	if t.metrics != nil {
		t.metrics.RecordTelemetryEvent(event)
	}
	t.logger.Info(event, zap.Any("props", Redact(props)))
}
