package audit

import (
	"context"

	"github.com/timmy/loadgate/internal/logger"
)

// LogSink writes events to the context logger.
type LogSink struct{}

// Emit logs e at warn level for breaches and halts, info otherwise.
func (LogSink) Emit(ctx context.Context, e Event) {
	fields := logger.Fields{
		"audit_id":   e.ID,
		"audit_type": string(e.Type),
	}
	if e.ExecutionID != "" {
		fields[logger.FieldExecutionID] = e.ExecutionID
	}
	if e.ConfigID != "" {
		fields[logger.FieldConfigID] = e.ConfigID
	}
	if e.CorrelationID != "" {
		fields[logger.FieldCorrelationID] = e.CorrelationID
	}
	if e.StagingID != "" {
		fields["staging_id"] = e.StagingID
	}
	if e.Severity != "" {
		fields["severity"] = e.Severity
	}
	for k, v := range e.Attributes {
		fields["attr_"+k] = v
	}

	log := logger.FromContext(ctx).WithFields(fields)
	switch e.Type {
	case EventThresholdBreach, EventExecutionHalted:
		log.Warnf("audit: %s", e.Message)
	default:
		log.Infof("audit: %s", e.Message)
	}
}
