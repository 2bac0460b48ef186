// Package audit carries operational events (threshold breaches, state
// transitions, retry decisions) out of the load pipeline.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names an audit event.
type EventType string

const (
	EventThresholdBreach     EventType = "THRESHOLD_BREACH"
	EventStateTransition     EventType = "STATE_TRANSITION"
	EventRetryDecision       EventType = "RETRY_DECISION"
	EventValidationCompleted EventType = "VALIDATION_COMPLETED"
	EventExecutionHalted     EventType = "EXECUTION_HALTED"
	EventStaleReset          EventType = "STALE_RESET"
)

// Event is a single audit record.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	ExecutionID   string            `json:"execution_id,omitempty"`
	ConfigID      string            `json:"config_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	StagingID     string            `json:"staging_id,omitempty"`
	Severity      string            `json:"severity,omitempty"`
	Message       string            `json:"message"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(t EventType, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
}

// With returns a copy of e with attribute key set.
func (e Event) With(key, value string) Event {
	attrs := make(map[string]string, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// Sink receives audit events. Emit must not block the caller on slow
// downstream systems and never reports failure back into the pipeline.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return Nop
	}
	if len(live) == 1 {
		return live[0]
	}
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range live {
			s.Emit(ctx, e)
		}
	})
}
