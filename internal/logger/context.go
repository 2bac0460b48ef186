package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New(nil)
}

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. A nil l is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a copy of ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField returns a copy of ctx whose logger has one more field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns a copy of ctx whose logger has the given fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// ForExecution tags ctx with the identity of a load execution. Empty values
// are left out.
func ForExecution(ctx context.Context, executionID, configID, correlationID string) context.Context {
	fields := make(Fields, 3)
	for key, val := range map[string]string{
		FieldExecutionID:   executionID,
		FieldConfigID:      configID,
		FieldCorrelationID: correlationID,
	} {
		if val != "" {
			fields[key] = val
		}
	}
	return WithFields(ctx, fields)
}

// ForPartition tags ctx with the staging partition a worker is draining.
func ForPartition(ctx context.Context, partitionKey, workerID string) context.Context {
	return WithFields(ctx, Fields{
		FieldPartitionKey: partitionKey,
		FieldWorkerID:     workerID,
	})
}

// SetCorrelationID sets the correlation ID field in context.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldCorrelationID, id)
}

// SetComponent sets the component name field in context.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

func fieldString(ctx context.Context, key string) string {
	s, _ := FromContext(ctx).Data[key].(string)
	return s
}

// GetExecutionID returns the execution id carried by ctx, if any.
func GetExecutionID(ctx context.Context) string {
	return fieldString(ctx, FieldExecutionID)
}

// GetCorrelationID returns the correlation id carried by ctx, if any.
func GetCorrelationID(ctx context.Context) string {
	return fieldString(ctx, FieldCorrelationID)
}
