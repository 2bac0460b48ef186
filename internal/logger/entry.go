package logger

import (
	"context"
	"maps"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry carries aggregatable metric fields (duration_ms, count, record and
// error counts) that are attached to a single log line. Tracing fields come
// from the context logger at emit time.
//
//	logger.With(logger.Fields{"batches": n}).WithDuration(elapsed).Info(ctx, "Load finished")
type Entry struct {
	fields Fields
}

// With starts an Entry with the given metric fields.
func With(fields Fields) *Entry {
	return &Entry{fields: maps.Clone(fields)}
}

// With returns a copy of e with fields merged in.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	maps.Copy(merged, e.fields)
	maps.Copy(merged, fields)
	return &Entry{fields: merged}
}

// WithField returns a copy of e with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// WithDuration records d in milliseconds.
func (e *Entry) WithDuration(d time.Duration) *Entry {
	return e.WithField(FieldDurationMs, d.Milliseconds())
}

// WithCount records a generic count.
func (e *Entry) WithCount(count int) *Entry {
	return e.WithField(FieldCount, count)
}

// WithStatus records an operation status.
func (e *Entry) WithStatus(status string) *Entry {
	return e.WithField(FieldStatus, status)
}

// WithRecords records the total and invalid record counts of a file.
func (e *Entry) WithRecords(total, invalid int64) *Entry {
	return e.With(Fields{FieldRecordCount: total, FieldInvalidCount: invalid})
}

// WithIssues records error and warning counts.
func (e *Entry) WithIssues(errors, warnings int64) *Entry {
	return e.With(Fields{FieldErrorCount: errors, FieldWarningCount: warnings})
}

func (e *Entry) log(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Logf(level, format, args...)
}

// Debug logs at debug level through the context logger.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.DebugLevel, format, args...)
}

// Info logs at info level through the context logger.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.InfoLevel, format, args...)
}

// Warn logs at warn level through the context logger.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.WarnLevel, format, args...)
}

// Error logs at error level through the context logger.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.ErrorLevel, format, args...)
}
