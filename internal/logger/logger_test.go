package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(&EnvConfig{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"}), &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_MAX_AGE", "nope")
	t.Setenv("LOG_CALLER", "false")

	cfg := LoadFromEnv()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, 30, cfg.MaxAgeDays)
	assert.False(t, cfg.Caller)

	t.Setenv("LOADGATE_LOG_LEVEL", "debug")
	assert.Equal(t, "debug", LoadFromEnv().Level)
}

func TestForExecution(t *testing.T) {
	l, buf := capture(t)
	ctx := ForExecution(l.WithContext(context.Background()), "exec-1", "ACCT", "")

	assert.Equal(t, "exec-1", GetExecutionID(ctx))
	assert.Empty(t, GetCorrelationID(ctx))

	CtxInfo(ForPartition(ctx, "TX01|20240315", "worker-0"), "claimed %d", 3)
	line := decode(t, buf)
	assert.Equal(t, "claimed 3", line["message"])
	assert.Equal(t, "exec-1", line[FieldExecutionID])
	assert.Equal(t, "ACCT", line[FieldConfigID])
	assert.Equal(t, "worker-0", line[FieldWorkerID])
	assert.NotContains(t, line, FieldCorrelationID)
	assert.Equal(t, "test", line["service"])
}

func TestEntry(t *testing.T) {
	l, buf := capture(t)
	ctx := SetCorrelationID(l.WithContext(context.Background()), "corr-1")

	base := With(Fields{"task": "sweep"})
	base.WithRecords(10, 2).WithIssues(3, 1).WithDuration(1500*time.Millisecond).Warn(ctx, "done")
	line := decode(t, buf)
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "sweep", line["task"])
	assert.Equal(t, 10.0, line[FieldRecordCount])
	assert.Equal(t, 2.0, line[FieldInvalidCount])
	assert.Equal(t, 3.0, line[FieldErrorCount])
	assert.Equal(t, 1500.0, line[FieldDurationMs])
	assert.Equal(t, "corr-1", line[FieldCorrelationID])

	buf.Reset()
	base.WithStatus("ok").Debug(ctx, "again")
	line = decode(t, buf)
	assert.Equal(t, "ok", line[FieldStatus])
	assert.NotContains(t, line, FieldRecordCount)
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))

	l, _ := capture(t)
	SetDefaultLogger(l)
	t.Cleanup(func() { SetDefaultLogger(New(nil)) })
	assert.Same(t, l, FromContext(context.TODO()))
}

func TestFileFieldKeepsCaller(t *testing.T) {
	var buf bytes.Buffer
	l := New(&EnvConfig{Level: "info", Format: "json", Output: &buf, Caller: true})

	l.WithField(FieldFile, "inbound/acct.dat").Info("Starting load execution")
	line := decode(t, &buf)
	assert.Equal(t, "inbound/acct.dat", line[FieldFile])
	assert.Contains(t, line["file"], ".go:")
	assert.NotContains(t, line, "fields.file")
}
