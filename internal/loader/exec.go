package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/timmy/loadgate/internal/logger"
)

// Argument placeholders substituted by ExecInvoker.
const (
	PlaceholderData  = "{data}"
	PlaceholderLog   = "{log}"
	PlaceholderBad   = "{bad}"
	PlaceholderTable = "{table}"
)

// ExecConfig configures an ExecInvoker.
type ExecConfig struct {
	// Binary is the loader executable, e.g. sqlldr.
	Binary string
	// Args may contain the {data}, {log}, {bad} and {table} placeholders.
	Args []string
	// WorkDir receives the per-batch data and log files; empty uses os.TempDir.
	WorkDir string
	// Timeout bounds one invocation; zero means no limit.
	Timeout time.Duration
	// KeepFiles leaves the batch files on disk for inspection.
	KeepFiles bool
	// Env is appended to the process environment.
	Env []string
}

// ExecInvoker runs the loader as a subprocess per batch and parses its log.
type ExecInvoker struct {
	cfg ExecConfig
}

// NewExecInvoker creates an ExecInvoker.
func NewExecInvoker(cfg ExecConfig) *ExecInvoker {
	return &ExecInvoker{cfg: cfg}
}

// Invoke writes the batch rows to a data file, runs the loader and builds the
// LoadResult from its log. A non-zero exit with a parseable log is reported
// through the result; without a log it is an error.
func (e *ExecInvoker) Invoke(ctx context.Context, batch Batch) (*LoadResult, error) {
	if e.cfg.Binary == "" {
		return nil, errors.New("loader binary not configured")
	}

	res := NewResult(batch)
	res.StartTime = time.Now()

	dir, err := os.MkdirTemp(e.cfg.WorkDir, "batch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create batch dir: %w", err)
	}
	if !e.cfg.KeepFiles {
		defer os.RemoveAll(dir)
	}

	dataPath := filepath.Join(dir, "batch.dat")
	logPath := filepath.Join(dir, "batch.log")
	badPath := filepath.Join(dir, "batch.bad")
	if err := writeRows(dataPath, batch.Rows); err != nil {
		return nil, err
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	replacer := strings.NewReplacer(
		PlaceholderData, dataPath,
		PlaceholderLog, logPath,
		PlaceholderBad, badPath,
		PlaceholderTable, batch.TargetTable,
	)
	args := make([]string, len(e.cfg.Args))
	for i, a := range e.cfg.Args {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(runCtx, e.cfg.Binary, args...)
	cmd.Dir = dir
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	output, runErr := cmd.CombinedOutput()

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldExecutionID:  batch.ExecutionID,
		logger.FieldPartitionKey: batch.PartitionKey,
		logger.FieldCount:        len(batch.Rows),
	})

	logText, readErr := os.ReadFile(logPath)
	if readErr != nil {
		// some loaders only write to stdout
		logText = output
	}
	if runErr != nil && len(logText) == 0 {
		log.WithError(runErr).Errorf("Loader failed: %s", strings.TrimSpace(string(output)))
		return nil, fmt.Errorf("loader %s failed: %w", e.cfg.Binary, runErr)
	}

	res.ReturnCode = cmd.ProcessState.ExitCode()
	ParseLog(string(logText)).Apply(res)
	if runErr != nil && res.ErrorCount == 0 {
		res.AddError(fmt.Sprintf("loader exited: %v", runErr))
	}
	res.CompleteExecution()

	logger.With(logger.Fields{
		"return_code":            res.ReturnCode,
		logger.FieldDurationMs:   res.DurationMs,
		logger.FieldErrorCount:   res.ErrorCount,
		logger.FieldWarningCount: res.WarningCount,
	}).Info(log.WithContext(ctx), "Loader finished: loaded=%d failed=%d", res.SuccessfulRecords, res.FailedRecords())
	return res, nil
}

func writeRows(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range rows {
		w.WriteString(r.Payload)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write data file: %w", err)
	}
	return f.Close()
}
