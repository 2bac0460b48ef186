package loader

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerInvokerOpensAfterFailures(t *testing.T) {
	calls := 0
	failing := InvokerFunc(func(context.Context, Batch) (*LoadResult, error) {
		calls++
		return nil, errors.New("listener refused connection")
	})
	b := NewBreakerInvoker(failing, BreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	_, err := b.Invoke(ctx, Batch{})
	require.Error(t, err)
	_, err = b.Invoke(ctx, Batch{})
	require.Error(t, err)

	_, err = b.Invoke(ctx, Batch{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", b.State())
}

func TestBreakerInvokerPassesResults(t *testing.T) {
	ok := InvokerFunc(func(_ context.Context, batch Batch) (*LoadResult, error) {
		r := NewResult(batch)
		r.SuccessfulRecords = r.TotalRecords
		return r, nil
	})
	b := NewBreakerInvoker(ok, BreakerConfig{})
	res, err := b.Invoke(context.Background(), Batch{ExecutionID: "E", Rows: []Row{{Payload: "a"}, {Payload: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SuccessfulRecords)
	assert.Equal(t, "E", res.ExecutionID)
	assert.Equal(t, "closed", b.State())
}

func TestExecInvoker(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	t.Run("parses log written by the loader", func(t *testing.T) {
		inv := NewExecInvoker(ExecConfig{
			Binary:  "sh",
			Args:    []string{"-c", `n=$(wc -l < {data}); printf '%s Rows successfully loaded.\n' $n > {log}`},
			WorkDir: t.TempDir(),
		})
		batch := Batch{ExecutionID: "E", TargetTable: "T", Rows: []Row{{Payload: "1|a"}, {Payload: "2|b"}, {Payload: "3|c"}}}
		res, err := inv.Invoke(context.Background(), batch)
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.TotalRecords)
		assert.Equal(t, int64(3), res.SuccessfulRecords)
		assert.Equal(t, Compliant, res.Compliance)
		assert.Zero(t, res.ReturnCode)
		assert.True(t, res.Success)
	})

	t.Run("failure without log is an error", func(t *testing.T) {
		inv := NewExecInvoker(ExecConfig{Binary: "sh", Args: []string{"-c", "exit 3"}, WorkDir: t.TempDir()})
		_, err := inv.Invoke(context.Background(), Batch{Rows: []Row{{Payload: "x"}}})
		assert.Error(t, err)
	})

	t.Run("failure with log is reported in the result", func(t *testing.T) {
		inv := NewExecInvoker(ExecConfig{
			Binary:  "sh",
			Args:    []string{"-c", `echo 'ORA-00054: resource busy and acquire with NOWAIT specified' > {log}; exit 1`},
			WorkDir: t.TempDir(),
		})
		res, err := inv.Invoke(context.Background(), Batch{Rows: []Row{{Payload: "x"}}})
		require.NoError(t, err)
		assert.Equal(t, NonCompliant, res.Compliance)
		assert.Equal(t, 1, res.ReturnCode)
		assert.False(t, res.Success)
		assert.True(t, res.ShouldRetry(3))
	})

	t.Run("non-zero exit with a clean log is not a success", func(t *testing.T) {
		inv := NewExecInvoker(ExecConfig{
			Binary:  "sh",
			Args:    []string{"-c", `echo '1 Row successfully loaded.' > {log}; exit 2`},
			WorkDir: t.TempDir(),
		})
		res, err := inv.Invoke(context.Background(), Batch{Rows: []Row{{Payload: "x"}}})
		require.NoError(t, err)
		assert.Equal(t, 2, res.ReturnCode)
		assert.False(t, res.Succeeded())
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := NewExecInvoker(ExecConfig{}).Invoke(context.Background(), Batch{})
		assert.Error(t, err)
	})
}
