package landing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAdapterFetchAndMarkDone(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.dat"), "1|x\n")
	writeFile(t, filepath.Join(dir, "b.dat"), "2|y\n")
	writeFile(t, filepath.Join(dir, ManifestFileName),
		`{"id":"B","file":"b.dat","config_id":"TXN","business_date":"2024-03-15"}
not json
{"id":"A","file":"a.dat","config_id":"TXN","business_date":"2024-03-14","transaction_type":"PAY"}
{"id":"MISSING","file":"nope.dat","config_id":"TXN"}
{"id":"","file":"a.dat","config_id":"TXN"}
`)

	ctx := context.Background()
	a := NewAdapter(dir, "", "")
	assert.True(t, a.SupportsIncremental())
	assert.Equal(t, "landing:"+filepath.Base(dir), a.GetSourceID())

	items, next, err := a.FetchBatch(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].ID)
	assert.Equal(t, "PAY", items[0].TransactionTypeID)
	assert.Equal(t, filepath.Join(dir, "a.dat"), items[0].Path)
	assert.Equal(t, "1", next)

	items, next, err = a.FetchBatch(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].ID)
	assert.Empty(t, next)

	require.NoError(t, a.MarkDone(ctx, items[0]))

	fresh := NewAdapter(dir, "", "")
	n, err := fresh.GetTotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdapterMissingManifest(t *testing.T) {
	_, _, err := NewAdapter(t.TempDir(), "", "").FetchBatch(context.Background(), "", 10)
	assert.Error(t, err)
}

func TestAdapterInvalidCursor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ManifestFileName), "")
	_, _, err := NewAdapter(dir, "", "").FetchBatch(context.Background(), "x", 10)
	assert.Error(t, err)
}
