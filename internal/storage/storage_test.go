package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = b
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStorage) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[src]
	if !ok {
		return errors.New("NoSuchKey")
	}
	m.objects[dst] = b
	return nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func TestParseInboundKey(t *testing.T) {
	k, err := ParseInboundKey("inbound/", "inbound/TXN/2024-03-15/batch1.dat")
	require.NoError(t, err)
	assert.Equal(t, "TXN", k.ConfigID)
	assert.Equal(t, "batch1.dat", k.Name)
	assert.Equal(t, "2024-03-15", k.BusinessDate.Format("2006-01-02"))

	for _, bad := range []string{
		"other/TXN/2024-03-15/a.dat",
		"inbound/TXN/a.dat",
		"inbound/TXN/15-03-2024/a.dat",
		"inbound//2024-03-15/a.dat",
	} {
		_, err := ParseInboundKey("inbound/", bad)
		assert.ErrorIs(t, err, ErrBadInboundKey, bad)
	}
}

func TestInboundFetchAndArchive(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	require.NoError(t, store.Upload(ctx, "inbound/TXN/2024-03-15/a.dat", strings.NewReader("1|x\n"), 4, "text/plain"))
	require.NoError(t, store.Upload(ctx, "inbound/junk.txt", strings.NewReader("?"), 1, "text/plain"))

	dir := t.TempDir()
	in := NewInbound(store, "inbound/", "archive/", dir)

	keys, err := in.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	local, err := in.Fetch(ctx, keys[0].Key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "TXN", "2024-03-15", "a.dat"), local)
	b, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "1|x\n", string(b))

	dst, err := in.Archive(ctx, keys[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "archive/TXN/2024-03-15/a.dat", dst)
	ok, _ := store.Exists(ctx, keys[0].Key)
	assert.False(t, ok)
	ok, _ = store.Exists(ctx, dst)
	assert.True(t, ok)
}

func TestInboundFetchRejectsEscapingKeys(t *testing.T) {
	in := NewInbound(newMemStorage(), "inbound/", "archive/", t.TempDir())
	_, err := in.Fetch(context.Background(), "inbound/../../etc/passwd")
	assert.ErrorIs(t, err, ErrBadInboundKey)
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://abc.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.eu-west-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType(""))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000/bucket", false))
	assert.Equal(t, "https://minio.internal", endpointURL("minio.internal", true))
}
