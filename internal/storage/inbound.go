package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
)

// ErrBadInboundKey is returned for keys that do not follow the inbound layout.
var ErrBadInboundKey = errors.New("inbound key must be <prefix><config_id>/<yyyy-mm-dd>/<file>")

// InboundKey is a parsed inbound object key.
type InboundKey struct {
	Key          string
	ConfigID     string
	BusinessDate time.Time
	Name         string
}

// ParseInboundKey splits key, which must be prefix + config/date/name.
func ParseInboundKey(prefix, key string) (InboundKey, error) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return InboundKey{}, fmt.Errorf("%s: %w", key, ErrBadInboundKey)
	}
	parts := strings.Split(strings.TrimPrefix(rest, "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return InboundKey{}, fmt.Errorf("%s: %w", key, ErrBadInboundKey)
	}
	date, err := time.Parse(domain.BusinessDateLayout, parts[1])
	if err != nil {
		return InboundKey{}, fmt.Errorf("%s: %w", key, ErrBadInboundKey)
	}
	return InboundKey{Key: key, ConfigID: parts[0], BusinessDate: date, Name: parts[2]}, nil
}

// Inbound moves inbound files between object storage and the local disk.
type Inbound struct {
	store         ObjectStorage
	prefix        string
	archivePrefix string
	dir           string
}

// NewInbound creates an Inbound. Files are downloaded below dir.
func NewInbound(store ObjectStorage, prefix, archivePrefix, dir string) *Inbound {
	return &Inbound{store: store, prefix: prefix, archivePrefix: archivePrefix, dir: dir}
}

// Prefix returns the inbound key prefix.
func (in *Inbound) Prefix() string { return in.prefix }

// List returns the parseable inbound keys. Keys with another layout are
// logged and skipped.
func (in *Inbound) List(ctx context.Context) ([]InboundKey, error) {
	objects, err := in.store.List(ctx, in.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]InboundKey, 0, len(objects))
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		k, err := ParseInboundKey(in.prefix, obj.Key)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Skipping inbound object")
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Fetch downloads key into the local directory and returns the file path.
func (in *Inbound) Fetch(ctx context.Context, key string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, in.prefix), "/")
	local := filepath.Join(in.dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(local, filepath.Clean(in.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", key, ErrBadInboundKey)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	body, err := in.store.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp := local + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to download %s: %w", key, err)
	}
	if err := os.Rename(tmp, local); err != nil {
		return "", err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldFile: local,
		logger.FieldSize: n,
	}).Debug("Downloaded inbound file")
	return local, nil
}

// Archive moves key below the archive prefix and returns the new key.
func (in *Inbound) Archive(ctx context.Context, key string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, in.prefix), "/")
	dst := path.Join(strings.TrimSuffix(in.archivePrefix, "/"), rel)
	if err := in.store.Copy(ctx, key, dst); err != nil {
		return "", err
	}
	if err := in.store.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("archived %s to %s but could not delete the original: %w", key, dst, err)
	}
	return dst, nil
}
