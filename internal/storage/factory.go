package storage

import (
	"strings"

	appconfig "github.com/timmy/loadgate/internal/config"
)

// NewStorage builds the inbound object store. An empty Type is inferred from
// the endpoint host.
func NewStorage(cfg *S3Config) (ObjectStorage, error) {
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}
	return NewS3Storage(cfg)
}

// S3ConfigFrom maps the application storage section to an S3Config.
func S3ConfigFrom(c *appconfig.StorageConfig) *S3Config {
	return &S3Config{
		Type:      StorageType(strings.ToLower(c.Type)),
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
		Bucket:    c.Bucket,
		Region:    c.Region,
	}
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
