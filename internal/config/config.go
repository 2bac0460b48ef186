package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Validation ValidationConfig `mapstructure:"validation"`
	Threshold  ThresholdConfig  `mapstructure:"threshold"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Staging    StagingConfig    `mapstructure:"staging"`
	Loader     LoaderConfig     `mapstructure:"loader"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Landing    LandingConfig    `mapstructure:"landing"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`   // sqlite file
	URL    string `mapstructure:"url"`    // full postgres URL, wins over the parts below

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.DBName,
		}
		if c.SSLMode != "" {
			u.RawQuery = "sslmode=" + c.SSLMode
		}
		return u.String()
	}
	if c.Path == "" || c.Path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return c.Path
}

type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Type          string `mapstructure:"type"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	InboundPrefix string `mapstructure:"inbound_prefix"`
	ArchivePrefix string `mapstructure:"archive_prefix"`
	DownloadDir   string `mapstructure:"download_dir"`
}

type ValidationConfig struct {
	MaxSamples        int    `mapstructure:"max_samples"`
	DetectDuplicates  bool   `mapstructure:"detect_duplicates"`
	DuplicateSeverity string `mapstructure:"duplicate_severity"`
	BatchReferences   bool   `mapstructure:"batch_references"`
	// CatalogFile switches rule and configuration lookup from the database to a YAML file.
	CatalogFile string `mapstructure:"catalog_file"`
	// StopOnMaxErrors aborts reading a file once it exceeds the configuration's max errors.
	StopOnMaxErrors bool `mapstructure:"stop_on_max_errors"`
}

type ThresholdConfig struct {
	WarningRatio float64       `mapstructure:"warning_ratio"`
	Retention    time.Duration `mapstructure:"retention"`
}

type RetryConfig struct {
	MaxRetries      int      `mapstructure:"max_retries"`
	ErrorRateCutoff float64  `mapstructure:"error_rate_cutoff"`
	NonRetryable    []string `mapstructure:"non_retryable"`
	Retryable       []string `mapstructure:"retryable"`
}

type StagingConfig struct {
	Workers         int           `mapstructure:"workers"`
	PageSize        int           `mapstructure:"page_size"`
	InsertBatchSize int           `mapstructure:"insert_batch_size"`
	MaxProcessing   time.Duration `mapstructure:"max_processing"`
}

type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SweepSpec   string `mapstructure:"sweep_spec"`
	CleanupSpec string `mapstructure:"cleanup_spec"`
}

type LandingConfig struct {
	Dir      string `mapstructure:"dir"`
	Manifest string `mapstructure:"manifest"`
	Cursor   string `mapstructure:"cursor"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("audit.webhook_url", "AUDIT_WEBHOOK_URL")
	v.BindEnv("audit.webhook_token", "AUDIT_WEBHOOK_TOKEN")
	v.BindEnv("loader.binary", "LOADER_BINARY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Loader.ResolveEnvVars()
	cfg.Audit.ResolveEnvVars()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/loadgate.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "loadgate")
	v.SetDefault("storage.inbound_prefix", "inbound/")
	v.SetDefault("storage.archive_prefix", "archive/")
	v.SetDefault("storage.download_dir", "./data/inbound")

	v.SetDefault("validation.max_samples", 100)
	v.SetDefault("validation.detect_duplicates", true)
	v.SetDefault("validation.duplicate_severity", "WARNING")
	v.SetDefault("validation.batch_references", true)
	v.SetDefault("validation.stop_on_max_errors", true)

	v.SetDefault("threshold.warning_ratio", 0.75)
	v.SetDefault("threshold.retention", 24*time.Hour)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.error_rate_cutoff", 50.0)

	v.SetDefault("staging.workers", 4)
	v.SetDefault("staging.page_size", 500)
	v.SetDefault("staging.insert_batch_size", 1000)
	v.SetDefault("staging.max_processing", 30*time.Minute)

	v.SetDefault("loader.timeout", 15*time.Minute)
	v.SetDefault("loader.work_dir", "./data/loader")
	v.SetDefault("loader.breaker.enabled", true)
	v.SetDefault("loader.breaker.max_requests", 1)
	v.SetDefault("loader.breaker.interval", time.Minute)
	v.SetDefault("loader.breaker.timeout", 30*time.Second)
	v.SetDefault("loader.breaker.failure_threshold", 5)

	v.SetDefault("audit.log", true)
	v.SetDefault("audit.timeout", 10*time.Second)
	v.SetDefault("audit.buffer_size", 256)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_spec", "@every 5m")
	v.SetDefault("scheduler.cleanup_spec", "@hourly")

	v.SetDefault("landing.dir", "./data/landing")
	v.SetDefault("landing.manifest", "manifest.jsonl")
	v.SetDefault("landing.cursor", ".cursor")
}
