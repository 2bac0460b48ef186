package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// LoaderConfig describes the external bulk loader process.
type LoaderConfig struct {
	Binary    string        `mapstructure:"binary"`     // Loader executable, e.g. sqlldr
	BinaryEnv string        `mapstructure:"binary_env"` // Environment variable naming the executable
	Args      []string      `mapstructure:"args"`       // Arguments with {data} {log} {bad} {table} placeholders
	WorkDir   string        `mapstructure:"work_dir"`   // Directory for per-batch data and log files
	Timeout   time.Duration `mapstructure:"timeout"`    // Upper bound for one invocation
	KeepFiles bool          `mapstructure:"keep_files"` // Keep batch files after the run
	// Env lists KEY=VALUE pairs passed to the loader; values of the form $NAME are
	// read from the environment.
	Env     []string      `mapstructure:"env"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the loader.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// ResolveEnvVars resolves environment variable references in the configuration.
// A directly configured Binary takes precedence over BinaryEnv.
func (c *LoaderConfig) ResolveEnvVars() {
	if c.BinaryEnv != "" && c.Binary == "" {
		if val := os.Getenv(c.BinaryEnv); val != "" {
			c.Binary = val
		}
	}

	for i, kv := range c.Env {
		key, val, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(val, "$") {
			c.Env[i] = key + "=" + os.Getenv(strings.TrimPrefix(val, "$"))
		}
	}
}

// Validate checks that the loader can be started.
// Returns an error describing the first validation failure, or nil if valid.
func (c *LoaderConfig) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("loader: binary is required (set directly or via %s)", c.BinaryEnv)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("loader: timeout must not be negative")
	}
	hasData := false
	for _, a := range c.Args {
		if strings.Contains(a, "{data}") {
			hasData = true
		}
	}
	if !hasData {
		return fmt.Errorf("loader: args must reference the {data} file")
	}
	for _, kv := range c.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("loader: env entry %q is not KEY=VALUE", kv)
		}
	}
	return nil
}

// AuditConfig selects the audit sinks.
type AuditConfig struct {
	Log             bool          `mapstructure:"log"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	WebhookURLEnv   string        `mapstructure:"webhook_url_env"`
	WebhookToken    string        `mapstructure:"webhook_token"`
	WebhookTokenEnv string        `mapstructure:"webhook_token_env"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BufferSize      int           `mapstructure:"buffer_size"`
}

// ResolveEnvVars fills the webhook URL and token from their environment variables.
func (c *AuditConfig) ResolveEnvVars() {
	if c.WebhookURLEnv != "" && c.WebhookURL == "" {
		c.WebhookURL = os.Getenv(c.WebhookURLEnv)
	}
	if c.WebhookTokenEnv != "" && c.WebhookToken == "" {
		c.WebhookToken = os.Getenv(c.WebhookTokenEnv)
	}
}
