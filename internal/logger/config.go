package logger

import (
	"io"
	"os"
	"strconv"
)

// envPrefix namespaces the logger variables. LOADGATE_LOG_LEVEL wins over
// LOG_LEVEL so a shared host environment can be overridden per service.
const envPrefix = "LOADGATE_"

// EnvConfig is the logger configuration read from the environment.
type EnvConfig struct {
	Level       string
	Format      string // json or text
	Output      io.Writer
	ServiceName string
	Environment string // local, dev, prod
	Caller      bool   // report file:line of the call site

	// Rotated file output, used outside the local environment.
	LogFile     string
	LogFileOnly bool
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
}

// LoadFromEnv reads LOG_* (and LOADGATE_LOG_*) variables.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       lookup("LOG_LEVEL", "info"),
		Format:      lookup("LOG_FORMAT", "json"),
		ServiceName: lookup("SERVICE_NAME", "loadgate"),
		Environment: lookup("APP_ENV", "local"),
		Caller:      lookupBool("LOG_CALLER", true),

		LogFile:     lookup("LOG_FILE", "/var/log/loadgate/loadgate.log"),
		LogFileOnly: lookupBool("LOG_FILE_ONLY", false),
		MaxSizeMB:   lookupInt("LOG_MAX_SIZE", 100),
		MaxBackups:  lookupInt("LOG_MAX_BACKUPS", 7),
		MaxAgeDays:  lookupInt("LOG_MAX_AGE", 30),
		Compress:    lookupBool("LOG_COMPRESS", true),
	}
}

func lookup(key, def string) string {
	if val := os.Getenv(envPrefix + key); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func lookupBool(key string, def bool) bool {
	b, err := strconv.ParseBool(lookup(key, ""))
	if err != nil {
		return def
	}
	return b
}

func lookupInt(key string, def int) int {
	i, err := strconv.Atoi(lookup(key, ""))
	if err != nil {
		return def
	}
	return i
}
