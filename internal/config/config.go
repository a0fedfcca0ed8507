// Package config provides daemon configuration loaded from environment
// variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the smsrouterd configuration.
type Config struct {
	// Serial port of the modem. Empty means autodetect.
	SerialPort string `envconfig:"SMSROUTER_SERIAL_PORT"`
	// TraceFile receives a trace of all modem communication when set.
	TraceFile string `envconfig:"SMSROUTER_TRACE_FILE"`

	// DefaultFormat is the device's default voice technology, used while
	// the overlay registration is inactive: "3gpp" or "3gpp2".
	DefaultFormat string `envconfig:"SMSROUTER_DEFAULT_FORMAT" default:"3gpp"`
	MaxRetries    int    `envconfig:"SMSROUTER_MAX_RETRIES" default:"3"`

	// NATS
	NATSURL  string `envconfig:"SMSROUTER_NATS_URL" default:"nats://127.0.0.1:4222"`
	NATSName string `envconfig:"SMSROUTER_NATS_NAME" default:"smsrouter"`

	// Database. Empty means sent messages and premium permissions are kept
	// in memory only.
	DatabaseURL string `envconfig:"SMSROUTER_DATABASE_URL"`

	// Logging
	LogLevel      string `envconfig:"SMSROUTER_LOG_LEVEL" default:"info"`
	LogFile       string `envconfig:"SMSROUTER_LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"SMSROUTER_LOG_MAX_SIZE_MB" default:"10"`
	LogMaxBackups int    `envconfig:"SMSROUTER_LOG_MAX_BACKUPS" default:"3"`
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	switch c.DefaultFormat {
	case "3gpp", "3gpp2":
	default:
		return fmt.Errorf("SMSROUTER_DEFAULT_FORMAT must be 3gpp or 3gpp2, got %q", c.DefaultFormat)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("SMSROUTER_MAX_RETRIES must not be negative")
	}
	return nil
}
