// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// Config is the root configuration structure for the sink.
type Config struct {
	LogLevel string        `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	SelfLog  SelfLogConfig `koanf:"selflog"`
	Sink     SinkConfig    `koanf:"sink"`
	Reader   ReaderConfig  `koanf:"reader"`
}

// SelfLogConfig configures the diagnostic self-log. Diagnostics always go
// to stderr; when enabled they are additionally written to a rotating file.
type SelfLogConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// SinkConfig configures the batching/delivery core. All fields are read-only
// after construction; applying changes requires rebuilding the sink.
type SinkConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	RuleID          string        `koanf:"ruleid" yaml:"rule_id" json:"rule_id"`
	Stream          string        `koanf:"stream"`
	APIVersion      string        `koanf:"apiversion" yaml:"api_version" json:"api_version"`
	BatchSize       int           `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	BufferCapacity  int           `koanf:"buffercapacity" yaml:"buffer_capacity" json:"buffer_capacity"`
	FlushInterval   time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	StartupTimeout  time.Duration `koanf:"startuptimeout" yaml:"startup_timeout" json:"startup_timeout"`
	Naming          string        `koanf:"naming"` // "default" or "camelcase"
	MaxDepth        int           `koanf:"maxdepth" yaml:"max_depth" json:"max_depth"`
	Auth            AuthConfig    `koanf:"auth"`
}

// AuthConfig holds the client-credentials grant settings.
// ClientSecret is expected to arrive via environment variable.
type AuthConfig struct {
	LoginEndpoint string `koanf:"loginendpoint" yaml:"login_endpoint" json:"login_endpoint"`
	TenantID      string `koanf:"tenantid" yaml:"tenant_id" json:"tenant_id"`
	ClientID      string `koanf:"clientid" yaml:"client_id" json:"client_id"`
	ClientSecret  string `koanf:"clientsecret" yaml:"client_secret" json:"client_secret"`
	Scope         string `koanf:"scope"`
}

// ReaderConfig holds configuration for the built-in record producers.
type ReaderConfig struct {
	Stdin StdinReaderConfig `koanf:"stdin"`
}

// StdinReaderConfig configures the stdin JSON-lines reader.
type StdinReaderConfig struct {
	Enabled bool `koanf:"enabled"`
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		SelfLog: SelfLogConfig{
			Enabled:    false,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Sink: SinkConfig{
			APIVersion:      "2023-01-01",
			BatchSize:       100,
			BufferCapacity:  10,
			FlushInterval:   2 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			StartupTimeout:  15 * time.Second,
			Naming:          "default",
			MaxDepth:        8,
			Auth: AuthConfig{
				LoginEndpoint: "https://login.microsoftonline.com",
				Scope:         "https://monitor.azure.com//.default",
			},
		},
		Reader: ReaderConfig{
			Stdin: StdinReaderConfig{Enabled: true},
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	// Add file source if path provided or if default config exists
	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		// Try default config locations
		for _, path := range []string{"./config.yaml", "/etc/azmon-sink/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	// Add environment variable support
	opts = append(opts, configloader.WithEnv[Config]("AZMON_SINK_"))

	// Load configuration
	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the settings required to reach the ingestion and
// token endpoints are present and consistent.
func (c *Config) Validate() error {
	var missing []string
	if c.Sink.Endpoint == "" {
		missing = append(missing, "sink.endpoint")
	}
	if c.Sink.RuleID == "" {
		missing = append(missing, "sink.ruleid")
	}
	if c.Sink.Stream == "" {
		missing = append(missing, "sink.stream")
	}
	if c.Sink.Auth.TenantID == "" {
		missing = append(missing, "sink.auth.tenantid")
	}
	if c.Sink.Auth.ClientID == "" {
		missing = append(missing, "sink.auth.clientid")
	}
	if c.Sink.Auth.ClientSecret == "" {
		missing = append(missing, "sink.auth.clientsecret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	switch c.Sink.Naming {
	case "default", "camelcase":
	default:
		return fmt.Errorf("invalid naming strategy: %q (must be 'default' or 'camelcase')", c.Sink.Naming)
	}

	if c.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batchsize must be positive, got %d", c.Sink.BatchSize)
	}
	if c.Sink.BufferCapacity <= 0 {
		return fmt.Errorf("sink.buffercapacity must be positive, got %d", c.Sink.BufferCapacity)
	}
	if c.Sink.FlushInterval <= 0 {
		return fmt.Errorf("sink.flushinterval must be positive, got %v", c.Sink.FlushInterval)
	}
	if c.Sink.MaxDepth <= 0 {
		return fmt.Errorf("sink.maxdepth must be positive, got %d", c.Sink.MaxDepth)
	}

	return nil
}
