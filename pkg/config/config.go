// Package config loads, defaults and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/shoal/internal/bytesize"
	"github.com/marmos91/shoal/pkg/gateway/api"
	"github.com/marmos91/shoal/pkg/meta/store/postgres"
)

// Config represents the gateway configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SHOAL_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server contains the HTTP server configuration (port, timeouts, JWT)
	Server api.APIConfig `mapstructure:"server" yaml:"server"`

	// Storage contains the object write pipeline settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metadata configures the sharded metadata tier
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// StorageNodes configures the storage fleet view
	StorageNodes StorageNodesConfig `mapstructure:"storage_nodes" yaml:"storage_nodes"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead) and the
// /metrics endpoint serves 404.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StorageConfig contains the object write pipeline settings.
type StorageConfig struct {
	// MaxObjectCopies bounds the Durability-Level header.
	// Default: 9
	MaxObjectCopies int `mapstructure:"max_object_copies" validate:"omitempty,min=1,max=9" yaml:"max_object_copies"`

	// DefaultCopies is the replica count used when the client declares no
	// durability level. Default: 2
	DefaultCopies int `mapstructure:"default_copies" validate:"omitempty,min=1" yaml:"default_copies"`

	// DefaultMaxStreamingSizeMB caps chunked bodies that carry no
	// Max-Content-Length header. Default: 51200 (50 GiB)
	DefaultMaxStreamingSizeMB int64 `mapstructure:"default_max_streaming_size_mb" validate:"omitempty,min=1" yaml:"default_max_streaming_size_mb"`

	// MaxUtilizationPct excludes storage nodes above this utilization for
	// normal requests. Default: 90
	MaxUtilizationPct float64 `mapstructure:"max_utilization_pct" validate:"omitempty,gt=0,lte=100" yaml:"max_utilization_pct"`

	// MaxOperatorUtilizationPct is the relaxed threshold for operator
	// requests. Default: 92
	MaxOperatorUtilizationPct float64 `mapstructure:"max_operator_utilization_pct" validate:"omitempty,gt=0,lte=100" yaml:"max_operator_utilization_pct"`

	// AccountsSnaplinksDisabled lists accounts whose deletes carry the
	// snaplinks-disabled hint to the metadata tier.
	AccountsSnaplinksDisabled []string `mapstructure:"accounts_snaplinks_disabled" yaml:"accounts_snaplinks_disabled,omitempty"`

	// MultipartUpload contains multipart upload settings.
	MultipartUpload MultipartUploadConfig `mapstructure:"multipart_upload" yaml:"multipart_upload"`
}

// MultipartUploadConfig contains multipart upload settings.
type MultipartUploadConfig struct {
	// PrefixDirLen is the number of upload-id characters used for the
	// prefix directory fanning uploads out under /:account/uploads.
	// Valid values: 1-4. Default: 1
	PrefixDirLen int `mapstructure:"prefix_dir_len" validate:"omitempty,min=1,max=4" yaml:"prefix_dir_len"`
}

// MetadataConfig configures the sharded metadata tier.
type MetadataConfig struct {
	// Shards lists the metadata shards in ring order. The ring size is
	// fixed for the life of a deployment; records hash to shards by key.
	Shards []ShardConfig `mapstructure:"shards" validate:"required,min=1,dive" yaml:"shards"`
}

// ShardConfig configures one metadata shard.
type ShardConfig struct {
	// Backend selects the shard implementation.
	// Valid values: memory, badger, postgres
	Backend string `mapstructure:"backend" validate:"required,oneof=memory badger postgres" yaml:"backend"`

	// Path is the data directory for badger shards.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Postgres holds the connection settings for postgres shards.
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// StorageNodesConfig configures the storage fleet view.
type StorageNodesConfig struct {
	// RefreshInterval is how often the fleet view is refreshed.
	// Default: 30s
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`

	// Static lists the storage nodes. Deployments with a discovery
	// service replace this with a dynamic source.
	Static []StorageNodeConfig `mapstructure:"static" validate:"required,min=1,dive" yaml:"static"`
}

// StorageNodeConfig describes one storage node.
type StorageNodeConfig struct {
	// ID is the node identifier, e.g. "1.stor.example.com".
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Datacenter names the datacenter the node lives in.
	Datacenter string `mapstructure:"datacenter" validate:"required" yaml:"datacenter"`

	// Address is the host:port of the node's HTTP listener.
	Address string `mapstructure:"address" validate:"required" yaml:"address"`

	// AvailableBytes is the node's free capacity.
	// Supports human-readable formats: "1TB", "512GiB"
	AvailableBytes bytesize.ByteSize `mapstructure:"available_bytes" yaml:"available_bytes"`

	// UtilizationPct is the node's current utilization percentage.
	UtilizationPct float64 `mapstructure:"utilization_pct" validate:"gte=0,lte=100" yaml:"utilization_pct"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SHOAL_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  shoal init\n\n"+
				"Or specify a custom config file:\n"+
				"  shoal <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  shoal init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the file may carry the JWT secret and
	// database passwords.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SHOAL_ prefix and underscores.
	// Example: SHOAL_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SHOAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/shoal/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "1Gi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shoal")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "shoal")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
