package config

import (
	"strings"
	"time"

	"github.com/marmos91/shoal/internal/bytesize"
	"github.com/marmos91/shoal/pkg/gateway"
	"github.com/marmos91/shoal/pkg/mpu"
	"github.com/marmos91/shoal/pkg/placement"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyServerDefaults(cfg)
	applyStorageDefaults(&cfg.Storage)
	applyStorageNodesDefaults(&cfg.StorageNodes)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyServerDefaults sets HTTP server defaults.
func applyServerDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
}

// applyStorageDefaults sets write pipeline defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.MaxObjectCopies == 0 {
		cfg.MaxObjectCopies = gateway.DefaultMaxCopies
	}
	if cfg.DefaultCopies == 0 {
		cfg.DefaultCopies = gateway.DefaultCopies
	}
	if cfg.DefaultMaxStreamingSizeMB == 0 {
		cfg.DefaultMaxStreamingSizeMB = gateway.DefaultMaxStreamingSizeMB
	}
	if cfg.MaxUtilizationPct == 0 {
		cfg.MaxUtilizationPct = placement.DefaultMaxUtilizationPct
	}
	if cfg.MaxOperatorUtilizationPct == 0 {
		cfg.MaxOperatorUtilizationPct = placement.DefaultMaxOperatorUtilizationPct
	}
	if cfg.MultipartUpload.PrefixDirLen == 0 {
		cfg.MultipartUpload.PrefixDirLen = mpu.DefaultPrefixLen
	}
}

// applyStorageNodesDefaults sets fleet view defaults.
func applyStorageNodesDefaults(cfg *StorageNodesConfig) {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	for i := range cfg.Static {
		if cfg.Static[i].AvailableBytes == 0 {
			cfg.Static[i].AvailableBytes = bytesize.ByteSize(bytesize.TiB)
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for generating sample configuration files, testing and
// documentation. The metadata tier defaults to a single in-memory shard and
// the fleet to one local storage node; production deployments override both.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Metadata: MetadataConfig{
			Shards: []ShardConfig{{Backend: "memory"}},
		},
		StorageNodes: StorageNodesConfig{
			Static: []StorageNodeConfig{{
				ID:         "1.stor.local",
				Datacenter: "dc-1",
				Address:    "127.0.0.1:8081",
			}},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
