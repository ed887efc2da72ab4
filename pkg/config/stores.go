package config

import (
	"context"
	"fmt"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/pkg/gateway"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/meta/store/badger"
	"github.com/marmos91/shoal/pkg/meta/store/memory"
	"github.com/marmos91/shoal/pkg/meta/store/postgres"
	"github.com/marmos91/shoal/pkg/mpu"
	"github.com/marmos91/shoal/pkg/placement"
)

// BuildMetaClient creates the sharded metadata client from the configured
// shard list. The caller owns the client and must Close it on shutdown.
func (c *Config) BuildMetaClient(ctx context.Context) (*meta.Client, error) {
	shards := make([]meta.Store, 0, len(c.Metadata.Shards))
	for i, shardCfg := range c.Metadata.Shards {
		store, err := buildShard(ctx, shardCfg)
		if err != nil {
			// Close what we already opened.
			meta.NewClient(shards).Close()
			return nil, fmt.Errorf("metadata shard %d (%s): %w", i, shardCfg.Backend, err)
		}
		shards = append(shards, store)
		logger.Debug("metadata shard ready", "index", i, "backend", shardCfg.Backend)
	}
	return meta.NewClient(shards), nil
}

func buildShard(ctx context.Context, cfg ShardConfig) (meta.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "badger":
		return badger.New(cfg.Path)
	case "postgres":
		pg := cfg.Postgres
		return postgres.New(ctx, &pg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// BuildNodeSource creates the placement source from the static node list.
func (c *Config) BuildNodeSource() placement.StaticSource {
	nodes := make(placement.StaticSource, 0, len(c.StorageNodes.Static))
	for _, n := range c.StorageNodes.Static {
		nodes = append(nodes, placement.Node{
			ID:             n.ID,
			Datacenter:     n.Datacenter,
			Address:        n.Address,
			AvailableBytes: int64(n.AvailableBytes),
			UtilizationPct: n.UtilizationPct,
		})
	}
	return nodes
}

// GatewayConfig translates the storage section for the gateway.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		MaxObjectCopies:           c.Storage.MaxObjectCopies,
		DefaultCopies:             c.Storage.DefaultCopies,
		MaxStreamingSizeMB:        c.Storage.DefaultMaxStreamingSizeMB,
		SnaplinksDisabledAccounts: c.Storage.AccountsSnaplinksDisabled,
	}
}

// PlacementConfig translates the storage section for the planner.
func (c *Config) PlacementConfig() placement.Config {
	return placement.Config{
		MaxUtilizationPct:         c.Storage.MaxUtilizationPct,
		MaxOperatorUtilizationPct: c.Storage.MaxOperatorUtilizationPct,
	}
}

// MPUConfig translates the multipart upload section.
func (c *Config) MPUConfig() mpu.Config {
	return mpu.Config{
		PrefixDirLen: c.Storage.MultipartUpload.PrefixDirLen,
	}
}
