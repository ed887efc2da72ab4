package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Struct-tag validation covers ranges and enumerations; the cross-field
// rules that tags cannot express are checked explicitly.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			first := errs[0]
			return fmt.Errorf("invalid value for %s: failed %q validation",
				first.Namespace(), first.Tag())
		}
		return err
	}

	if cfg.Storage.DefaultCopies > cfg.Storage.MaxObjectCopies {
		return fmt.Errorf("storage.default_copies (%d) exceeds storage.max_object_copies (%d)",
			cfg.Storage.DefaultCopies, cfg.Storage.MaxObjectCopies)
	}

	for i, shard := range cfg.Metadata.Shards {
		switch shard.Backend {
		case "badger":
			if shard.Path == "" {
				return fmt.Errorf("metadata.shards[%d]: badger shards require a path", i)
			}
		case "postgres":
			if shard.Postgres.Database == "" {
				return fmt.Errorf("metadata.shards[%d]: postgres shards require a database", i)
			}
		}
	}

	return nil
}
