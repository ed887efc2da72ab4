// Package postgres implements a metadata shard on PostgreSQL via pgx. Each
// shard maps to one database (or schema); conditional writes and batches run
// in serializable-enough transactions guarded by row locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/pkg/meta"
)

// Config holds connection settings for one PostgreSQL shard.
type Config struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 16
	}
}

// ConnectionString renders the config as a pgx connection string.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Store is a PostgreSQL-backed metadata shard.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    key   TEXT PRIMARY KEY,
    value JSONB NOT NULL,
    etag  TEXT NOT NULL,
    mtime BIGINT NOT NULL
);
`

// New connects to the shard database and ensures the schema exists.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	cfg.ApplyDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure shard schema: %w", err)
	}

	logger.Debug("postgres shard connected", "host", cfg.Host, "database", cfg.Database)
	return &Store{pool: pool}, nil
}

// unavailable wraps transport-level failures as ShardUnavailable so callers
// can distinguish them from logical failures.
func unavailable(err error) error {
	return meta.NewShardUnavailableError(0, err)
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := &meta.Entry{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT value, etag, mtime FROM entries WHERE key = $1`, key,
	).Scan(&e.Value, &e.Etag, &e.ModifiedMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, meta.NewNotFoundError(key)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

// lockCurrent reads the current entry for key inside tx, locking the row.
func lockCurrent(ctx context.Context, tx pgx.Tx, key string) (*meta.Entry, error) {
	e := &meta.Entry{Key: key}
	err := tx.QueryRow(ctx,
		`SELECT value, etag, mtime FROM entries WHERE key = $1 FOR UPDATE`, key,
	).Scan(&e.Value, &e.Etag, &e.ModifiedMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

// upsert writes value under key with a fresh etag inside tx.
func upsert(ctx context.Context, tx pgx.Tx, key string, value []byte) (*meta.Entry, error) {
	e := &meta.Entry{
		Key:        key,
		Value:      append([]byte(nil), value...),
		Etag:       uuid.NewString(),
		ModifiedMs: time.Now().UnixMilli(),
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO entries (key, value, etag, mtime) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = $2, etag = $3, mtime = $4`,
		key, e.Value, e.Etag, e.ModifiedMs,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

// Put writes value under key subject to cond.
func (s *Store) Put(ctx context.Context, key string, value []byte, cond meta.Condition) (*meta.Entry, error) {
	var e *meta.Entry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := lockCurrent(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := cond.Check(key, current); err != nil {
			return err
		}
		e, err = upsert(ctx, tx, key, value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes key subject to cond.
func (s *Store) Delete(ctx context.Context, key string, cond meta.Condition, _ meta.DeleteOptions) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := lockCurrent(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == nil {
			return meta.NewNotFoundError(key)
		}
		if err := cond.Check(key, current); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM entries WHERE key = $1`, key)
		if err != nil {
			return unavailable(err)
		}
		return nil
	})
}

// Batch applies ops in one transaction; conditions are all checked under row
// locks before any write.
func (s *Store) Batch(ctx context.Context, ops []meta.Op) ([]*meta.Entry, error) {
	var results []*meta.Entry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		results = results[:0]
		currents := make([]*meta.Entry, len(ops))
		for i, op := range ops {
			current, err := lockCurrent(ctx, tx, op.Key)
			if err != nil {
				return err
			}
			if op.Kind == meta.OpDelete && current == nil {
				return meta.NewNotFoundError(op.Key)
			}
			if err := op.Cond.Check(op.Key, current); err != nil {
				return err
			}
			currents[i] = current
		}
		for _, op := range ops {
			switch op.Kind {
			case meta.OpPut:
				e, err := upsert(ctx, tx, op.Key, op.Value)
				if err != nil {
					return err
				}
				results = append(results, e)
			case meta.OpDelete:
				if _, err := tx.Exec(ctx, `DELETE FROM entries WHERE key = $1`, op.Key); err != nil {
					return unavailable(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CountChildren returns the number of direct children of dirKey.
func (s *Store) CountChildren(ctx context.Context, dirKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	escaped := escapeLike(dirKey)
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM entries
		 WHERE key LIKE $1 ESCAPE '\' AND key NOT LIKE $2 ESCAPE '\'`,
		escaped+"/%", escaped+"/%/%",
	).Scan(&n)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// escapeLike escapes LIKE metacharacters in a key.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// withTx executes fn within a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
