// Package meta implements the gateway's client for the sharded metadata
// tier: object and directory records, multipart upload records and the
// finalizing records that make upload finalization exactly-once.
//
// The tier is modeled as a set of shards (Store implementations) behind a
// deterministic hash ring. All writes are optionally conditional on an etag
// or on absence; batches are atomic within a single shard. The client never
// retries after an etag mismatch.
package meta

import (
	"context"
	"time"

	"github.com/marmos91/shoal/internal/logger"
)

// Client routes metadata operations to the correct shard.
type Client struct {
	ring   *Ring
	shards []Store
}

// NewClient creates a metadata client over the given shards. The shard order
// is part of the deployment contract; reordering remaps every key.
func NewClient(shards []Store) *Client {
	return &Client{
		ring:   NewRing(len(shards)),
		shards: shards,
	}
}

// Shards returns the number of shards behind the client.
func (c *Client) Shards() int {
	return c.ring.Shards()
}

// Shard returns the shard index key routes to.
func (c *Client) Shard(key string) int {
	return c.ring.Shard(key)
}

func (c *Client) store(key string) (int, Store) {
	i := c.ring.Shard(key)
	return i, c.shards[i]
}

// Get returns the raw entry for key.
func (c *Client) Get(ctx context.Context, key string) (*Entry, error) {
	shard, s := c.store(key)
	start := time.Now()
	e, err := s.Get(ctx, key)
	logger.DebugCtx(ctx, "meta get",
		logger.KeyKey, key,
		logger.KeyShard, shard,
		logger.KeyDurationMs, logger.Duration(start),
	)
	return e, err
}

// Put writes value under key subject to cond.
func (c *Client) Put(ctx context.Context, key string, value []byte, cond Condition) (*Entry, error) {
	shard, s := c.store(key)
	start := time.Now()
	e, err := s.Put(ctx, key, value, cond)
	if err != nil {
		logger.DebugCtx(ctx, "meta put failed",
			logger.KeyKey, key,
			logger.KeyShard, shard,
			logger.KeyError, err.Error(),
		)
		return nil, err
	}
	logger.DebugCtx(ctx, "meta put",
		logger.KeyKey, key,
		logger.KeyShard, shard,
		logger.KeyEtag, e.Etag,
		logger.KeyDurationMs, logger.Duration(start),
	)
	return e, nil
}

// Delete removes key subject to cond, forwarding opts to the shard.
func (c *Client) Delete(ctx context.Context, key string, cond Condition, opts DeleteOptions) error {
	shard, s := c.store(key)
	err := s.Delete(ctx, key, cond, opts)
	logger.DebugCtx(ctx, "meta delete",
		logger.KeyKey, key,
		logger.KeyShard, shard,
	)
	return err
}

// Batch applies ops atomically on a single shard. Every key must route to
// the same shard; a batch that does not is a programming error and fails
// with ErrCrossShard before touching any store.
func (c *Client) Batch(ctx context.Context, ops []Op) ([]*Entry, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	shard := c.ring.Shard(ops[0].Key)
	for _, op := range ops[1:] {
		if c.ring.Shard(op.Key) != shard {
			return nil, &Error{
				Code:    ErrCrossShard,
				Message: "batch keys route to different shards",
				Key:     op.Key,
			}
		}
	}
	start := time.Now()
	entries, err := c.shards[shard].Batch(ctx, ops)
	logger.DebugCtx(ctx, "meta batch",
		logger.KeyShard, shard,
		"ops", len(ops),
		logger.KeyDurationMs, logger.Duration(start),
	)
	return entries, err
}

// CountChildren returns the number of direct children of dirKey.
func (c *Client) CountChildren(ctx context.Context, dirKey string) (int64, error) {
	_, s := c.store(dirKey)
	return s.CountChildren(ctx, dirKey)
}

// Close closes every shard, returning the first error observed.
func (c *Client) Close() error {
	var first error
	for _, s := range c.shards {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ============================================================================
// Typed record helpers
// ============================================================================

// GetRecord loads and decodes the object or directory record at key.
func (c *Client) GetRecord(ctx context.Context, key string) (*Record, error) {
	e, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(e)
}

// PutRecord encodes and writes r under its key subject to cond. The stored
// etag and mtime are stamped back onto r.
func (c *Client) PutRecord(ctx context.Context, r *Record, cond Condition) error {
	value, err := EncodeRecord(r)
	if err != nil {
		return err
	}
	e, err := c.Put(ctx, r.Key, value, cond)
	if err != nil {
		return err
	}
	r.Etag = e.Etag
	r.ModifiedMs = e.ModifiedMs
	return nil
}

// GetUpload loads and decodes the upload record at key.
func (c *Client) GetUpload(ctx context.Context, key string) (*UploadRecord, error) {
	e, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeUpload(e)
}

// PutUpload encodes and writes u under key subject to cond, stamping the new
// etag back onto u.
func (c *Client) PutUpload(ctx context.Context, key string, u *UploadRecord, cond Condition) error {
	value, err := EncodeUpload(u)
	if err != nil {
		return err
	}
	e, err := c.Put(ctx, key, value, cond)
	if err != nil {
		return err
	}
	u.Etag = e.Etag
	return nil
}

// GetFinalizing loads the finalizing record for an upload and target key, if
// any.
func (c *Client) GetFinalizing(ctx context.Context, uploadID, targetKey string) (*FinalizingRecord, error) {
	e, err := c.Get(ctx, FinalizingKey(uploadID, targetKey))
	if err != nil {
		return nil, err
	}
	return DecodeFinalizing(e)
}
