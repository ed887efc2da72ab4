// Package badger implements a metadata shard on embedded BadgerDB. It serves
// single-node deployments where the metadata tier runs inside the gateway
// process; each shard owns one Badger directory.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/pkg/meta"
)

// entryPrefix namespaces record keys inside the Badger keyspace.
const entryPrefix = "e:"

// Store is a Badger-backed metadata shard.
type Store struct {
	db *badgerdb.DB
}

// envelope is the persisted form of a meta.Entry.
type envelope struct {
	Value      json.RawMessage `json:"value"`
	Etag       string          `json:"etag"`
	ModifiedMs int64           `json:"mtime"`
}

// New opens (or creates) a Badger shard at dir.
func New(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil // Badger's own logger is too chatty for a shard

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger shard at %q: %w", dir, err)
	}

	logger.Debug("badger shard opened", "dir", dir)
	return &Store{db: db}, nil
}

func storageKey(key string) []byte {
	return []byte(entryPrefix + key)
}

// readEntry loads and decodes the entry for key inside txn. Returns nil when
// the key does not exist.
func readEntry(txn *badgerdb.Txn, key string) (*meta.Entry, error) {
	item, err := txn.Get(storageKey(key))
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e *meta.Entry
	err = item.Value(func(val []byte) error {
		var env envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return fmt.Errorf("decode envelope for %q: %w", key, err)
		}
		e = &meta.Entry{
			Key:        key,
			Value:      append([]byte(nil), env.Value...),
			Etag:       env.Etag,
			ModifiedMs: env.ModifiedMs,
		}
		return nil
	})
	return e, err
}

// writeEntry stores value under key with a fresh etag inside txn.
func writeEntry(txn *badgerdb.Txn, key string, value []byte) (*meta.Entry, error) {
	e := &meta.Entry{
		Key:        key,
		Value:      append([]byte(nil), value...),
		Etag:       uuid.NewString(),
		ModifiedMs: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(envelope{
		Value:      e.Value,
		Etag:       e.Etag,
		ModifiedMs: e.ModifiedMs,
	})
	if err != nil {
		return nil, err
	}
	if err := txn.Set(storageKey(key), raw); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var e *meta.Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		e, err = readEntry(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, meta.NewNotFoundError(key)
	}
	return e, nil
}

// Put writes value under key subject to cond.
func (s *Store) Put(ctx context.Context, key string, value []byte, cond meta.Condition) (*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var e *meta.Entry
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		current, err := readEntry(txn, key)
		if err != nil {
			return err
		}
		if err := cond.Check(key, current); err != nil {
			return err
		}
		e, err = writeEntry(txn, key, value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes key subject to cond.
func (s *Store) Delete(ctx context.Context, key string, cond meta.Condition, _ meta.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		current, err := readEntry(txn, key)
		if err != nil {
			return err
		}
		if current == nil {
			return meta.NewNotFoundError(key)
		}
		if err := cond.Check(key, current); err != nil {
			return err
		}
		return txn.Delete(storageKey(key))
	})
}

// Batch applies ops in one Badger transaction: all conditions are checked
// before any write, so either every op takes effect or none does.
func (s *Store) Batch(ctx context.Context, ops []meta.Op) ([]*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []*meta.Entry
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		results = results[:0]
		for _, op := range ops {
			current, err := readEntry(txn, op.Key)
			if err != nil {
				return err
			}
			if op.Kind == meta.OpDelete && current == nil {
				return meta.NewNotFoundError(op.Key)
			}
			if err := op.Cond.Check(op.Key, current); err != nil {
				return err
			}
		}
		for _, op := range ops {
			switch op.Kind {
			case meta.OpPut:
				e, err := writeEntry(txn, op.Key, op.Value)
				if err != nil {
					return err
				}
				results = append(results, e)
			case meta.OpDelete:
				if err := txn.Delete(storageKey(op.Key)); err != nil {
					return err
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

	prefix := []byte(entryPrefix + dirKey + "/")

	var n int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			if strings.IndexByte(string(rest), '/') >= 0 {
				continue
			}
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}
