// Package memory implements an in-memory metadata shard. It backs unit tests
// and single-process development deployments; conditions and batches are
// applied under one mutex, which gives the same atomicity the production
// backends provide.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shoal/pkg/meta"
)

// Store is an in-memory metadata shard.
type Store struct {
	mu      sync.Mutex
	entries map[string]*meta.Entry
}

// New creates an empty in-memory shard.
func New() *Store {
	return &Store{
		entries: make(map[string]*meta.Entry),
	}
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, meta.NewNotFoundError(key)
	}
	cp := *e
	return &cp, nil
}

// Put writes value under key subject to cond.
func (s *Store) Put(ctx context.Context, key string, value []byte, cond meta.Condition) (*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cond.Check(key, s.entries[key]); err != nil {
		return nil, err
	}
	e := s.write(key, value)
	cp := *e
	return &cp, nil
}

// write stores value under key with a fresh etag. Caller holds s.mu.
func (s *Store) write(key string, value []byte) *meta.Entry {
	e := &meta.Entry{
		Key:        key,
		Value:      append([]byte(nil), value...),
		Etag:       uuid.NewString(),
		ModifiedMs: time.Now().UnixMilli(),
	}
	s.entries[key] = e
	return e
}

// Delete removes key subject to cond.
func (s *Store) Delete(ctx context.Context, key string, cond meta.Condition, _ meta.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok {
		return meta.NewNotFoundError(key)
	}
	if err := cond.Check(key, current); err != nil {
		return err
	}
	delete(s.entries, key)
	return nil
}

// Batch applies ops atomically: all conditions are checked before any write.
func (s *Store) Batch(ctx context.Context, ops []meta.Op) ([]*meta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		current := s.entries[op.Key]
		if op.Kind == meta.OpDelete && current == nil {
			return nil, meta.NewNotFoundError(op.Key)
		}
		if err := op.Cond.Check(op.Key, current); err != nil {
			return nil, err
		}
	}

	var results []*meta.Entry
	for _, op := range ops {
		switch op.Kind {
		case meta.OpPut:
			e := s.write(op.Key, op.Value)
			cp := *e
			results = append(results, &cp)
		case meta.OpDelete:
			delete(s.entries, op.Key)
		}
	}
	return results, nil
}

// CountChildren returns the number of direct children of dirKey.
func (s *Store) CountChildren(ctx context.Context, dirKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := dirKey + "/"

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if strings.IndexByte(key[len(prefix):], '/') >= 0 {
			continue
		}
		n++
	}
	return n, nil
}

// Close releases nothing; it exists to satisfy meta.Store.
func (s *Store) Close() error {
	return nil
}
