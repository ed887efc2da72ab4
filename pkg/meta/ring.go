package meta

import (
	"hash/fnv"
)

// Ring maps record keys onto a fixed set of shards. Keys are hashed with
// FNV-1a over their routing portion; the shard count is fixed at startup, so
// the mapping is deterministic for the life of the deployment.
type Ring struct {
	shards int
}

// NewRing creates a ring over n shards. n must be at least 1.
func NewRing(n int) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{shards: n}
}

// Shards returns the number of shards in the ring.
func (r *Ring) Shards() int {
	return r.shards
}

// Shard returns the shard index for key.
func (r *Ring) Shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(RoutingKey(key)))
	return int(h.Sum32() % uint32(r.shards))
}
