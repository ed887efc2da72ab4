// Package placement maintains the view of available storage nodes and plans
// replica sets for new objects. The view is refreshed by a background task;
// planning is a pure function over the current snapshot.
package placement

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/shoal/internal/logger"
)

// Node describes one storage node as seen by the placement view.
type Node struct {
	ID             string  // storage node identifier
	Datacenter     string  // datacenter the node lives in
	Address        string  // host:port of the node's HTTP listener
	AvailableBytes int64   // bytes free for new objects
	UtilizationPct float64 // percent of capacity in use
}

// Source supplies the current set of storage nodes. Production deployments
// back this with the discovery service; tests use a static source.
type Source interface {
	Poll(ctx context.Context) ([]Node, error)
}

// StaticSource is a Source returning a fixed node list.
type StaticSource []Node

// Poll returns the static node list.
func (s StaticSource) Poll(_ context.Context) ([]Node, error) {
	return s, nil
}

// View is the periodically refreshed picture of the storage fleet, keyed by
// datacenter. It is read-mostly: the refresh loop is the only writer.
type View struct {
	source Source

	mu        sync.RWMutex
	byDC      map[string][]Node
	refreshed time.Time
}

// NewView creates a view over source. Call Refresh once before serving, then
// Run for continuous refresh.
func NewView(source Source) *View {
	return &View{
		source: source,
		byDC:   make(map[string][]Node),
	}
}

// Refresh polls the source once and swaps in the new snapshot.
func (v *View) Refresh(ctx context.Context) error {
	nodes, err := v.source.Poll(ctx)
	if err != nil {
		return err
	}

	byDC := make(map[string][]Node)
	for _, n := range nodes {
		byDC[n.Datacenter] = append(byDC[n.Datacenter], n)
	}

	v.mu.Lock()
	v.byDC = byDC
	v.refreshed = time.Now()
	v.mu.Unlock()

	logger.Debug("placement view refreshed",
		"nodes", len(nodes),
		"datacenters", len(byDC),
	)
	return nil
}

// Run refreshes the view every interval until ctx is cancelled. Poll
// failures keep the previous snapshot; a stale view is better than none.
func (v *View) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("placement view refresh loop stopped")
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("placement view refresh failed", logger.KeyError, err.Error())
			}
		}
	}
}

// Snapshot returns the nodes grouped by datacenter. The returned map must
// not be mutated.
func (v *View) Snapshot() map[string][]Node {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.byDC
}

// Lookup finds a node by its storage ID.
func (v *View) Lookup(id string) (Node, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, nodes := range v.byDC {
		for _, n := range nodes {
			if n.ID == id {
				return n, true
			}
		}
	}
	return Node{}, false
}

// LastRefreshed returns the time of the last successful refresh.
func (v *View) LastRefreshed() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshed
}
