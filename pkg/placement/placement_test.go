package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFleet() StaticSource {
	return StaticSource{
		{ID: "1.shark", Datacenter: "dc-a", AvailableBytes: 1 << 40, UtilizationPct: 40},
		{ID: "2.shark", Datacenter: "dc-a", AvailableBytes: 1 << 40, UtilizationPct: 55},
		{ID: "3.shark", Datacenter: "dc-b", AvailableBytes: 1 << 40, UtilizationPct: 60},
		{ID: "4.shark", Datacenter: "dc-b", AvailableBytes: 1 << 40, UtilizationPct: 30},
		{ID: "5.shark", Datacenter: "dc-c", AvailableBytes: 1 << 40, UtilizationPct: 70},
	}
}

func newTestPlanner(t *testing.T, src Source, cfg Config) *Planner {
	t.Helper()
	v := NewView(src)
	require.NoError(t, v.Refresh(context.Background()))
	return NewPlanner(v, cfg)
}

func TestView_Refresh(t *testing.T) {
	t.Parallel()

	v := NewView(testFleet())
	require.NoError(t, v.Refresh(context.Background()))

	snap := v.Snapshot()
	assert.Len(t, snap, 3)
	assert.Len(t, snap["dc-a"], 2)
	assert.Len(t, snap["dc-b"], 2)
	assert.Len(t, snap["dc-c"], 1)
	assert.WithinDuration(t, time.Now(), v.LastRefreshed(), time.Minute)
}

type failingSource struct{}

func (failingSource) Poll(context.Context) ([]Node, error) {
	return nil, errors.New("discovery unavailable")
}

func TestView_RefreshFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	v := NewView(testFleet())
	require.NoError(t, v.Refresh(context.Background()))

	v.source = failingSource{}
	require.Error(t, v.Refresh(context.Background()))
	assert.Len(t, v.Snapshot(), 3)
}

func TestPlanner_SpreadsAcrossDatacenters(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testFleet(), Config{})
	sets, err := p.Plan(1024, 2, false)
	require.NoError(t, err)
	require.Len(t, sets, NumCandidateSets)

	for _, set := range sets {
		require.Len(t, set, 2)
		assert.NotEqual(t, set[0].ID, set[1].ID)
		assert.NotEqual(t, set[0].Datacenter, set[1].Datacenter,
			"copies within a set must land in distinct datacenters when possible")
	}
}

func TestPlanner_MoreCopiesThanDatacenters(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testFleet(), Config{})
	sets, err := p.Plan(1024, 5, false)
	require.NoError(t, err)
	require.NotEmpty(t, sets)

	for _, set := range sets {
		require.Len(t, set, 5)
		seen := make(map[string]bool)
		for _, n := range set {
			assert.False(t, seen[n.ID], "node %s picked twice in one set", n.ID)
			seen[n.ID] = true
		}
	}
}

func TestPlanner_ZeroByteObjectHasEmptyPlan(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testFleet(), Config{})
	sets, err := p.Plan(0, 2, false)
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestPlanner_UtilizationFilter(t *testing.T) {
	t.Parallel()

	src := StaticSource{
		{ID: "1.shark", Datacenter: "dc-a", AvailableBytes: 1 << 40, UtilizationPct: 91},
		{ID: "2.shark", Datacenter: "dc-b", AvailableBytes: 1 << 40, UtilizationPct: 91},
	}
	p := newTestPlanner(t, src, Config{})

	_, err := p.Plan(1024, 2, false)
	require.Error(t, err)

	// Operator requests use the looser threshold and still fit.
	sets, err := p.Plan(1024, 2, true)
	require.NoError(t, err)
	require.NotEmpty(t, sets)
}

func TestPlanner_NotEnoughSpace(t *testing.T) {
	t.Parallel()

	src := StaticSource{
		{ID: "1.shark", Datacenter: "dc-a", AvailableBytes: 100, UtilizationPct: 10},
	}
	p := newTestPlanner(t, src, Config{})

	_, err := p.Plan(1024, 1, false)
	require.Error(t, err)

	_, err = p.Plan(1024, 2, false)
	require.Error(t, err)
}

func TestPlanner_TooFewDistinctNodes(t *testing.T) {
	t.Parallel()

	src := StaticSource{
		{ID: "1.shark", Datacenter: "dc-a", AvailableBytes: 1 << 40, UtilizationPct: 10},
		{ID: "2.shark", Datacenter: "dc-a", AvailableBytes: 1 << 40, UtilizationPct: 10},
	}
	p := newTestPlanner(t, src, Config{})

	_, err := p.Plan(1024, 3, false)
	require.Error(t, err)
}

func TestConfig_Reconcile(t *testing.T) {
	t.Parallel()

	t.Run("Defaults", func(t *testing.T) {
		var cfg Config
		cfg.Reconcile()
		assert.Equal(t, float64(DefaultMaxUtilizationPct), cfg.MaxUtilizationPct)
		assert.Equal(t, float64(DefaultMaxOperatorUtilizationPct), cfg.MaxOperatorUtilizationPct)
	})

	t.Run("InvertedThresholdsRaised", func(t *testing.T) {
		cfg := Config{MaxUtilizationPct: 95, MaxOperatorUtilizationPct: 80}
		cfg.Reconcile()
		assert.Equal(t, float64(95), cfg.MaxOperatorUtilizationPct)
	})

	t.Run("InvertedBelowDefaultUsesDefault", func(t *testing.T) {
		cfg := Config{MaxUtilizationPct: 85, MaxOperatorUtilizationPct: 80}
		cfg.Reconcile()
		assert.Equal(t, float64(DefaultMaxOperatorUtilizationPct), cfg.MaxOperatorUtilizationPct)
	})
}
