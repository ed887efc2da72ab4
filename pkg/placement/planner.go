package placement

import (
	"math/rand"

	"github.com/marmos91/shoal/internal/logger"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
)

// NumCandidateSets is how many replica-set candidates a plan produces. With
// three datacenters, three tuples cover primary/secondary/tertiary fail-over
// while keeping planning bounded.
const NumCandidateSets = 3

// Default utilization thresholds, in percent.
const (
	DefaultMaxUtilizationPct         = 90
	DefaultMaxOperatorUtilizationPct = 92
)

// Config holds the planner thresholds.
type Config struct {
	// MaxUtilizationPct excludes nodes above this utilization for normal
	// requests.
	MaxUtilizationPct float64

	// MaxOperatorUtilizationPct is the threshold for operator requests.
	// Always at least MaxUtilizationPct after Reconcile.
	MaxOperatorUtilizationPct float64
}

// Reconcile fixes inverted thresholds: when the normal threshold exceeds the
// operator one, the operator threshold is raised to the greater of its
// default and the normal threshold.
func (c *Config) Reconcile() {
	if c.MaxUtilizationPct == 0 {
		c.MaxUtilizationPct = DefaultMaxUtilizationPct
	}
	if c.MaxOperatorUtilizationPct == 0 {
		c.MaxOperatorUtilizationPct = DefaultMaxOperatorUtilizationPct
	}
	if c.MaxUtilizationPct > c.MaxOperatorUtilizationPct {
		raised := max(float64(DefaultMaxOperatorUtilizationPct), c.MaxUtilizationPct)
		logger.Warn("operator utilization threshold below normal threshold; raising",
			"max_utilization_pct", c.MaxUtilizationPct,
			"max_operator_utilization_pct", c.MaxOperatorUtilizationPct,
			"raised_to", raised,
		)
		c.MaxOperatorUtilizationPct = raised
	}
}

// Planner produces replica-set candidates from the current view snapshot.
type Planner struct {
	view *View
	cfg  Config
}

// NewPlanner creates a planner over view. cfg is reconciled in place.
func NewPlanner(view *View, cfg Config) *Planner {
	cfg.Reconcile()
	return &Planner{view: view, cfg: cfg}
}

// Plan returns an ordered list of candidate replica sets for an object of
// the given size, each of length copies. Nodes within a set are distinct and
// spread across distinct datacenters whenever copies does not exceed the
// number of datacenters with eligible nodes. Zero-byte objects carry no
// replica set and yield an empty plan.
//
// Fails with NotEnoughSpace when no candidate set can be formed.
func (p *Planner) Plan(size int64, copies int, operator bool) ([][]Node, error) {
	if size == 0 {
		return nil, nil
	}

	threshold := p.cfg.MaxUtilizationPct
	if operator {
		threshold = p.cfg.MaxOperatorUtilizationPct
	}

	eligible := p.eligibleByDC(size, threshold)
	if len(eligible) == 0 {
		return nil, gwerrors.Newf(gwerrors.CodeNotEnoughSpace,
			"no storage node can hold %d bytes below %.0f%% utilization", size, threshold)
	}

	var sets [][]Node
	for i := 0; i < NumCandidateSets; i++ {
		set := pickSet(eligible, copies)
		if set == nil {
			break
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return nil, gwerrors.Newf(gwerrors.CodeNotEnoughSpace,
			"cannot place %d copies of %d bytes", copies, size)
	}
	return sets, nil
}

// eligibleByDC filters the snapshot down to nodes that can hold the object.
func (p *Planner) eligibleByDC(size int64, threshold float64) map[string][]Node {
	eligible := make(map[string][]Node)
	for dc, nodes := range p.view.Snapshot() {
		for _, n := range nodes {
			if n.UtilizationPct > threshold {
				continue
			}
			if n.AvailableBytes < size {
				continue
			}
			eligible[dc] = append(eligible[dc], n)
		}
	}
	return eligible
}

// pickSet selects copies distinct nodes. Datacenters are visited in a
// shuffled round-robin so that sets spread across distinct datacenters when
// possible and minimize intra-datacenter collisions otherwise. Returns nil
// when copies distinct nodes cannot be found.
func pickSet(eligible map[string][]Node, copies int) []Node {
	dcs := make([]string, 0, len(eligible))
	for dc := range eligible {
		dcs = append(dcs, dc)
	}
	rand.Shuffle(len(dcs), func(i, j int) { dcs[i], dcs[j] = dcs[j], dcs[i] })

	// Shuffled copy of each datacenter's nodes; consumed front to back so a
	// node is never picked twice.
	remaining := make(map[string][]Node, len(eligible))
	for dc, nodes := range eligible {
		shuffled := append([]Node(nil), nodes...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		remaining[dc] = shuffled
	}

	set := make([]Node, 0, copies)
	for len(set) < copies {
		progressed := false
		for _, dc := range dcs {
			if len(set) == copies {
				break
			}
			nodes := remaining[dc]
			if len(nodes) == 0 {
				continue
			}
			set = append(set, nodes[0])
			remaining[dc] = nodes[1:]
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
	return set
}
