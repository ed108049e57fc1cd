package sampler

import (
	"github.com/srodi/pmemtop/pkg/types"
)

// group is one report row's worth of processes, keyed by the grouping mode.
// rollup is rebuilt every tick (tier 1); detail is the last accepted smaps
// summary (tier 2) and survives ticks where the delta test does not fire.
// baseRollup is the rollup snapshot taken when detail was last accepted and
// is the baseline for the delta test.
type group struct {
	key   string
	info  string
	alive bool
	isNew bool

	isChanged bool
	deltaPSS  int64

	members    map[int]struct{}
	oldMembers map[int]struct{}

	rollup     *types.Summary
	baseRollup *types.Summary
	detail     *types.Summary
}

func newGroup(key string) *group {
	return &group{
		key:        key,
		isNew:      true,
		members:    make(map[int]struct{}),
		oldMembers: make(map[int]struct{}),
	}
}

// revive readies the group for a tick in which it has members again.
func (g *group) revive(info string) {
	g.info = info
	s := types.NewSummary(0, info)
	g.rollup = &s
	g.alive = true
}

// sweep rotates per-tick state. Reports whether the group should be kept;
// groups that stayed dead through a full tick have had their final "gone"
// emission and are dropped.
func (g *group) sweep() bool {
	if !g.alive {
		return false
	}
	g.isNew = false
	g.alive = false
	g.isChanged = false
	g.deltaPSS = 0
	if len(g.members) > 0 {
		g.oldMembers = g.members
		g.members = make(map[int]struct{})
	}
	g.rollup = nil
	return true
}

func (g *group) membersChanged() bool {
	if len(g.members) != len(g.oldMembers) {
		return true
	}
	for pid := range g.members {
		if _, ok := g.oldMembers[pid]; !ok {
			return true
		}
	}
	return false
}

// deltaTest implements the tier-2 trigger. A non-positive threshold fires
// on change of at least its magnitude in either direction; a positive
// threshold fires on growth only.
func deltaTest(cur, prev *types.Summary, threshold int64) (bool, int64) {
	d := (cur.PSS - prev.PSS) + (cur.PSwap - prev.PSwap)
	if threshold <= 0 {
		abs := d
		if abs < 0 {
			abs = -abs
		}
		return abs >= -threshold, d
	}
	return d >= threshold, d
}
