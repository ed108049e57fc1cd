// Package sampler drives one tick of /proc sampling: PID discovery,
// per-process rollups, the two-tier detail decision, group aggregation,
// and report assembly.
package sampler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/srodi/pmemtop/pkg/collector/process"
	"github.com/srodi/pmemtop/pkg/collector/smaps"
	"github.com/srodi/pmemtop/pkg/collector/sysfacts"
	"github.com/srodi/pmemtop/pkg/procfs"
	"github.com/srodi/pmemtop/pkg/types"
)

// Options is the sampling configuration consumed from the caller.
type Options struct {
	GroupBy    types.GroupMode
	SortBy     types.SortMode
	MinDeltaKB int64
	CmdLen     int
	TopPct     int
	PIDFilter  []string
	ShowCPU    bool
	Search     string
}

// Sampler owns the PID and group tables across ticks. It is not safe for
// concurrent use; the loop calls Tick from a single goroutine.
type Sampler struct {
	fs     procfs.FS
	opts   Options
	parser smaps.Parser

	prcs    map[int]*process.Record
	groups  map[string]*group
	prevCPU sysfacts.CPUTotals
	haveCPU bool
	loopNum int
}

// New builds a sampler over the given /proc seam.
func New(fs procfs.FS, opts Options) *Sampler {
	if opts.GroupBy == "" {
		opts.GroupBy = types.GroupByExe
	}
	if opts.SortBy == "" {
		opts.SortBy = types.SortByMem
	}
	if opts.TopPct <= 0 || opts.TopPct > 100 {
		opts.TopPct = 100
	}
	return &Sampler{
		fs:     fs,
		opts:   opts,
		prcs:   make(map[int]*process.Record),
		groups: make(map[string]*group),
	}
}

// sortBy falls back to mem ordering when the CPU column is off.
func (s *Sampler) sortBy() types.SortMode {
	if s.opts.SortBy == types.SortByCPU && !s.opts.ShowCPU {
		return types.SortByMem
	}
	return s.opts.SortBy
}

// Tick runs one sampling pass. Per-PID failures never abort the tick; only
// missing vitals or a failed /proc enumeration do.
func (s *Sampler) Tick(now time.Time) (*types.Report, error) {
	s.loopNum++
	isFirst := s.loopNum == 1
	s.sweep()

	vitals, err := sysfacts.Vitals(s.fs)
	if err != nil {
		return nil, fmt.Errorf("tick vitals: %w", err)
	}
	var wallDelta float64
	if s.opts.ShowCPU {
		cpu, err := sysfacts.CPU(s.fs)
		if err != nil {
			return nil, fmt.Errorf("tick cpu totals: %w", err)
		}
		if s.haveCPU {
			wallDelta = cpu.WallTicksPerCPU() - s.prevCPU.WallTicksPerCPU()
		}
		s.prevCPU = cpu
		s.haveCPU = true
	}
	zram := sysfacts.Zram(s.fs)

	pids, err := s.listPIDs()
	if err != nil {
		return nil, fmt.Errorf("tick enumeration: %w", err)
	}

	totalPIDs, qualified := 0, 0
	for _, pid := range pids {
		rec := s.prcs[pid]
		if rec == nil {
			rec = process.New(pid)
			s.prcs[pid] = rec
		} else {
			rec.IsNew = false
		}
		s.prcPID(rec, wallDelta)
		if rec.Reason != types.ReasonKernelProcess {
			totalPIDs++
		}
		if rec.Reason == types.ReasonNone {
			qualified++
		}
	}

	for _, g := range s.groups {
		if g.alive {
			s.prcGroup(g)
		}
	}

	report := &types.Report{
		Time:      now,
		Vitals:    vitals,
		Zram:      zram,
		Qualified: qualified,
		TotalPIDs: totalPIDs,
		Grand:     types.NewSummary(0, "--TOTALS--"),
	}
	for _, g := range s.groups {
		if g.alive {
			report.Grand.Add(*g.detail)
		}
	}
	s.appendRows(report, isFirst)
	return report, nil
}

func (s *Sampler) listPIDs() ([]int, error) {
	names, err := s.fs.ReadDir("proc")
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(names))
	for _, name := range names {
		pid := 0
		numeric := name != ""
		for _, r := range name {
			if r < '0' || r > '9' {
				numeric = false
				break
			}
			pid = pid*10 + int(r-'0')
		}
		if numeric {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// sweep drops records and groups not observed last tick and rotates the
// survivors' per-tick state.
func (s *Sampler) sweep() {
	for key, g := range s.groups {
		if !g.sweep() {
			delete(s.groups, key)
		}
	}
	for pid, rec := range s.prcs {
		if !rec.Alive {
			delete(s.prcs, pid)
			continue
		}
		rec.Alive = false
		switch rec.Reason {
		case types.ReasonKernelProcess, types.ReasonFilteredByArgs:
			// permanent attributes of the process
		default:
			rec.Reason = types.ReasonNone
		}
	}
}

// prcPID runs tier 1 for one candidate PID: identity, filter, rollup, CPU,
// and group membership.
func (s *Sampler) prcPID(rec *process.Record, wallDelta float64) {
	rec.Alive = true
	if rec.Reason == types.ReasonNone && rec.Cmdline == "" {
		rec.Resolve(s.fs, s.opts.CmdLen)
		if rec.Reason == types.ReasonNone {
			rec.Filter(s.opts.PIDFilter)
			rec.SetKey(s.opts.GroupBy)
		}
	}
	if rec.Reason != types.ReasonNone {
		return
	}

	data, err := s.fs.ReadFile(fmt.Sprintf("proc/%d/smaps_rollup", rec.PID))
	if err != nil {
		rec.Reason = types.ReasonForReadError(err)
		log.Debug().Int("pid", rec.PID).Str("reason", string(rec.Reason)).
			Msg("skipping pid: no rollup")
		return
	}
	rollup := s.parser.ParseRollup(fmt.Sprintf("proc/%d/smaps_rollup", rec.PID), data)
	summary := rollup.Summarize()
	summary.Number = int64(-rec.PID)

	if s.opts.ShowCPU {
		if err := rec.RefreshCPU(s.fs, wallDelta); err != nil {
			rec.Reason = types.ReasonForReadError(err)
			return
		}
		summary.CPUPct = rec.CPUPct
	}

	g := s.groups[rec.Key]
	if g == nil {
		g = newGroup(rec.Key)
		s.groups[rec.Key] = g
	}
	if !g.alive {
		info := rec.Key
		if s.opts.GroupBy == types.GroupByPID {
			info += " " + rec.CmdlineTrunc
		}
		g.revive(info)
	}
	g.rollup.Add(summary)
	g.members[rec.PID] = struct{}{}
}

// prcGroup runs the two-tier decision for one live group and settles its
// displayed summary.
func (s *Sampler) prcGroup(g *group) {
	doSmaps := true
	var delta int64
	if g.baseRollup != nil {
		doSmaps, delta = deltaTest(g.rollup, g.baseRollup, s.opts.MinDeltaKB)
	}

	var fresh *types.Summary
	if doSmaps {
		sum := types.NewSummary(0, g.info)
		fresh = &sum
		for _, pid := range sortedMembers(g.members) {
			file := fmt.Sprintf("proc/%d/smaps", pid)
			data, err := s.fs.ReadFile(file)
			if err != nil {
				// The PID raced away between tiers; drop it from the
				// group without failing the tick.
				delete(g.members, pid)
				if rec := s.prcs[pid]; rec != nil {
					rec.Reason = types.ReasonForReadError(err)
				}
				continue
			}
			chunks := s.parser.ParseMaps(file, data)
			smaps.Classify(chunks)
			fresh.Add(smaps.Summarize(pid, chunks))
		}
	}

	if len(g.members) == 0 {
		g.alive = false
		return
	}

	if doSmaps {
		g.isChanged = true
		g.deltaPSS = delta
		g.detail = fresh
		base := *g.rollup
		g.baseRollup = &base
	} else if g.membersChanged() && !g.isNew {
		g.isChanged = true
		g.deltaPSS = delta
	}

	// The displayed pss, pswap and cpu always track the current rollup,
	// even when the detail categories are retained from an earlier tick.
	g.detail.PSS = g.rollup.PTotal
	g.detail.PSwap = g.rollup.PSwap
	g.detail.CPUPct = g.rollup.CPUPct
}

func sortedMembers(members map[int]struct{}) []int {
	pids := make([]int, 0, len(members))
	for pid := range members {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// appendRows orders the live groups, applies the search filter and the
// first-tick OTHERS cutoff, and emits the gone-group rows.
func (s *Sampler) appendRows(report *types.Report, isFirst bool) {
	var live []*group
	for _, g := range s.groups {
		if g.alive {
			live = append(live, g)
		}
	}
	switch s.sortBy() {
	case types.SortByCPU:
		sort.Slice(live, func(i, j int) bool {
			a, b := live[i], live[j]
			if a.detail.CPUPct != b.detail.CPUPct {
				return a.detail.CPUPct > b.detail.CPUPct
			}
			return strings.ToLower(a.key) < strings.ToLower(b.key)
		})
	case types.SortByName:
		sort.Slice(live, func(i, j int) bool {
			return strings.ToLower(live[i].key) < strings.ToLower(live[j].key)
		})
	default:
		sort.Slice(live, func(i, j int) bool {
			a, b := live[i], live[j]
			if a.detail.PTotal != b.detail.PTotal {
				return a.detail.PTotal > b.detail.PTotal
			}
			return strings.ToLower(a.key) < strings.ToLower(b.key)
		})
	}

	ptotalLimit := int64(float64(report.Grand.PTotal) * float64(s.opts.TopPct) / 100 * 1.001)
	running := types.NewSummary(0, "")
	var others *types.Summary
	for _, g := range live {
		running.Add(*g.detail)
		matches := s.opts.Search == "" || strings.Contains(g.detail.Info, s.opts.Search)
		if matches && running.PTotal <= ptotalLimit {
			annotation := ""
			switch {
			case g.isNew:
				annotation = "A"
			case g.isChanged:
				annotation = fmt.Sprintf("%+dK", g.deltaPSS)
			}
			report.Rows = append(report.Rows, types.Row{
				Annotation: annotation,
				Summary:    *g.detail,
				IsNew:      g.isNew,
				IsChanged:  g.isChanged,
			})
			continue
		}
		if isFirst {
			if others == nil {
				sum := types.NewSummary(0, "---- OTHERS ----")
				others = &sum
			}
			others.Add(*g.detail)
		}
	}
	if others != nil {
		report.Rows = append(report.Rows, types.Row{Annotation: "O", Summary: *others})
	}

	var gone []*group
	for _, g := range s.groups {
		if !g.alive && g.detail != nil {
			gone = append(gone, g)
		}
	}
	sort.Slice(gone, func(i, j int) bool {
		return strings.ToLower(gone[i].key) < strings.ToLower(gone[j].key)
	})
	for _, g := range gone {
		report.Rows = append(report.Rows, types.Row{
			Annotation: "x",
			Summary:    *g.detail,
			Gone:       true,
		})
	}
}
