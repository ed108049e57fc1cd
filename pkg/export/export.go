// Package export exposes the latest report as Prometheus metrics. The
// CLI tick loop publishes an immutable snapshot after every tick; the collector
// reads whatever snapshot is current when scraped, so the HTTP side never
// touches sampler state.
package export

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srodi/pmemtop/pkg/types"
)

// Collector implements prometheus.Collector over the latest report.
type Collector struct {
	latest atomic.Pointer[types.Report]

	groupKB    *prometheus.Desc
	groupProcs *prometheus.Desc
	groupCPU   *prometheus.Desc
	memTotal   *prometheus.Desc
	memAvail   *prometheus.Desc
	pids       *prometheus.Desc
}

// NewCollector builds an empty collector; it reports nothing until the
// first Publish.
func NewCollector() *Collector {
	return &Collector{
		groupKB: prometheus.NewDesc(
			"pmemtop_group_memory_kilobytes",
			"Proportional memory of one process group, split by category.",
			[]string{"group", "category"}, nil),
		groupProcs: prometheus.NewDesc(
			"pmemtop_group_processes",
			"Number of processes contributing to one group.",
			[]string{"group"}, nil),
		groupCPU: prometheus.NewDesc(
			"pmemtop_group_cpu_percent",
			"CPU percentage of one process group over the last tick.",
			[]string{"group"}, nil),
		memTotal: prometheus.NewDesc(
			"pmemtop_mem_total_kilobytes",
			"MemTotal from the last tick.", nil, nil),
		memAvail: prometheus.NewDesc(
			"pmemtop_mem_available_kilobytes",
			"MemAvailable from the last tick.", nil, nil),
		pids: prometheus.NewDesc(
			"pmemtop_qualified_pids",
			"PIDs that contributed to the last tick.", nil, nil),
	}
}

// Publish swaps in the report scrapes will serve from now on.
func (c *Collector) Publish(rep *types.Report) {
	c.latest.Store(rep)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.groupKB
	ch <- c.groupProcs
	ch <- c.groupCPU
	ch <- c.memTotal
	ch <- c.memAvail
	ch <- c.pids
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	rep := c.latest.Load()
	if rep == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.GaugeValue,
		float64(rep.Vitals.MemTotalKB))
	ch <- prometheus.MustNewConstMetric(c.memAvail, prometheus.GaugeValue,
		float64(rep.Vitals.MemAvailKB))
	ch <- prometheus.MustNewConstMetric(c.pids, prometheus.GaugeValue,
		float64(rep.Qualified))

	for _, row := range rep.Rows {
		if row.Gone {
			continue
		}
		s := row.Summary
		for category, kb := range map[string]int64{
			"pswap":  s.PSwap,
			"shSYSV": s.ShSYSV,
			"shOth":  s.ShOth,
			"stack":  s.Stack,
			"text":   s.Text,
			"data":   s.Data,
			"ptotal": s.PTotal,
		} {
			ch <- prometheus.MustNewConstMetric(c.groupKB, prometheus.GaugeValue,
				float64(kb), s.Info, category)
		}
		procs := s.Number
		if procs < 0 {
			procs = 1
		}
		ch <- prometheus.MustNewConstMetric(c.groupProcs, prometheus.GaugeValue,
			float64(procs), s.Info)
		ch <- prometheus.MustNewConstMetric(c.groupCPU, prometheus.GaugeValue,
			s.CPUPct, s.Info)
	}
}
