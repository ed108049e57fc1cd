// Package sysfacts reads the system-wide vitals a tick needs: meminfo
// fields, aggregate CPU ticks, and compressed-swap (zram) statistics.
package sysfacts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/phuslu/log"

	"github.com/srodi/pmemtop/pkg/procfs"
	"github.com/srodi/pmemtop/pkg/types"
)

// CPUTotals is one reading of the aggregate cpu line of proc/stat.
type CPUTotals struct {
	// Ticks sums every jiffy column of the aggregate "cpu" line.
	Ticks uint64
	// CPUs is the number of per-CPU lines, at least 1.
	CPUs int
}

// WallTicksPerCPU normalizes the aggregate counter so that a delta of one
// full interval on one core equals the interval's jiffies.
func (t CPUTotals) WallTicksPerCPU() float64 {
	cpus := t.CPUs
	if cpus < 1 {
		cpus = 1
	}
	return float64(t.Ticks) / float64(cpus)
}

// Vitals reads the required meminfo fields. A missing field is an error:
// the caller treats it as fatal for the tick.
func Vitals(fs procfs.FS) (types.Vitals, error) {
	data, err := fs.ReadFile("proc/meminfo")
	if err != nil {
		return types.Vitals{}, fmt.Errorf("reading meminfo: %w", err)
	}
	wanted := map[string]*int64{}
	var v types.Vitals
	wanted["MemTotal"] = &v.MemTotalKB
	wanted["MemAvailable"] = &v.MemAvailKB
	wanted["Shmem"] = &v.ShmemKB
	wanted["Dirty"] = &v.DirtyKB
	for _, line := range strings.Split(string(data), "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		dst, want := wanted[name]
		if !want {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		*dst = kb
		delete(wanted, name)
		if len(wanted) == 0 {
			break
		}
	}
	if len(wanted) != 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		return types.Vitals{}, fmt.Errorf("meminfo vitals unavailable: %s", strings.Join(missing, ","))
	}
	return v, nil
}

// CPU reads the cumulative tick totals from proc/stat.
func CPU(fs procfs.FS) (CPUTotals, error) {
	data, err := fs.ReadFile("proc/stat")
	if err != nil {
		return CPUTotals{}, fmt.Errorf("reading stat: %w", err)
	}
	var totals CPUTotals
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || !strings.HasPrefix(line, "cpu") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "cpu" {
			for _, field := range fields[1:] {
				ticks, err := strconv.ParseUint(field, 10, 64)
				if err != nil {
					continue
				}
				totals.Ticks += ticks
			}
			continue
		}
		totals.CPUs++
	}
	if totals.Ticks == 0 {
		return CPUTotals{}, fmt.Errorf("no aggregate cpu line in proc/stat")
	}
	if totals.CPUs == 0 {
		totals.CPUs = 1
	}
	return totals, nil
}

// zram mm_stat columns, in file order.
var zramFields = []string{
	"orig_data_size", "compr_data_size", "mem_used_total",
	"mem_limit", "mem_used_max",
}

// Zram sums the stats of every active zram device, or returns nil when no
// compressed swap device exists. A device whose mm_stat cannot be read is
// skipped as inactive; a malformed mm_stat line is logged and the device
// skipped. Zram reporting is best-effort.
func Zram(fs procfs.FS) *types.ZramStats {
	devices, err := fs.ReadDir("sys/block")
	if err != nil {
		return nil
	}
	var stats *types.ZramStats
	for _, device := range devices {
		if !strings.HasPrefix(device, "zram") {
			continue
		}
		data, err := fs.ReadFile("sys/block/" + device + "/mm_stat")
		if err != nil {
			continue // not active
		}
		fields := strings.Fields(strings.Split(string(data), "\n")[0])
		if len(fields) < len(zramFields) {
			log.Warn().Str("device", device).Msg("short zram mm_stat line")
			continue
		}
		var vals [5]int64
		bad := false
		for i := range zramFields {
			v, err := strconv.ParseInt(fields[i], 10, 64)
			if err != nil {
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			log.Warn().Str("device", device).Msg("unparsable zram mm_stat line")
			continue
		}
		if stats == nil {
			stats = &types.ZramStats{}
		}
		stats.OrigDataSize += vals[0]
		stats.ComprDataSize += vals[1]
		stats.MemUsedTotal += vals[2]
		stats.MemLimit += vals[3]
		stats.MemUsedMax += vals[4]
		if data, err := fs.ReadFile("sys/block/" + device + "/disksize"); err == nil {
			if size, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
				stats.DiskSize += size
			}
		}
	}
	return stats
}
