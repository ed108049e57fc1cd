package types

import (
	"errors"
	"io/fs"
	"time"
)

// Category labels one memory mapping with its accounting bucket.
type Category uint8

const (
	// CatNone marks a chunk that has not been classified yet.
	CatNone Category = iota
	// CatShSYSV is SysV shared memory (backing name contains "SYSV").
	CatShSYSV
	// CatShOth is other shared memory, e.g. a memory mapped file.
	CatShOth
	// CatStack is the main stack or a detected thread stack.
	CatStack
	// CatText is read-only file-backed memory such as program text.
	CatText
	// CatData is writable anonymous memory: heap, thread data, guards.
	CatData
)

func (c Category) String() string {
	switch c {
	case CatShSYSV:
		return "shSYSV"
	case CatShOth:
		return "shOth"
	case CatStack:
		return "stack"
	case CatText:
		return "text"
	case CatData:
		return "data"
	}
	return "none"
}

// GroupMode selects the key processes are rolled up by.
type GroupMode string

const (
	GroupByExe GroupMode = "exe"
	GroupByCmd GroupMode = "cmd"
	GroupByPID GroupMode = "pid"
)

// SortMode orders the report rows.
type SortMode string

const (
	SortByMem  SortMode = "mem"
	SortByCPU  SortMode = "cpu"
	SortByName SortMode = "name"
)

// Units selects the numeric presentation of memory columns.
type Units string

const (
	UnitsKB     Units = "KB"
	UnitsMB     Units = "MB"
	UnitsMetric Units = "mB"
	UnitsHuman  Units = "human"
)

// Reason explains why a PID was disqualified from the current tick.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonKernelProcess    Reason = "KernelProcess"
	ReasonFilteredByArgs   Reason = "FilteredByArgs"
	ReasonPermissionDenied Reason = "PermissionDenied"
	ReasonFileMissing      Reason = "FileMissing"
	ReasonReadFailed       Reason = "ReadFailed"
)

// ReasonForReadError maps a pseudo-file read failure onto the reason a PID
// is dropped for the tick. Missing files and permission errors are normal
// (/proc races, unprivileged runs); anything else is unexpected.
func ReasonForReadError(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, fs.ErrNotExist):
		return ReasonFileMissing
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	}
	return ReasonReadFailed
}

// Chunk is one mapping parsed from a smaps section plus its item lines.
// All quantities are kilobytes, as reported by the kernel.
type Chunk struct {
	Begin   uint64
	End     uint64
	Perms   string
	Offset  uint64
	Backing string

	Size    int64
	RSS     int64
	PSS     int64
	Shared  int64
	Private int64
	Swap    int64

	Category Category
	ESize    int64
}

// Rollup is one parse of a smaps_rollup file.
type Rollup struct {
	PSSAnon  int64
	PSSFile  int64
	PSSShmem int64
	SwapPSS  int64
}

// Summarize maps the rollup components onto the category summary:
// anon to data, file to text, shmem to shOth, SwapPss to pswap.
func (r Rollup) Summarize() Summary {
	var s Summary
	s.Data = r.PSSAnon
	s.Text = r.PSSFile
	s.ShOth = r.PSSShmem
	s.PSwap = r.SwapPSS
	s.PTotal = r.PSSAnon + r.PSSFile + r.PSSShmem
	s.PSS = s.PTotal
	return s
}

// Summary is an additive record of category totals for a PID or a group.
// Number counts contributing processes when positive; a singleton carries
// its negated PID so the renderer can show the PID itself.
type Summary struct {
	CPUPct float64
	PSwap  int64
	ShSYSV int64
	ShOth  int64
	Stack  int64
	Text   int64
	Data   int64
	PTotal int64
	PSS    int64
	Number int64
	Info   string
}

// NewSummary seeds a summary for one PID (negated) or a labeled group.
func NewSummary(pid int, info string) Summary {
	s := Summary{Info: info}
	if pid != 0 {
		s.Number = int64(-pid)
	}
	return s
}

// Add folds another summary into a running total. Info is left alone;
// Number counts one process per singleton operand.
func (s *Summary) Add(other Summary) {
	s.CPUPct += other.CPUPct
	s.PSwap += other.PSwap
	s.ShSYSV += other.ShSYSV
	s.ShOth += other.ShOth
	s.Stack += other.Stack
	s.Text += other.Text
	s.Data += other.Data
	s.PTotal += other.PTotal
	s.PSS += other.PSS
	if other.Number <= 0 {
		s.Number++
	} else {
		s.Number += other.Number
	}
}

// Vitals are the required system memory facts for one tick, in KB.
type Vitals struct {
	MemTotalKB int64
	MemAvailKB int64
	ShmemKB    int64
	DirtyKB    int64
}

// ZramStats sums the active compressed-swap devices, in bytes.
type ZramStats struct {
	OrigDataSize  int64
	ComprDataSize int64
	MemUsedTotal  int64
	MemLimit      int64
	MemUsedMax    int64
	DiskSize      int64
}

// Ratio returns the effective compression ratio, or 0 when unknown.
func (z ZramStats) Ratio() float64 {
	if z.MemUsedTotal <= 0 {
		return 0
	}
	return float64(z.OrigDataSize) / float64(z.MemUsedTotal)
}

// Row is one group line of a report.
type Row struct {
	// Annotation is "T", "A", "O", "x", a signed delta like "+600K",
	// or blank for an unchanged surviving group.
	Annotation string
	Summary    Summary
	IsNew      bool
	IsChanged  bool
	Gone       bool
}

// Report is the per-tick output handed to the rendering layer.
type Report struct {
	Time      time.Time
	Vitals    Vitals
	Zram      *ZramStats
	LoadAvg   float64
	HaveLoad  bool
	Qualified int
	TotalPIDs int
	Grand     Summary
	Rows      []Row
}
