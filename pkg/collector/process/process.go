// Package process owns per-PID state: identity resolution from cmdline,
// group key derivation, and stat-based CPU accounting.
package process

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/srodi/pmemtop/pkg/procfs"
	"github.com/srodi/pmemtop/pkg/types"
)

// interpreters are executables whose first script argument better
// identifies the process than the interpreter itself.
var interpreters = map[string]bool{
	"python": true, "python2": true, "python3": true,
	"perl": true, "bash": true, "sh": true, "ksh": true,
	"zsh": true, "ruby": true,
}

var (
	leadingNonWord  = regexp.MustCompile(`^\W+`)
	trailingNonWord = regexp.MustCompile(`\W+$`)
)

// Record is the retained state for one live PID.
type Record struct {
	PID          int
	ExeBasename  string
	Cmdline      string
	CmdlineTrunc string
	Key          string

	Alive  bool
	IsNew  bool
	Reason types.Reason

	CPUPct    float64
	lastTicks uint64
	hasTicks  bool
}

// New creates the record for a PID seen for the first time.
func New(pid int) *Record {
	return &Record{PID: pid, Alive: true, IsNew: true}
}

// Resolve reads the null-separated cmdline and derives the executable
// basename and truncated command string. An empty cmdline marks a kernel
// thread; read failures carry the race/permission reason for the tick.
func (r *Record) Resolve(fs procfs.FS, cmdLen int) {
	data, err := fs.ReadFile(fmt.Sprintf("proc/%d/cmdline", r.PID))
	if err != nil {
		r.Reason = types.ReasonForReadError(err)
		return
	}
	args := strings.Split(strings.TrimSuffix(string(data), "\x00"), "\x00")
	if len(args) == 0 || args[0] == "" {
		r.Reason = types.ReasonKernelProcess
		return
	}

	// argv0 occasionally packs the whole invocation into one word.
	words := append(strings.Fields(path.Base(args[0])), args[1:]...)
	basename := words[0]
	words = words[1:]
	basename = leadingNonWord.ReplaceAllString(basename, "")
	basename = trailingNonWord.ReplaceAllString(basename, "")
	if interpreters[basename] && len(words) > 0 {
		basename = basename + "->" + path.Base(words[0])
		words = words[1:]
	}
	r.ExeBasename = basename
	r.Cmdline = strings.Join(append([]string{basename}, words...), " ")
	r.CmdlineTrunc = r.Cmdline
	if cmdLen > 0 && len(r.CmdlineTrunc) > cmdLen {
		r.CmdlineTrunc = r.CmdlineTrunc[:cmdLen]
	}
}

// SetKey derives the group key for the configured grouping mode.
func (r *Record) SetKey(mode types.GroupMode) {
	switch mode {
	case types.GroupByCmd:
		r.Key = r.CmdlineTrunc
	case types.GroupByPID:
		r.Key = strconv.Itoa(r.PID)
	default:
		r.Key = r.ExeBasename
	}
}

// Filter disqualifies the record when an allow-list is set and neither the
// PID string nor the executable basename is on it.
func (r *Record) Filter(allow []string) {
	if len(allow) == 0 {
		return
	}
	pid := strconv.Itoa(r.PID)
	for _, want := range allow {
		if want == pid || want == r.ExeBasename {
			return
		}
	}
	r.Reason = types.ReasonFilteredByArgs
}

// RefreshCPU updates the CPU percentage from the per-PID stat line.
// wallDelta is the tick-over-tick wall-clock jiffy delta per CPU; the first
// observation reports 0. The returned error carries the read failure so the
// caller can apply the per-PID drop policy.
func (r *Record) RefreshCPU(fs procfs.FS, wallDelta float64) error {
	data, err := fs.ReadFile(fmt.Sprintf("proc/%d/stat", r.PID))
	if err != nil {
		return err
	}
	ticks, err := parseStatTicks(string(data))
	if err != nil {
		return err
	}
	if r.hasTicks && wallDelta > 0 && ticks >= r.lastTicks {
		r.CPUPct = 100 * float64(ticks-r.lastTicks) / wallDelta
	} else {
		r.CPUPct = 0
	}
	r.lastTicks = ticks
	r.hasTicks = true
	return nil
}

// parseStatTicks sums utime and stime (fields 14 and 15). The comm field
// may contain spaces and parentheses, so fields are counted after the last
// closing paren.
func parseStatTicks(line string) (uint64, error) {
	idx := strings.LastIndexByte(line, ')')
	if idx < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(line[idx+1:])
	// fields[0] is the state (overall field 3); utime and stime follow
	// at overall positions 14 and 15.
	if len(fields) < 13 {
		return 0, fmt.Errorf("short stat line: %d fields after comm", len(fields))
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing utime: %w", err)
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stime: %w", err)
	}
	return utime + stime, nil
}
