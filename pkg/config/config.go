// Package config loads the optional YAML file that supplies defaults for
// the command-line options. Flags always win over the file, the file wins
// over the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/srodi/pmemtop/pkg/types"
)

// Options is the full configuration surface of the tool.
type Options struct {
	GroupBy       string   `yaml:"group_by"`
	SortBy        string   `yaml:"sort_by"`
	MinDeltaKB    *int64   `yaml:"min_delta_kb"`
	LoopSecs      int      `yaml:"loop_secs"`
	CmdLen        int      `yaml:"cmd_len"`
	TopPct        int      `yaml:"top_pct"`
	Units         string   `yaml:"units"`
	CollapseOther bool     `yaml:"collapse_other"`
	ShowCPU       *bool    `yaml:"show_cpu"`
	Numbers       bool     `yaml:"numbers"`
	Search        string   `yaml:"search"`
	PIDFilter     []string `yaml:"pid_filter"`
	Listen        string   `yaml:"listen"`
	LogLevel      string   `yaml:"log_level"`
	LogFile       string   `yaml:"log_file"`
}

// Default returns the built-in option values.
func Default() Options {
	showCPU := true
	return Options{
		GroupBy:  string(types.GroupByExe),
		SortBy:   string(types.SortByMem),
		LoopSecs: 0,
		CmdLen:   36,
		TopPct:   100,
		Units:    string(types.UnitsMB),
		ShowCPU:  &showCPU,
		LogLevel: "warn",
	}
}

// Load overlays the YAML file at path (when it exists) onto the defaults.
// A missing file is not an error; a malformed one is.
func Load(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return opts, opts.Validate()
}

// EffectiveMinDelta resolves the threshold default, which depends on the
// units: 100 KB when reporting in KB, 1000 KB otherwise.
func (o Options) EffectiveMinDelta() int64 {
	if o.MinDeltaKB != nil {
		return *o.MinDeltaKB
	}
	if o.Units == string(types.UnitsKB) {
		return 100
	}
	return 1000
}

// Validate rejects values outside the closed option sets.
func (o Options) Validate() error {
	switch types.GroupMode(o.GroupBy) {
	case types.GroupByExe, types.GroupByCmd, types.GroupByPID:
	default:
		return fmt.Errorf("invalid group_by %q", o.GroupBy)
	}
	switch types.SortMode(o.SortBy) {
	case types.SortByMem, types.SortByCPU, types.SortByName:
	default:
		return fmt.Errorf("invalid sort_by %q", o.SortBy)
	}
	switch types.Units(o.Units) {
	case types.UnitsKB, types.UnitsMB, types.UnitsMetric, types.UnitsHuman:
	default:
		return fmt.Errorf("invalid units %q", o.Units)
	}
	if o.TopPct < 1 || o.TopPct > 100 {
		return fmt.Errorf("top_pct %d out of range 1..100", o.TopPct)
	}
	if o.CmdLen < 1 {
		return fmt.Errorf("cmd_len %d must be positive", o.CmdLen)
	}
	return nil
}
