package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if opts.GroupBy != "exe" || opts.Units != "MB" || opts.CmdLen != 36 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.ShowCPU == nil || !*opts.ShowCPU {
		t.Fatalf("cpu column should default on: %+v", opts)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmemtop.yaml")
	content := `group_by: cmd
units: KB
min_delta_kb: -50
pid_filter: ["chrome", "1234"]
listen: ":9754"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	opts, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.GroupBy != "cmd" || opts.Units != "KB" {
		t.Fatalf("overlay failed: %+v", opts)
	}
	if opts.EffectiveMinDelta() != -50 {
		t.Fatalf("explicit threshold should win: %d", opts.EffectiveMinDelta())
	}
	if len(opts.PIDFilter) != 2 || opts.Listen != ":9754" {
		t.Fatalf("unexpected overlay: %+v", opts)
	}
	// Untouched fields keep their defaults.
	if opts.CmdLen != 36 {
		t.Fatalf("cmd_len default lost: %+v", opts)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("group_by: nonsense\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "group_by") {
		t.Fatalf("expected group_by validation error, got %v", err)
	}
}

func TestEffectiveMinDeltaDependsOnUnits(t *testing.T) {
	opts := Default()
	if opts.EffectiveMinDelta() != 1000 {
		t.Fatalf("MB default should be 1000, got %d", opts.EffectiveMinDelta())
	}
	opts.Units = "KB"
	if opts.EffectiveMinDelta() != 100 {
		t.Fatalf("KB default should be 100, got %d", opts.EffectiveMinDelta())
	}
}
