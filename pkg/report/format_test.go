package report

import (
	"strings"
	"testing"
	"time"

	"github.com/srodi/pmemtop/pkg/types"
)

func sampleReport() *types.Report {
	rep := &types.Report{
		Time: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
		Vitals: types.Vitals{
			MemTotalKB: 16 << 20, MemAvailKB: 8 << 20, ShmemKB: 1024, DirtyKB: 2048,
		},
		Qualified: 12,
		TotalPIDs: 40,
		Grand: types.Summary{
			PSwap: 100, ShSYSV: 512, ShOth: 100, Stack: 20, Text: 740,
			Data: 2400, PTotal: 3772, PSS: 3772, Number: 13,
		},
	}
	rep.Rows = []types.Row{
		{
			Annotation: "A",
			Summary: types.Summary{
				Text: 40, PTotal: 40, PSS: 40, Number: 1, Info: "foo",
			},
			IsNew: true,
		},
		{
			Annotation: "+600K",
			Summary: types.Summary{
				Data: 2400, PTotal: 2400, PSS: 2400, Number: 2, Info: "chrome",
			},
			IsChanged: true,
		},
	}
	return rep
}

func TestHeaderColumns(t *testing.T) {
	f := New(Config{Units: types.UnitsKB, GroupBy: types.GroupByExe, SortBy: types.SortByMem})
	header := f.Header()
	for _, col := range []string{"pswap", "shSYSV", "shOth", "stack", "text", "data", "ptotal"} {
		if !strings.Contains(header, col) {
			t.Fatalf("header missing %q: %q", col, header)
		}
	}
	if strings.Contains(header, "pss ") || strings.HasSuffix(header, "pss") {
		t.Fatalf("pss must be excluded without debug: %q", header)
	}
	if strings.Contains(header, "cpu_pct") {
		t.Fatalf("cpu column must be excluded by default: %q", header)
	}
	if !strings.Contains(header, "key/info (exe by mem)") {
		t.Fatalf("header missing key/info trailer: %q", header)
	}
}

func TestHeaderCollapsedAndDebug(t *testing.T) {
	f := New(Config{Units: types.UnitsKB, CollapseOther: true, Debug: true, ShowCPU: true,
		GroupBy: types.GroupByExe, SortBy: types.SortByMem})
	header := f.Header()
	if !strings.Contains(header, "other") {
		t.Fatalf("collapsed header missing other: %q", header)
	}
	for _, col := range []string{"shSYSV", "shOth", "stack", "text"} {
		if strings.Contains(header, col) {
			t.Fatalf("collapsed header should drop %q: %q", col, header)
		}
	}
	if !strings.Contains(header, "pss") || !strings.Contains(header, "cpu_pct") {
		t.Fatalf("debug header should include pss and cpu: %q", header)
	}
}

func TestRowAnnotationsAndLabels(t *testing.T) {
	f := New(Config{Units: types.UnitsKB, GroupBy: types.GroupByExe, SortBy: types.SortByMem})
	rep := sampleReport()
	out := f.Render(rep)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected leader+header+total+2 rows, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[2], " T ") || !strings.Contains(lines[2], "13x") {
		t.Fatalf("grand total line wrong: %q", lines[2])
	}
	if !strings.Contains(lines[3], " A 1x foo") {
		t.Fatalf("new group line wrong: %q", lines[3])
	}
	if !strings.Contains(lines[4], " +600K 2x chrome") {
		t.Fatalf("changed group line wrong: %q", lines[4])
	}
}

func TestRowSingletonShowsPID(t *testing.T) {
	f := New(Config{Units: types.UnitsKB})
	row := types.Row{Summary: types.Summary{Number: -4242, Info: "4242 foo"}}
	out := f.Row(row)
	if !strings.Contains(out, " 4242 4242 foo") {
		t.Fatalf("singleton should show the pid, got %q", out)
	}
}

func TestUnitsScaling(t *testing.T) {
	cases := []struct {
		units  types.Units
		kb     int64
		expect string
		width  int
	}{
		{types.UnitsKB, 1024, "1,024", 11},
		{types.UnitsMB, 2048, "2", 8},
		{types.UnitsMetric, 1000000, "1,024", 8},
		{types.UnitsHuman, 1 << 20, "1.0G", 7},
	}
	for _, tc := range cases {
		t.Run(string(tc.units), func(t *testing.T) {
			f := New(Config{Units: tc.units})
			cell := f.cell(tc.kb)
			if len(cell) != tc.width {
				t.Fatalf("width: got %d want %d (%q)", len(cell), tc.width, cell)
			}
			if strings.TrimSpace(cell) != tc.expect {
				t.Fatalf("value: got %q want %q", strings.TrimSpace(cell), tc.expect)
			}
		})
	}
}

func TestLeaderLine(t *testing.T) {
	f := New(Config{Units: types.UnitsMB})
	rep := sampleReport()
	rep.Zram = &types.ZramStats{OrigDataSize: 4 << 20, MemUsedTotal: 1 << 20}
	rep.HaveLoad = true
	rep.LoadAvg = 1.25
	leader := f.Leader(rep)
	for _, want := range []string{"---- 10:30:00", "Mem=16.0G", "Avail=8.0G", "Dirty=2.0M", "PIDs: 12/40", "Zram=", "(4.0:1)", "Load=1.25"} {
		if !strings.Contains(leader, want) {
			t.Fatalf("leader missing %q: %q", want, leader)
		}
	}
}

func TestHuman(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{1024, "1.0K"},
		{1 << 20, "1.0M"},
		{1536 << 20, "1.5G"},
		{1 << 40, "1.0T"},
	}
	for _, tc := range cases {
		if got := human(tc.in); got != tc.want {
			t.Fatalf("human(%d): got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestCommas(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for in, want := range cases {
		if got := commas(in); got != want {
			t.Fatalf("commas(%d): got %q want %q", in, got, want)
		}
	}
}

func TestNumbersColumn(t *testing.T) {
	f := New(Config{Units: types.UnitsKB, Numbers: true})
	out := f.Render(sampleReport())
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[1], "   #") {
		t.Fatalf("numbered header should start with #: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "   0") {
		t.Fatalf("total line should be line 0: %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "   1") {
		t.Fatalf("first group line should be 1: %q", lines[3])
	}
}
