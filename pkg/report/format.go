// Package report renders a sampled tick as a fixed-width text table. It is
// a pure projection: nothing here mutates sampler state.
package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/srodi/pmemtop/pkg/types"
)

// Config selects the presentation of the numeric columns.
type Config struct {
	Units         types.Units
	ShowCPU       bool
	CollapseOther bool
	Numbers       bool
	Debug         bool
	GroupBy       types.GroupMode
	SortBy        types.SortMode
}

// Formatter renders reports under one presentation config.
type Formatter struct {
	cfg     Config
	divisor int64
	fwidth  int
	lineNum int
}

// New builds a formatter, deriving the unit divisor and column width.
func New(cfg Config) *Formatter {
	f := &Formatter{cfg: cfg}
	switch cfg.Units {
	case types.UnitsMetric:
		f.divisor, f.fwidth = 1000*1000, 8
	case types.UnitsKB:
		f.divisor, f.fwidth = 1024, 11
	case types.UnitsHuman:
		f.divisor, f.fwidth = 1, 7
	default:
		f.divisor, f.fwidth = 1024*1024, 8
	}
	return f
}

// Render projects one report into its full text form.
func (f *Formatter) Render(rep *types.Report) string {
	var b strings.Builder
	f.lineNum = 0
	b.WriteString(f.Leader(rep))
	b.WriteString("\n")
	b.WriteString(f.Header())
	b.WriteString("\n")
	grand := rep.Grand
	grand.Info = fmt.Sprintf("--TOTALS in %s --", f.units())
	b.WriteString(f.Row(types.Row{Annotation: "T", Summary: grand}))
	b.WriteString("\n")
	for _, row := range rep.Rows {
		b.WriteString(f.Row(row))
		b.WriteString("\n")
	}
	return b.String()
}

func (f *Formatter) units() types.Units {
	if f.cfg.Units == "" {
		return types.UnitsMB
	}
	return f.cfg.Units
}

// Leader renders the one-line system synopsis above the table.
func (f *Formatter) Leader(rep *types.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---- %s", rep.Time.Format("15:04:05"))
	fmt.Fprintf(&b, " Mem=%s", human(rep.Vitals.MemTotalKB*1024))
	fmt.Fprintf(&b, " Avail=%s", human(rep.Vitals.MemAvailKB*1024))
	if rep.Grand.PTotal > 0 {
		other := rep.Vitals.MemTotalKB - rep.Vitals.MemAvailKB - rep.Grand.PTotal
		fmt.Fprintf(&b, " Oth=%s", human(other*1024))
	}
	fmt.Fprintf(&b, " Dirty=%s", human(rep.Vitals.DirtyKB*1024))
	if rep.Zram != nil {
		fmt.Fprintf(&b, " Zram=%s/%s(%.1f:1)",
			human(rep.Zram.MemUsedTotal), human(rep.Zram.OrigDataSize), rep.Zram.Ratio())
	}
	if rep.HaveLoad {
		fmt.Fprintf(&b, " Load=%.2f", rep.LoadAvg)
	}
	fmt.Fprintf(&b, " PIDs: %d/%d", rep.Qualified, rep.TotalPIDs)
	return b.String()
}

// columns yields the data column names in emission order.
func (f *Formatter) columns() []string {
	cols := []string{}
	if f.cfg.ShowCPU {
		cols = append(cols, "cpu_pct")
	}
	cols = append(cols, "pswap")
	if f.cfg.CollapseOther {
		cols = append(cols, "other")
	} else {
		cols = append(cols, "shSYSV", "shOth", "stack", "text")
	}
	cols = append(cols, "data", "ptotal")
	if f.cfg.Debug {
		cols = append(cols, "pss")
	}
	return cols
}

// Header renders the column header line.
func (f *Formatter) Header() string {
	var b strings.Builder
	if f.cfg.Numbers {
		b.WriteString("   #")
	}
	for _, col := range f.columns() {
		fmt.Fprintf(&b, "%*s", f.fwidth, col)
	}
	fmt.Fprintf(&b, "   key/info (%s by %s)", f.cfg.GroupBy, f.cfg.SortBy)
	return b.String()
}

// Row renders one summary line with its annotation between the numeric
// columns and the key/info column.
func (f *Formatter) Row(row types.Row) string {
	var b strings.Builder
	if f.cfg.Numbers {
		fmt.Fprintf(&b, "%4d", f.lineNum)
	}
	f.lineNum++
	s := row.Summary
	if f.cfg.ShowCPU {
		fmt.Fprintf(&b, "%*.1f", f.fwidth, s.CPUPct)
	}
	values := []int64{s.PSwap}
	if f.cfg.CollapseOther {
		values = append(values, s.ShSYSV+s.ShOth+s.Stack+s.Text)
	} else {
		values = append(values, s.ShSYSV, s.ShOth, s.Stack, s.Text)
	}
	values = append(values, s.Data, s.PTotal)
	if f.cfg.Debug {
		values = append(values, s.PSS)
	}
	for _, kb := range values {
		b.WriteString(f.cell(kb))
	}

	annotation := row.Annotation
	if annotation == "" {
		annotation = " "
	}
	num := s.Number
	label := strconv.FormatInt(-num, 10)
	if num > 0 {
		label = strconv.FormatInt(num, 10) + "x"
	}
	fmt.Fprintf(&b, " %s %s %s", annotation, label, s.Info)
	return b.String()
}

// cell scales one KB quantity into the configured unit.
func (f *Formatter) cell(kb int64) string {
	scaled := scale(kb, f.divisor)
	if f.divisor > 1 {
		return fmt.Sprintf("%*s", f.fwidth, commas(scaled))
	}
	return fmt.Sprintf("%*s", f.fwidth, human(scaled))
}

func scale(kb, divisor int64) int64 {
	bytes := float64(kb) * 1024
	return int64(math.Round(bytes / float64(divisor)))
}

// human walks the binary suffixes for a concise byte count.
func human(number int64) string {
	value := float64(number)
	suffixes := []string{"K", "M", "G", "T"}
	for i, suffix := range suffixes {
		value /= 1024
		if value < 999.95 || i == len(suffixes)-1 {
			return fmt.Sprintf("%.1f%s", value, suffix)
		}
	}
	return ""
}

// commas renders n with thousands separators.
func commas(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var parts []string
	for len(digits) > 3 {
		parts = append([]string{digits[len(digits)-3:]}, parts...)
		digits = digits[:len(digits)-3]
	}
	parts = append([]string{digits}, parts...)
	return sign + strings.Join(parts, ",")
}
