// Package smaps parses the kernel's per-PID memory map files and assigns
// each mapping a memory category.
//
// The detailed file repeats blocks of one section line followed by item
// lines:
//
//	00400000-004b8000 r-xp 00000000 fd:00 11143998     /opt/.../inetrep
//	Size:                736 kB
//	Rss:                 592 kB
//	Pss:                  87 kB
//	...
//
// The rollup file carries item lines only.
package smaps

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phuslu/log"

	"github.com/srodi/pmemtop/pkg/types"
)

var (
	// 00400000-004b8000 r-xp 00000000 fd:00 11143998  /opt/.../inetrep
	sectionPat = regexp.MustCompile(
		`^([0-9a-fA-F]+)-([0-9a-fA-F]+)` +
			`\s+([a-zA-Z-]+)` +
			`\s+([0-9a-fA-F]+)` +
			`\s+(\S+)` +
			`\s+(\d+)` +
			`(\s*|\s+(\S.*))$`)
	// MMUPageSize:           4 kB
	itemPat = regexp.MustCompile(`^(\w+):\s+(\d+)\s+[kK][bB]$`)
	// Item-shaped lines whose value is not a kB count.
	junkPat = regexp.MustCompile(`^(?i:THPeligible|VmFlags|ProtectionKey)`)
)

// Parser reads smaps and smaps_rollup contents. It keeps a running count of
// unparseable lines so only the first is logged in full.
type Parser struct {
	parseErrs int
}

// ParseErrors returns how many lines matched neither grammar so far.
func (p *Parser) ParseErrors() int { return p.parseErrs }

func (p *Parser) badLine(file string, lineno int, line string) {
	if p.parseErrs == 0 {
		log.Warn().Str("file", file).Int("line", lineno).
			Msgf("cannot parse %q", line)
	}
	p.parseErrs++
}

// ParseMaps parses the detailed map file into its ordered chunk sequence.
// Unknown item tags are skipped; lines matching neither grammar are counted
// as diagnostics and parsing continues.
func (p *Parser) ParseMaps(file string, data []byte) []types.Chunk {
	var chunks []types.Chunk
	var cur *types.Chunk
	for lineno, line := range splitLines(data) {
		if m := sectionPat.FindStringSubmatch(line); m != nil {
			begin, _ := strconv.ParseUint(m[1], 16, 64)
			end, _ := strconv.ParseUint(m[2], 16, 64)
			offset, _ := strconv.ParseUint(m[4], 16, 64)
			chunks = append(chunks, types.Chunk{
				Begin:   begin,
				End:     end,
				Perms:   m[3],
				Offset:  offset,
				Backing: m[8],
			})
			cur = &chunks[len(chunks)-1]
			continue
		}
		if m := itemPat.FindStringSubmatch(line); m != nil {
			if cur == nil {
				p.badLine(file, lineno+1, line)
				continue
			}
			val, _ := strconv.ParseInt(m[2], 10, 64)
			switch tag := m[1]; {
			case tag == "Size":
				cur.Size = val
			case tag == "Rss":
				cur.RSS = val
			case tag == "Pss":
				cur.PSS = val
			case strings.HasPrefix(tag, "Shared"):
				cur.Shared += val
			case strings.HasPrefix(tag, "Private"):
				cur.Private += val
			case tag == "Swap":
				cur.Swap = val
			}
			continue
		}
		if junkPat.MatchString(line) {
			continue
		}
		p.badLine(file, lineno+1, line)
	}
	return chunks
}

// ParseRollup parses a smaps_rollup file. The section line at the top (the
// whole address space) carries no quantities and is skipped along with any
// line not ending in kB, mirroring the tolerant rollup grammar.
func (p *Parser) ParseRollup(file string, data []byte) types.Rollup {
	var rollup types.Rollup
	for lineno, line := range splitLines(data) {
		if !strings.HasSuffix(strings.TrimRight(line, " "), "kB") {
			continue
		}
		m := itemPat.FindStringSubmatch(line)
		if m == nil {
			p.badLine(file, lineno+1, line)
			continue
		}
		val, _ := strconv.ParseInt(m[2], 10, 64)
		switch m[1] {
		case "Pss_Anon":
			rollup.PSSAnon += val
		case "Pss_File":
			rollup.PSSFile += val
		case "Pss_Shmem":
			rollup.PSSShmem += val
		case "SwapPss":
			rollup.SwapPSS += val
		}
	}
	return rollup
}

func splitLines(data []byte) []string {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// FormatChunk renders one chunk for debug traces.
func FormatChunk(c types.Chunk) string {
	return fmt.Sprintf("%x-%x %s %s eSize=%d size=%d rss=%d pss=%d %s",
		c.Begin, c.End, c.Perms, c.Category, c.ESize, c.Size, c.RSS, c.PSS, c.Backing)
}
