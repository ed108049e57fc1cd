package smaps

import (
	"strings"

	"github.com/srodi/pmemtop/pkg/types"
)

// Thread stacks show up as a one-page inaccessible guard mapping followed by
// a large anonymous writable region; the kernel reports a bogus Size for the
// pair. The size band of the real stack region is empirical.
const (
	guardPageKB      = 4
	threadStackMinKB = 10000
	threadStackMaxKB = 20000
)

// Classify assigns every chunk a category and effective size, in place.
// The decision procedure is fixed and first-match-wins, so re-running it
// over the same chunks yields the same assignment.
func Classify(chunks []types.Chunk) {
	for i := range chunks {
		chunk := &chunks[i]
		if chunk.Category != types.CatNone {
			continue
		}

		switch {
		case strings.Contains(chunk.Perms, "s"):
			if strings.Contains(chunk.Backing, "SYSV") {
				chunk.Category = types.CatShSYSV
			} else {
				chunk.Category = types.CatShOth
			}
			chunk.ESize = chunk.PSS
			continue
		case strings.Contains(chunk.Backing, "[stack]"):
			chunk.Category = types.CatStack
			chunk.ESize = chunk.Private
			continue
		case isGuardPage(chunk) && i < len(chunks)-1:
			next := &chunks[i+1]
			if isThreadStack(chunk, next) {
				chunk.Category = types.CatData
				chunk.ESize = 0
				next.Category = types.CatStack
				next.ESize = next.Private + next.Swap
				continue
			}
		}

		switch {
		case strings.Contains(chunk.Perms, "---"):
			chunk.Category = types.CatData
			chunk.ESize = 0
		case strings.Contains(chunk.Perms, "w"):
			chunk.Category = types.CatData
			chunk.ESize = chunk.RSS + chunk.Swap
		default:
			chunk.Category = types.CatText
			chunk.ESize = chunk.PSS + chunk.Swap
		}
	}
}

func isGuardPage(chunk *types.Chunk) bool {
	return chunk.Size == guardPageKB &&
		chunk.Backing == "" &&
		chunk.Offset == chunk.Begin &&
		strings.Contains(chunk.Perms, "---p")
}

func isThreadStack(guard, next *types.Chunk) bool {
	return guard.End == next.End &&
		strings.Contains(next.Perms, "w") &&
		next.Backing == "" &&
		next.Offset == next.Begin &&
		next.Size >= threadStackMinKB &&
		next.Size <= threadStackMaxKB
}

// Summarize folds classified chunks into a per-PID summary. The per-chunk
// swap is already inside each eSize where the category counts it; pswap for
// display comes from the rollup, not from here.
func Summarize(pid int, chunks []types.Chunk) types.Summary {
	s := types.NewSummary(pid, "")
	for _, chunk := range chunks {
		switch chunk.Category {
		case types.CatShSYSV:
			s.ShSYSV += chunk.ESize
		case types.CatShOth:
			s.ShOth += chunk.ESize
		case types.CatStack:
			s.Stack += chunk.ESize
		case types.CatText:
			s.Text += chunk.ESize
		case types.CatData:
			s.Data += chunk.ESize
		}
		s.PTotal += chunk.ESize
	}
	return s
}
