package smaps

import (
	"testing"

	"github.com/srodi/pmemtop/pkg/types"
)

func guardPair() []types.Chunk {
	return []types.Chunk{
		{
			Begin: 0x7f0000000000, End: 0x7f0000001000, Perms: "---p",
			Offset: 0x7f0000000000, Size: 4,
		},
		{
			Begin: 0x7f0000001000, End: 0x7f0000001000, Perms: "rw-p",
			Offset: 0x7f0000001000, Size: 10240, Private: 20,
		},
	}
}

func TestClassifySingleChunks(t *testing.T) {
	cases := []struct {
		name     string
		chunk    types.Chunk
		category types.Category
		eSize    int64
	}{
		{
			name:     "sharedSYSV",
			chunk:    types.Chunk{Perms: "rw-s", Backing: "/SYSV00000000 (deleted)", PSS: 512, RSS: 600},
			category: types.CatShSYSV,
			eSize:    512,
		},
		{
			name:     "sharedOther",
			chunk:    types.Chunk{Perms: "r--s", Backing: "/usr/share/fonts/font.ttf", PSS: 33},
			category: types.CatShOth,
			eSize:    33,
		},
		{
			name:     "mainStack",
			chunk:    types.Chunk{Perms: "rw-p", Backing: "[stack]", Private: 132, RSS: 140},
			category: types.CatStack,
			eSize:    132,
		},
		{
			name:     "noAccess",
			chunk:    types.Chunk{Perms: "---p", Size: 2048, RSS: 0},
			category: types.CatData,
			eSize:    0,
		},
		{
			name:     "writableHeap",
			chunk:    types.Chunk{Perms: "rw-p", Backing: "[heap]", RSS: 1000, Swap: 200, PSS: 900},
			category: types.CatData,
			eSize:    1200,
		},
		{
			name:     "text",
			chunk:    types.Chunk{Perms: "r-xp", Backing: "/usr/bin/foo", PSS: 40, Swap: 0, RSS: 80},
			category: types.CatText,
			eSize:    40,
		},
		{
			name:     "sysvNameWithoutShareBitIsNotSYSV",
			chunk:    types.Chunk{Perms: "r--p", Backing: "/data/SYSVfile", PSS: 10},
			category: types.CatText,
			eSize:    10,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := []types.Chunk{tc.chunk}
			Classify(chunks)
			if chunks[0].Category != tc.category {
				t.Fatalf("category: got %s want %s", chunks[0].Category, tc.category)
			}
			if chunks[0].ESize != tc.eSize {
				t.Fatalf("eSize: got %d want %d", chunks[0].ESize, tc.eSize)
			}
		})
	}
}

func TestClassifyPseudoStackPair(t *testing.T) {
	chunks := guardPair()
	Classify(chunks)
	if chunks[0].Category != types.CatData || chunks[0].ESize != 0 {
		t.Fatalf("guard page: got %s/%d", chunks[0].Category, chunks[0].ESize)
	}
	if chunks[1].Category != types.CatStack || chunks[1].ESize != 20 {
		t.Fatalf("thread stack: got %s/%d", chunks[1].Category, chunks[1].ESize)
	}
}

func TestClassifyPseudoStackCountsSwap(t *testing.T) {
	chunks := guardPair()
	chunks[1].Swap = 8
	Classify(chunks)
	if chunks[1].ESize != 28 {
		t.Fatalf("thread stack eSize should be private+swap, got %d", chunks[1].ESize)
	}
}

// Violating any single guard condition must leave both chunks in their
// unguarded categories: the guard page falls to data/0 via its ---p perms
// and the next chunk is classified on its own.
func TestClassifyPseudoStackGuardConditions(t *testing.T) {
	breakers := []struct {
		name  string
		tweak func(chunks []types.Chunk)
	}{
		{"guardNotOnePage", func(c []types.Chunk) { c[0].Size = 8 }},
		{"guardHasBacking", func(c []types.Chunk) { c[0].Backing = "/dev/zero" }},
		{"guardOffsetMismatch", func(c []types.Chunk) { c[0].Offset = 0 }},
		{"endsDiffer", func(c []types.Chunk) { c[1].End = c[1].End + 0x1000 }},
		{"nextNotWritable", func(c []types.Chunk) { c[1].Perms = "r--p" }},
		{"nextHasBacking", func(c []types.Chunk) { c[1].Backing = "/lib/x.so" }},
		{"nextOffsetMismatch", func(c []types.Chunk) { c[1].Offset = 0 }},
		{"nextTooSmall", func(c []types.Chunk) { c[1].Size = 9999 }},
		{"nextTooLarge", func(c []types.Chunk) { c[1].Size = 20001 }},
	}

	for _, tc := range breakers {
		t.Run(tc.name, func(t *testing.T) {
			chunks := guardPair()
			tc.tweak(chunks)
			Classify(chunks)
			if tc.name == "guardNotOnePage" || tc.name == "guardHasBacking" || tc.name == "guardOffsetMismatch" {
				// Guard chunk itself no longer matches the outer test.
				if chunks[0].Category != types.CatData {
					t.Fatalf("broken guard should fall to data, got %s", chunks[0].Category)
				}
			}
			if chunks[1].Category == types.CatStack {
				t.Fatalf("next chunk must not be promoted to stack when %s", tc.name)
			}
		})
	}
}

func TestClassifyGuardBandBoundaries(t *testing.T) {
	for _, size := range []int64{10000, 20000} {
		chunks := guardPair()
		chunks[1].Size = size
		Classify(chunks)
		if chunks[1].Category != types.CatStack {
			t.Fatalf("size %d is inside the band, got %s", size, chunks[1].Category)
		}
	}
}

func TestClassifyGuardAtEndOfSlice(t *testing.T) {
	chunks := guardPair()[:1]
	Classify(chunks)
	if chunks[0].Category != types.CatData || chunks[0].ESize != 0 {
		t.Fatalf("trailing guard page should be data/0, got %s/%d",
			chunks[0].Category, chunks[0].ESize)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	chunks := guardPair()
	chunks = append(chunks, types.Chunk{Perms: "r-xp", Backing: "/usr/bin/foo", PSS: 40})
	Classify(chunks)
	first := make([]types.Chunk, len(chunks))
	copy(first, chunks)
	Classify(chunks)
	for i := range chunks {
		if chunks[i] != first[i] {
			t.Fatalf("chunk %d changed on re-classification: %+v vs %+v", i, chunks[i], first[i])
		}
	}
}

func TestSummarizeChunks(t *testing.T) {
	chunks := []types.Chunk{
		{Category: types.CatText, ESize: 40},
		{Category: types.CatData, ESize: 1200},
		{Category: types.CatStack, ESize: 20},
		{Category: types.CatShSYSV, ESize: 512},
		{Category: types.CatShOth, ESize: 8},
	}
	s := Summarize(77, chunks)
	if s.Number != -77 {
		t.Fatalf("singleton summary should carry negated pid, got %d", s.Number)
	}
	if s.Text != 40 || s.Data != 1200 || s.Stack != 20 || s.ShSYSV != 512 || s.ShOth != 8 {
		t.Fatalf("unexpected buckets: %+v", s)
	}
	if s.PTotal != 40+1200+20+512+8 {
		t.Fatalf("ptotal must sum category eSizes, got %d", s.PTotal)
	}
}
