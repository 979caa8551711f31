package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, cfg Config) *Splitter {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown strategy", cfg: Config{Strategy: "chapter", ChunkSize: 100}},
		{name: "zero chunk size", cfg: Config{Strategy: StrategyFixed, ChunkSize: 0}},
		{name: "negative chunk size", cfg: Config{Strategy: StrategyFixed, ChunkSize: -1}},
		{name: "negative overlap", cfg: Config{Strategy: StrategyFixed, ChunkSize: 100, ChunkOverlap: -1}},
		{name: "overlap equals chunk size", cfg: Config{Strategy: StrategyFixed, ChunkSize: 100, ChunkOverlap: 100}},
		{name: "negative min chunk size", cfg: Config{Strategy: StrategyFixed, ChunkSize: 100, MinChunkSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_MaxChunkSizeDefault(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 150})
	assert.Equal(t, 300, s.Config().MaxChunkSize)

	s = mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 150, MaxChunkSize: 500})
	assert.Equal(t, 500, s.Config().MaxChunkSize)
}

func TestSplit_Empty(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\t  "))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	got := s.Split("  a short note  ")
	assert.Equal(t, []string{"a short note"}, got)
}

func TestSplitFixed_WindowsRespectMax(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 5})

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Sentence number here. ")
	}
	chunks := s.Split(sb.String())

	require.NotEmpty(t, chunks)
	assert.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), s.Config().MaxChunkSize, "chunk %d too large", i)
		assert.Equal(t, strings.TrimSpace(c), c, "chunk %d not trimmed", i)
		assert.NotEmpty(t, c)
	}
}

func TestSplitFixed_BacktracksToSentenceBoundary(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 30, ChunkOverlap: 0, MinChunkSize: 1})

	text := "First sentence here. Second sentence follows after. Third one closes it out."
	chunks := s.Split(text)

	require.NotEmpty(t, chunks)
	// The first window covers 30 runes and should cut at ". " after the
	// first sentence rather than mid-word.
	assert.Equal(t, "First sentence here.", chunks[0])
}

func TestSplitFixed_CJKBoundaries(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 12, ChunkOverlap: 0, MinChunkSize: 1})

	text := "这是第一句话。这是第二句话。这是第三句话。"
	chunks := s.Split(text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "这是第一句话。", chunks[0])
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), s.Config().MaxChunkSize)
	}
}

func TestSplitFixed_NoBoundaryFallsBackToHardCut(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 20, ChunkOverlap: 5, MinChunkSize: 1})

	text := strings.Repeat("x", 100)
	chunks := s.Split(text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("x", 20), chunks[0])
}

func TestSplitFixed_OverlapCarriesContext(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 20, ChunkOverlap: 5, MinChunkSize: 1})

	text := strings.Repeat("y", 60)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	// With no boundaries the second window starts chunkSize-overlap in, so
	// consecutive chunks share the overlap region.
	assert.Equal(t, strings.Repeat("y", 20), chunks[0])
	assert.Equal(t, strings.Repeat("y", 20), chunks[1])
}

func TestSplitNewline(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyNewline, ChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 50})

	text := "first line\n\n  second line  \n\nthird"
	got := s.Split(text)
	assert.Equal(t, []string{"first line", "second line", "third"}, got)
}

func TestSplitNewline_NoMerging(t *testing.T) {
	// MinChunkSize is high, but strict strategies never merge.
	s := mustNew(t, Config{Strategy: StrategyNewline, ChunkSize: 400, ChunkOverlap: 0, MinChunkSize: 300})

	got := s.Split("a\nb\nc")
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSplitNewline_LongLineFallsBackToFixed(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyNewline, ChunkSize: 20, ChunkOverlap: 0, MinChunkSize: 1, MaxChunkSize: 40})

	long := strings.Repeat("z", 100)
	got := s.Split("short\n" + long)
	require.Greater(t, len(got), 2)
	assert.Equal(t, "short", got[0])
	for _, c := range got[1:] {
		assert.LessOrEqual(t, runeLen(c), 40)
	}
}

func TestSplitParagraph(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyParagraph, ChunkSize: 400, ChunkOverlap: 0, MinChunkSize: 50})

	text := "para one\nstill para one\n\npara two\n\n\n\npara three"
	got := s.Split(text)
	assert.Equal(t, []string{"para one\nstill para one", "para two", "para three"}, got)
}

func TestSplitSentence(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategySentence, ChunkSize: 400, ChunkOverlap: 0, MinChunkSize: 50})

	got := s.Split("One. Two! Three? 四。")
	assert.Equal(t, []string{"One", "Two", "Three", "四"}, got)
}

func TestSplitSmart(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategySmart, ChunkSize: 30, ChunkOverlap: 0, MinChunkSize: 1, MaxChunkSize: 60})

	small := "tiny paragraph stays whole"                                       // 26 runes, kept as-is
	mid := "Alpha sentence goes first. Beta sentence follows right after it."   // 65 runes, sentence split
	require.LessOrEqual(t, runeLen(small), 30)
	require.Greater(t, runeLen(mid), 60)

	// mid exceeds MaxChunkSize, so it is fixed-split instead.
	got := s.Split(small + "\n\n" + mid)
	require.NotEmpty(t, got)
	assert.Equal(t, small, got[0])
	for _, c := range got {
		assert.LessOrEqual(t, runeLen(c), 60)
	}

	// A paragraph between ChunkSize and MaxChunkSize is sentence-split.
	midSized := "First short one. Second short one lands."
	require.Greater(t, runeLen(midSized), 30)
	require.LessOrEqual(t, runeLen(midSized), 60)
	got = s.Split(midSized)
	assert.Equal(t, []string{"First short one", "Second short one lands"}, got)
}

func TestFilterAndMerge_FixedMergesSmallChunks(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 50, MaxChunkSize: 200})

	merged := s.filterAndMerge([]string{"short one", "short two", "a chunk that is comfortably longer than the fifty rune minimum size"})
	require.Len(t, merged, 2)
	assert.Equal(t, "short one\nshort two", merged[0])
}

func TestFilterAndMerge_TrailingSmallChunkKept(t *testing.T) {
	s := mustNew(t, Config{Strategy: StrategyFixed, ChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 50, MaxChunkSize: 200})

	merged := s.filterAndMerge([]string{"tail"})
	assert.Equal(t, []string{"tail"}, merged)
}

func TestSplit_Deterministic(t *testing.T) {
	for _, strategy := range []Strategy{StrategyFixed, StrategyNewline, StrategyParagraph, StrategySentence, StrategySmart} {
		s := mustNew(t, Config{Strategy: strategy, ChunkSize: 40, ChunkOverlap: 10, MinChunkSize: 5})
		text := "One paragraph here. With two sentences.\n\nAnother paragraph!\nWith a line break. And more.\n\n短段落。"
		first := s.Split(text)
		second := s.Split(text)
		assert.Equal(t, first, second, "strategy %s", strategy)
	}
}

func TestDescriptions_CoversAllStrategies(t *testing.T) {
	d := Descriptions()
	for _, strategy := range []Strategy{StrategyFixed, StrategyNewline, StrategyParagraph, StrategySentence, StrategySmart} {
		assert.NotEmpty(t, d[strategy])
	}
	assert.Len(t, d, 5)
}
