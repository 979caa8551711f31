// Package splitter turns raw document text into ordered retrieval chunks.
//
// Five strategies are supported. The strict strategies (newline, paragraph,
// sentence) emit their boundaries verbatim and are never merged; fixed and
// smart run a merge pass that folds under-sized chunks together. All size
// arithmetic is in runes so CJK text is counted the same as Latin text.
package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Strategy selects how text is divided into chunks.
type Strategy string

const (
	// StrategyFixed cuts greedy windows of ChunkSize runes, backtracking to
	// the nearest sentence or line boundary inside the window.
	StrategyFixed Strategy = "fixed"
	// StrategyNewline emits one chunk per non-empty line.
	StrategyNewline Strategy = "newline"
	// StrategyParagraph splits on blank lines (two or more newlines).
	StrategyParagraph Strategy = "paragraph"
	// StrategySentence splits on CJK/Latin sentence terminators.
	StrategySentence Strategy = "sentence"
	// StrategySmart prefers paragraphs, then sentences, then fixed windows.
	StrategySmart Strategy = "smart"
)

// ErrInvalidConfig indicates an invalid splitter configuration.
var ErrInvalidConfig = errors.New("invalid splitter configuration")

// Descriptions maps each supported strategy to a short human description,
// in the order they should be presented.
func Descriptions() map[Strategy]string {
	return map[Strategy]string{
		StrategyFixed:     "fixed-size windows with boundary backtracking",
		StrategyNewline:   "one chunk per line",
		StrategyParagraph: "one chunk per paragraph (blank-line separated)",
		StrategySentence:  "one chunk per sentence",
		StrategySmart:     "paragraphs first, then sentences, then fixed windows",
	}
}

// boundaryMarkers are tried in order when a fixed window needs to backtrack
// to a natural break. Fuller markers come first.
var boundaryMarkers = [][]rune{
	[]rune("\n\n"),
	[]rune("。\n"),
	[]rune("。"),
	[]rune("\n"),
	[]rune("！"),
	[]rune("？"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
}

var (
	paragraphPattern = regexp.MustCompile(`\n{2,}`)
	sentencePattern  = regexp.MustCompile(`[。！？.!?]+\s*`)
)

// Config holds the chunking policy.
type Config struct {
	// Strategy is one of fixed, newline, paragraph, sentence, smart.
	Strategy Strategy `koanf:"strategy"`

	// ChunkSize is the target chunk size in runes (fixed and smart).
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the number of runes consecutive fixed windows share.
	// Must satisfy 0 <= ChunkOverlap < ChunkSize.
	ChunkOverlap int `koanf:"chunk_overlap"`

	// MinChunkSize is the threshold below which fixed/smart chunks are
	// merged with their neighbors.
	MinChunkSize int `koanf:"min_chunk_size"`

	// MaxChunkSize is the hard limit above which a chunk is re-split.
	// Defaults to 2*ChunkSize.
	MaxChunkSize int `koanf:"max_chunk_size"`
}

// DefaultConfig returns the chunking policy used when a request does not
// override it.
func DefaultConfig() Config {
	return Config{
		Strategy:     StrategyFixed,
		ChunkSize:    400,
		ChunkOverlap: 50,
		MinChunkSize: 50,
	}
}

// Validate checks the policy. MaxChunkSize of zero is legal and means
// "default to 2*ChunkSize".
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyFixed, StrategyNewline, StrategyParagraph, StrategySentence, StrategySmart:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be in [0, chunk size %d)", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	if c.MinChunkSize < 0 {
		return fmt.Errorf("%w: min chunk size must not be negative, got %d", ErrInvalidConfig, c.MinChunkSize)
	}
	if c.MaxChunkSize < 0 {
		return fmt.Errorf("%w: max chunk size must not be negative, got %d", ErrInvalidConfig, c.MaxChunkSize)
	}
	return nil
}

// Splitter splits text under a fixed policy. It is stateless after
// construction and safe for concurrent use.
type Splitter struct {
	cfg Config
}

// New creates a Splitter, applying the MaxChunkSize default and validating
// the policy.
func New(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 2 * cfg.ChunkSize
	}
	return &Splitter{cfg: cfg}, nil
}

// Config returns the effective policy, with defaults applied.
func (s *Splitter) Config() Config {
	return s.cfg
}

// Split divides text into ordered, non-empty, trimmed chunks. Empty or
// whitespace-only input yields no chunks. Split never fails on well-formed
// input and is deterministic.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	switch s.cfg.Strategy {
	case StrategyFixed:
		chunks = s.splitFixed([]rune(text))
	case StrategyNewline:
		chunks = s.splitByNewline(text)
	case StrategyParagraph:
		chunks = s.splitByParagraph(text)
	case StrategySentence:
		chunks = s.splitBySentence(text)
	case StrategySmart:
		chunks = s.splitSmart(text)
	}

	return s.filterAndMerge(chunks)
}

// splitFixed cuts windows of ChunkSize runes. When the window edge falls
// mid-sentence it backtracks to the latest boundary marker inside the
// window; the next window starts at least one rune forward so progress is
// guaranteed even with degenerate overlap settings.
func (s *Splitter) splitFixed(text []rune) []string {
	if len(text) <= s.cfg.ChunkSize {
		if c := strings.TrimSpace(string(text)); c != "" {
			return []string{c}
		}
		return nil
	}

	var chunks []string
	start := 0
	n := len(text)
	for start < n {
		end := start + s.cfg.ChunkSize
		if end >= n {
			if c := strings.TrimSpace(string(text[start:])); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		splitPos := end
		for _, marker := range boundaryMarkers {
			if pos := lastIndexWithin(text, marker, start, end); pos >= 0 {
				splitPos = pos + len(marker)
				break
			}
		}

		if c := strings.TrimSpace(string(text[start:splitPos])); c != "" {
			chunks = append(chunks, c)
		}

		next := splitPos - s.cfg.ChunkOverlap
		if next < start+1 {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// splitByNewline emits each non-empty line as its own chunk. Lines longer
// than MaxChunkSize fall back to the fixed algorithm.
func (s *Splitter) splitByNewline(text string) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runeLen(line) > s.cfg.MaxChunkSize {
			chunks = append(chunks, s.splitFixed([]rune(line))...)
		} else {
			chunks = append(chunks, line)
		}
	}
	return chunks
}

// splitByParagraph splits on runs of two or more newlines.
func (s *Splitter) splitByParagraph(text string) []string {
	var chunks []string
	for _, para := range paragraphPattern.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) > s.cfg.MaxChunkSize {
			chunks = append(chunks, s.splitFixed([]rune(para))...)
		} else {
			chunks = append(chunks, para)
		}
	}
	return chunks
}

// splitBySentence splits on runs of CJK/Latin sentence terminators followed
// by optional whitespace.
func (s *Splitter) splitBySentence(text string) []string {
	var chunks []string
	for _, sentence := range sentencePattern.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if runeLen(sentence) > s.cfg.MaxChunkSize {
			chunks = append(chunks, s.splitFixed([]rune(sentence))...)
		} else {
			chunks = append(chunks, sentence)
		}
	}
	return chunks
}

// splitSmart keeps small paragraphs whole, sentence-splits mid-sized ones
// and fixed-splits oversized ones.
func (s *Splitter) splitSmart(text string) []string {
	var chunks []string
	for _, para := range paragraphPattern.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		switch n := runeLen(para); {
		case n <= s.cfg.ChunkSize:
			chunks = append(chunks, para)
		case n <= s.cfg.MaxChunkSize:
			chunks = append(chunks, s.splitBySentence(para)...)
		default:
			chunks = append(chunks, s.splitFixed([]rune(para))...)
		}
	}
	return chunks
}

// filterAndMerge drops blank chunks. For the strict strategies that is all
// it does: their output is authoritative. For fixed and smart it also folds
// chunks under MinChunkSize into a running accumulator (joined by newline)
// while the merge stays within MaxChunkSize, and defensively re-splits any
// chunk that exceeds MaxChunkSize.
func (s *Splitter) filterAndMerge(chunks []string) []string {
	if len(chunks) == 0 {
		return nil
	}

	switch s.cfg.Strategy {
	case StrategyNewline, StrategyParagraph, StrategySentence:
		var filtered []string
		for _, chunk := range chunks {
			if chunk = strings.TrimSpace(chunk); chunk != "" {
				filtered = append(filtered, chunk)
			}
		}
		return filtered
	}

	var result []string
	current := ""
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		if runeLen(chunk) > s.cfg.MaxChunkSize {
			result = append(result, s.splitFixed([]rune(chunk))...)
			continue
		}

		if runeLen(chunk) < s.cfg.MinChunkSize {
			if current != "" {
				merged := current + "\n" + chunk
				if runeLen(merged) <= s.cfg.MaxChunkSize {
					current = merged
				} else {
					result = append(result, current)
					current = chunk
				}
			} else {
				current = chunk
			}
			continue
		}

		if current != "" {
			result = append(result, current)
			current = ""
		}
		result = append(result, chunk)
	}
	if current != "" {
		result = append(result, current)
	}
	return result
}

// lastIndexWithin returns the largest index pos in [start, end-len(marker)]
// such that text[pos:pos+len(marker)] equals marker, or -1. The marker must
// lie entirely inside [start, end).
func lastIndexWithin(text, marker []rune, start, end int) int {
	if len(marker) == 0 {
		return -1
	}
	if end > len(text) {
		end = len(text)
	}
	for pos := end - len(marker); pos >= start; pos-- {
		match := true
		for i, r := range marker {
			if text[pos+i] != r {
				match = false
				break
			}
		}
		if match {
			return pos
		}
	}
	return -1
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
