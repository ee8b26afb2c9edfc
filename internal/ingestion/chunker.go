package ingestion

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/pkg/config"
	"github.com/brand-assistant/backend/pkg/logger"
)

var ErrEmptyDocument = errors.New("document has no text")

// ChunkerConfig bounds are counted in whitespace-delimited words.
type ChunkerConfig struct {
	Size    int
	Overlap int
	Min     int
	Max     int
}

func ChunkerConfigFrom(c config.ChunkingConfig) ChunkerConfig {
	return ChunkerConfig{Size: c.Size, Overlap: c.Overlap, Min: c.Min, Max: c.Max}
}

func (c ChunkerConfig) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	case c.Min <= 0 || c.Min > c.Size:
		return fmt.Errorf("min chunk size must be in (0, %d], got %d", c.Size, c.Min)
	case c.Max < c.Size:
		return fmt.Errorf("max chunk size %d is below chunk size %d", c.Max, c.Size)
	case c.Overlap < 0 || c.Overlap >= c.Size:
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Size, c.Overlap)
	}
	return nil
}

// Segmenter splits a whole document into sentences. Paragraphs are separated
// by blank lines.
type Segmenter interface {
	Sentences(text string) ([]string, error)
}

// ProseSegmenter uses prose's punkt sentence boundary detection. prose loads its
// model on every NewDocument call, so callers pass the whole document at once.
type ProseSegmenter struct{}

func (ProseSegmenter) Sentences(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return nil, err
	}
	sents := doc.Sentences()
	out := make([]string, 0, len(sents))
	for _, s := range sents {
		out = append(out, s.Text)
	}
	return out, nil
}

// PunctuationSegmenter ends a sentence at any word ending in . ! or ?.
type PunctuationSegmenter struct{}

func (PunctuationSegmenter) Sentences(text string) ([]string, error) {
	var out []string
	var cur []string
	for _, w := range strings.Fields(text) {
		cur = append(cur, w)
		if strings.ContainsAny(w[len(w)-1:], ".!?") {
			out = append(out, strings.Join(cur, " "))
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out, nil
}

type ChunkerOption func(*Chunker)

func WithSegmenter(s Segmenter) ChunkerOption {
	return func(c *Chunker) { c.segmenter = s }
}

// Chunker packs sentences into overlapping windows. It is deterministic for a
// given document and configuration.
type Chunker struct {
	cfg       ChunkerConfig
	segmenter Segmenter
	fallback  Segmenter
	warnOnce  sync.Once
}

func NewChunker(cfg ChunkerConfig, opts ...ChunkerOption) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{
		cfg:       cfg,
		segmenter: ProseSegmenter{},
		fallback:  PunctuationSegmenter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Chunker) Config() ChunkerConfig {
	return c.cfg
}

// Chunk splits doc.RawText. Every chunk but the last holds between Min and Max
// words, and consecutive chunks share exactly Overlap words.
func (c *Chunker) Chunk(doc models.Document) ([]models.Chunk, error) {
	words, boundaries := c.tokenize(doc.RawText)
	if len(words) == 0 {
		return nil, ErrEmptyDocument
	}

	docID := doc.ID()
	var chunks []models.Chunk
	for _, span := range c.windows(len(words), boundaries) {
		chunks = append(chunks, models.Chunk{
			ID:         models.ChunkID(docID, len(chunks)),
			BrandID:    doc.BrandID,
			Text:       strings.Join(words[span[0]:span[1]], " "),
			TokenCount: span[1] - span[0],
			SourceURI:  doc.SourceURI,
			Offset:     span[0],
		})
	}
	return chunks, nil
}

// tokenize returns the words of text and a sorted list of word positions at
// which a sentence or paragraph ends (exclusive end index). The whole text is
// segmented in one pass; paragraph ends are added on top of sentence ends.
func (c *Chunker) tokenize(text string) ([]string, []int) {
	paras := splitParagraphs(text)

	var words []string
	ends := make(map[int]struct{}, len(paras))
	for _, para := range paras {
		words = append(words, strings.Fields(para)...)
		ends[len(words)] = struct{}{}
	}
	if len(words) == 0 {
		return nil, nil
	}

	pos := 0
	for _, n := range c.sentenceLengths(strings.Join(paras, "\n\n"), len(words)) {
		pos += n
		ends[pos] = struct{}{}
	}

	boundaries := make([]int, 0, len(ends))
	for end := range ends {
		boundaries = append(boundaries, end)
	}
	sort.Ints(boundaries)
	return words, boundaries
}

// sentenceLengths returns word counts per sentence. A segmentation that does not
// account for every word of the text is discarded for the fallback.
func (c *Chunker) sentenceLengths(text string, total int) []int {
	if lengths, ok := lengthsOf(c.segmenter, text, total); ok {
		return lengths
	}
	c.warnOnce.Do(func() {
		logger.Debug("Sentence segmentation mismatch, using punctuation fallback")
	})
	if lengths, ok := lengthsOf(c.fallback, text, total); ok {
		return lengths
	}
	return []int{total}
}

func lengthsOf(s Segmenter, para string, total int) ([]int, bool) {
	sents, err := s.Sentences(para)
	if err != nil {
		logger.Debug("Sentence segmentation failed", zap.Error(err))
		return nil, false
	}
	lengths := make([]int, 0, len(sents))
	sum := 0
	for _, s := range sents {
		n := len(strings.Fields(s))
		if n == 0 {
			continue
		}
		lengths = append(lengths, n)
		sum += n
	}
	return lengths, sum == total
}

func (c *Chunker) windows(n int, boundaries []int) [][2]int {
	lo := c.cfg.Min
	if lo < c.cfg.Overlap+1 {
		lo = c.cfg.Overlap + 1
	}

	var spans [][2]int
	start := 0
	for {
		if n-start <= c.cfg.Size {
			spans = append(spans, [2]int{start, n})
			return spans
		}

		end := lastIn(boundaries, start+lo, start+c.cfg.Size)
		if end < 0 {
			end = firstIn(boundaries, start+c.cfg.Size+1, start+c.cfg.Max)
		}
		if end < 0 {
			end = start + c.cfg.Size
		}

		spans = append(spans, [2]int{start, end})
		if end >= n {
			return spans
		}
		start = end - c.cfg.Overlap
	}
}

func lastIn(sorted []int, lo, hi int) int {
	found := -1
	for _, b := range sorted {
		if b > hi {
			break
		}
		if b >= lo {
			found = b
		}
	}
	return found
}

func firstIn(sorted []int, lo, hi int) int {
	for _, b := range sorted {
		if b > hi {
			break
		}
		if b >= lo {
			return b
		}
	}
	return -1
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				paras = append(paras, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		paras = append(paras, strings.Join(cur, "\n"))
	}
	return paras
}
