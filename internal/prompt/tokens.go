package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/pkg/logger"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter approximates tokens as a quarter of the rune count, never
// fewer than the number of words.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	est := (runes + 3) / 4
	if words := len(strings.Fields(text)); words > est {
		return words
	}
	return est
}

// TiktokenCounter counts with a BPE encoding such as cl100k_base.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter picks the counter named by kind ("tiktoken" or "estimate"). The
// tiktoken encoding may need a download; on failure the estimate is used.
func NewCounter(kind, encoding string) TokenCounter {
	if kind != "tiktoken" {
		return EstimateCounter{}
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}
	c, err := NewTiktokenCounter(encoding)
	if err != nil {
		logger.Warn("Tiktoken encoding unavailable, estimating tokens",
			zap.String("encoding", encoding),
			zap.Error(err),
		)
		return EstimateCounter{}
	}
	return c
}

// truncateTokens keeps the longest word prefix of text that fits in max tokens.
func truncateTokens(counter TokenCounter, text string, max int) string {
	if max <= 0 {
		return ""
	}
	if counter.Count(text) <= max {
		return text
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(strings.Join(words[:mid], " ")) <= max {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
