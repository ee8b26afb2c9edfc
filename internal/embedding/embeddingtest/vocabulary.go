// Package embeddingtest provides a deterministic in-process Embedder for tests.
package embeddingtest

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// Vocabulary embeds text as a bag of lower-cased words where every distinct word
// owns its own dimension, so cosine similarity equals normalised word overlap.
type Vocabulary struct {
	mu    sync.Mutex
	dim   int
	index map[string]int

	// Err, when set, is returned by every call.
	Err error
	// Calls counts Embed and EmbedBatch invocations.
	Calls int
}

func NewVocabulary(dim int) *Vocabulary {
	return &Vocabulary{dim: dim, index: make(map[string]int)}
}

func (v *Vocabulary) Embed(ctx context.Context, text string) ([]float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls++
	if v.Err != nil {
		return nil, v.Err
	}
	return v.vector(text), nil
}

func (v *Vocabulary) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls++
	if v.Err != nil {
		return nil, v.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = v.vector(t)
	}
	return out, nil
}

func (v *Vocabulary) vector(text string) []float32 {
	vec := make([]float32, v.dim)
	for _, w := range Words(text) {
		i, ok := v.index[w]
		if !ok {
			i = len(v.index) % v.dim
			v.index[w] = i
		}
		vec[i] = 1
	}
	if isZero(vec) {
		// an all-zero vector has no direction; park it on the last axis
		vec[v.dim-1] = 1
	}
	return vec
}

// Words splits on anything that is not a letter or digit and lower-cases.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isZero(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return false
		}
	}
	return true
}
