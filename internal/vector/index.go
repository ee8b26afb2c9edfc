// Package vector defines the brand-scoped similarity index used by ingestion and
// retrieval. Implementations live in sub-packages.
package vector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/brand-assistant/backend/internal/models"
)

// ErrIndexUnavailable wraps every backend failure.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// ErrInvalidBrand is returned for brand ids that cannot be used as a namespace.
var ErrInvalidBrand = errors.New("invalid brand id")

// Record is one chunk and its embedding.
type Record struct {
	Chunk  models.Chunk
	Vector []float32
}

// Match is a query hit. Score is cosine similarity, higher is closer.
type Match struct {
	Chunk models.Chunk
	Score float64
}

// Index stores vectors per brand. Query never returns chunks of another brand,
// results are ordered by descending Score, and Upsert is idempotent by chunk id.
type Index interface {
	Upsert(ctx context.Context, brandID string, records []Record) error
	Query(ctx context.Context, brandID string, vector []float32, topN int) ([]Match, error)
	DeleteSource(ctx context.Context, brandID, sourceURI string) error
}

var brandPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateBrand checks that id is safe to embed in collection names and filter
// expressions.
func ValidateBrand(id string) error {
	if !brandPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidBrand, id)
	}
	return nil
}

// Unavailable wraps err as an index failure with context.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
}

// SortMatches orders matches by descending score, keeping backend order for ties.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}

// CheckRecords verifies every record belongs to brandID and has the given dimension
// (dim <= 0 skips the dimension check).
func CheckRecords(brandID string, records []Record, dim int) error {
	for _, r := range records {
		if r.Chunk.BrandID != brandID {
			return fmt.Errorf("%w: chunk %s belongs to brand %q", ErrInvalidBrand, r.Chunk.ID, r.Chunk.BrandID)
		}
		if dim > 0 && len(r.Vector) != dim {
			return fmt.Errorf("chunk %s: vector dimension %d, want %d", r.Chunk.ID, len(r.Vector), dim)
		}
	}
	return nil
}
