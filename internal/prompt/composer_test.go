package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/pkg/config"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

var testBrands = []config.BrandConfig{{ID: "x", Name: "Acme", SystemPrompt: "You help Acme customers."}}

func passage(id string, score float64, text string) models.RetrievedPassage {
	return models.RetrievedPassage{Chunk: models.Chunk{ID: id, BrandID: "x", Text: text, SourceURI: id + ".md"}, Score: score}
}

func session(turns ...string) *models.ConversationSession {
	s := models.NewSession(models.SessionKey{UserID: "u", BrandID: "x"}, time.Unix(0, 0))
	for i, text := range turns {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		s.AppendTurn(models.Turn{Role: role, Text: text, Timestamp: time.Unix(int64(i), 0)}, 0)
	}
	return s
}

func ids(passages []models.RetrievedPassage) []string {
	out := make([]string, len(passages))
	for i, p := range passages {
		out[i] = p.Chunk.ID
	}
	return out
}

func TestComposeRanksAndFiltersPassages(t *testing.T) {
	c := NewComposer(Config{MaxTokens: 1000, MaxPassageTokens: 500, MaxHistoryTurns: 10, SimilarityThreshold: 0.3}, testBrands, wordCounter{})

	web := models.RetrievedPassage{Chunk: models.Chunk{ID: "web_0", Text: "from the web"}, Synthetic: true}
	in := []models.RetrievedPassage{
		web,
		passage("low", 0.1, "below threshold"),
		passage("b", 0.5, "bravo"),
		passage("a", 0.9, "alpha"),
		passage("b", 0.6, "bravo"),
	}

	comp, err := c.Compose(session("hi"), in, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "web_0"}, ids(comp.Passages))
	assert.InDelta(t, 0.6, comp.Passages[1].Score, 1e-9)
	assert.True(t, strings.HasPrefix(comp.Prompt.System, "You help Acme customers."))
	assert.Contains(t, comp.Prompt.System, "[1] alpha")
	assert.NotContains(t, comp.Prompt.System, "below threshold")
}

func TestComposeDropsLowestPassagesFirst(t *testing.T) {
	c := NewComposer(Config{MaxTokens: 200, MaxPassageTokens: 30, MaxHistoryTurns: 10, SimilarityThreshold: 0.3}, testBrands, wordCounter{})

	var in []models.RetrievedPassage
	for i := 0; i < 6; i++ {
		in = append(in, passage(fmt.Sprintf("p%d", i), 0.9-float64(i)*0.1, strings.Repeat("word ", 8)))
	}

	comp, err := c.Compose(session(), in, "question")
	require.NoError(t, err)
	require.NotEmpty(t, comp.Passages)
	assert.Less(t, len(comp.Passages), len(in))
	for i, p := range comp.Passages {
		assert.Equal(t, fmt.Sprintf("p%d", i), p.Chunk.ID)
	}
}

func TestComposeTruncatesOversizedTopPassage(t *testing.T) {
	c := NewComposer(Config{MaxTokens: 100, MaxPassageTokens: 20, SimilarityThreshold: 0.3}, testBrands, wordCounter{})

	comp, err := c.Compose(session(), []models.RetrievedPassage{passage("big", 0.9, strings.Repeat("w ", 80))}, "q")
	require.NoError(t, err)
	require.Len(t, comp.Passages, 1)
	assert.Less(t, len(strings.Fields(comp.Passages[0].Chunk.Text)), 20)
}

func TestComposeHistoryNewestFirst(t *testing.T) {
	c := NewComposer(Config{MaxTokens: 1000, MaxHistoryTurns: 2, SimilarityThreshold: 0.3}, testBrands, wordCounter{})

	s := session("one", "two", "three", "four", "current question")
	comp, err := c.Compose(s, nil, "current question")
	require.NoError(t, err)

	msgs := comp.Prompt.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Content)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "four", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "current question", msgs[2].Content)
	assert.Equal(t, 2, comp.HistoryTurns)
}

func TestComposeNeverExceedsCeiling(t *testing.T) {
	turns := make([]string, 30)
	for i := range turns {
		turns[i] = strings.Repeat("h ", 15)
	}
	var passages []models.RetrievedPassage
	for i := 0; i < 10; i++ {
		passages = append(passages, passage(fmt.Sprintf("p%d", i), 0.8, strings.Repeat("p ", 25)))
	}

	for _, max := range []int{20, 50, 120, 400, 2000} {
		c := NewComposer(Config{MaxTokens: max, MaxPassageTokens: max / 2, MaxHistoryTurns: 20, SimilarityThreshold: 0.3}, testBrands, wordCounter{})
		comp, err := c.Compose(session(turns...), passages, strings.Repeat("u ", 40))
		require.NoError(t, err, "max %d", max)
		assert.LessOrEqual(t, comp.Tokens, max, "max %d", max)
		last := comp.Prompt.Messages[len(comp.Prompt.Messages)-1]
		assert.Equal(t, "user", last.Role)
		assert.NotEmpty(t, last.Content)
	}
}

func TestComposeBudgetTooSmall(t *testing.T) {
	c := NewComposer(Config{MaxTokens: 3}, testBrands, wordCounter{})
	_, err := c.Compose(session(), nil, "hello")
	assert.ErrorIs(t, err, ErrBudgetTooSmall)
}

func TestComposeDefaultInstructionsUseBrandName(t *testing.T) {
	brands := []config.BrandConfig{{ID: "y", Name: "Yonder", ContactInfo: "hola@yonder.example"}}
	c := NewComposer(Config{MaxTokens: 500}, brands, EstimateCounter{})

	s := models.NewSession(models.SessionKey{UserID: "u", BrandID: "y"}, time.Now())
	comp, err := c.Compose(s, nil, "hi")
	require.NoError(t, err)
	assert.Contains(t, comp.Prompt.System, "Yonder")
	assert.Contains(t, comp.Prompt.System, "hola@yonder.example")
}

func TestEstimateCounter(t *testing.T) {
	var c EstimateCounter
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 3, c.Count("a b c"))
	assert.Equal(t, 5, c.Count("abcdefghijklmnopqrst"))
}

func TestTruncateTokens(t *testing.T) {
	assert.Equal(t, "a b", truncateTokens(wordCounter{}, "a b c d", 2))
	assert.Equal(t, "a b c d", truncateTokens(wordCounter{}, "a b c d", 10))
	assert.Equal(t, "", truncateTokens(wordCounter{}, "a b", 0))
}
