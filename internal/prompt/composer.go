// Package prompt assembles bounded chat prompts from brand instructions,
// retrieved passages and conversation history.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/brand-assistant/backend/internal/llm"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/retrieval"
	"github.com/brand-assistant/backend/pkg/config"
)

// ErrBudgetTooSmall means the brand instructions alone fill the token ceiling.
var ErrBudgetTooSmall = errors.New("prompt token budget too small")

type Config struct {
	MaxTokens           int
	MaxPassageTokens    int
	MaxHistoryTurns     int
	SimilarityThreshold float64
}

func ConfigFrom(p config.PromptConfig, rag config.RAGConfig) Config {
	return Config{
		MaxTokens:           p.MaxTokens,
		MaxPassageTokens:    p.MaxPassageTokens,
		MaxHistoryTurns:     p.MaxHistoryTurns,
		SimilarityThreshold: rag.SimilarityThreshold,
	}
}

// Composition is a prompt plus what went into it.
type Composition struct {
	Prompt       llm.Prompt
	Passages     []models.RetrievedPassage
	HistoryTurns int
	Tokens       int
}

type Composer struct {
	cfg     Config
	brands  map[string]config.BrandConfig
	counter TokenCounter
}

func NewComposer(cfg Config, brands []config.BrandConfig, counter TokenCounter) *Composer {
	if counter == nil {
		counter = EstimateCounter{}
	}
	if cfg.MaxPassageTokens <= 0 || cfg.MaxPassageTokens > cfg.MaxTokens {
		cfg.MaxPassageTokens = cfg.MaxTokens
	}
	m := make(map[string]config.BrandConfig, len(brands))
	for _, b := range brands {
		m[b.ID] = b
	}
	return &Composer{cfg: cfg, brands: m, counter: counter}
}

// Compose builds the prompt for userMessage. If the session already ends with a
// user turn carrying userMessage, that turn is the current message and is not
// repeated as history. The total, as measured by the counter, never exceeds
// MaxTokens.
func (c *Composer) Compose(session *models.ConversationSession, passages []models.RetrievedPassage, userMessage string) (*Composition, error) {
	instructions := c.instructions(session.BrandID)
	base := c.counter.Count(instructions)
	if base >= c.cfg.MaxTokens {
		return nil, fmt.Errorf("%w: instructions use %d of %d tokens", ErrBudgetTooSmall, base, c.cfg.MaxTokens)
	}

	user := truncateTokens(c.counter, strings.TrimSpace(userMessage), c.cfg.MaxTokens-base)
	remaining := c.cfg.MaxTokens - base - c.counter.Count(user)

	admitted := c.admitPassages(c.rank(passages), min(c.cfg.MaxPassageTokens, remaining))
	history := c.admitHistory(historyTurns(session, userMessage), remaining-c.passageCost(admitted))

	for {
		p := c.assemble(instructions, admitted, history, user)
		total := c.promptTokens(p)
		if total <= c.cfg.MaxTokens {
			return &Composition{Prompt: p, Passages: admitted, HistoryTurns: len(history), Tokens: total}, nil
		}
		// counters are not additive across joins; shed from the least valuable end
		switch {
		case len(history) > 0:
			history = history[1:]
		case len(admitted) > 0:
			admitted = admitted[:len(admitted)-1]
		default:
			user = truncateTokens(c.counter, user, c.counter.Count(user)-(total-c.cfg.MaxTokens))
		}
	}
}

func (c *Composer) instructions(brandID string) string {
	b, ok := c.brands[brandID]
	if !ok {
		b = config.BrandConfig{ID: brandID, Name: brandID}
	}
	if b.SystemPrompt != "" {
		return b.SystemPrompt
	}

	name := b.Name
	if name == "" {
		name = brandID
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the virtual assistant of %s. ", name)
	sb.WriteString("Answer using the numbered context passages when they are relevant and cite them as [n]. ")
	sb.WriteString("If the context does not contain the answer, say so briefly and offer to help with something else. ")
	sb.WriteString("Reply in the language the user writes in. Be concise.")
	if b.ContactInfo != "" {
		fmt.Fprintf(&sb, "\nContact information: %s", b.ContactInfo)
	}
	return sb.String()
}

// rank drops passages under the threshold, keeps the best copy of each chunk id,
// and orders scored passages by descending similarity ahead of synthetic ones.
func (c *Composer) rank(passages []models.RetrievedPassage) []models.RetrievedPassage {
	best := make(map[string]int, len(passages))
	var out []models.RetrievedPassage
	for _, p := range passages {
		if !p.Synthetic && p.Score < c.cfg.SimilarityThreshold {
			continue
		}
		if i, ok := best[p.Chunk.ID]; ok {
			if p.Score > out[i].Score {
				out[i] = p
			}
			continue
		}
		best[p.Chunk.ID] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Synthetic != out[j].Synthetic {
			return !out[i].Synthetic
		}
		if out[i].Synthetic {
			return false
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// admitPassages takes passages best-first while they fit. The first one is
// truncated rather than dropped; after that the tail is cut.
func (c *Composer) admitPassages(ranked []models.RetrievedPassage, budget int) []models.RetrievedPassage {
	var out []models.RetrievedPassage
	used := c.counter.Count(contextHeader)
	for _, p := range ranked {
		cost := c.counter.Count(entry(p))
		if used+cost <= budget {
			out = append(out, p)
			used += cost
			continue
		}
		if len(out) == 0 {
			overhead := c.counter.Count(entry(withText(p, "")))
			if text := truncateTokens(c.counter, p.Chunk.Text, budget-used-overhead); text != "" {
				out = append(out, withText(p, text))
			}
		}
		break
	}
	return out
}

func (c *Composer) passageCost(passages []models.RetrievedPassage) int {
	if len(passages) == 0 {
		return 0
	}
	cost := c.counter.Count(contextHeader)
	for _, p := range passages {
		cost += c.counter.Count(entry(p))
	}
	return cost
}

// admitHistory keeps the newest turns that fit, in chronological order.
func (c *Composer) admitHistory(turns []models.Turn, budget int) []models.Turn {
	if c.cfg.MaxHistoryTurns > 0 && len(turns) > c.cfg.MaxHistoryTurns {
		turns = turns[len(turns)-c.cfg.MaxHistoryTurns:]
	}
	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := c.counter.Count(turns[i].Text)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return turns[start:]
}

const contextHeader = "Context:"

func (c *Composer) assemble(instructions string, passages []models.RetrievedPassage, history []models.Turn, user string) llm.Prompt {
	system := instructions
	if len(passages) > 0 {
		system += "\n\n" + contextHeader + "\n" + retrieval.FormatContext(passages)
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: string(models.RoleUser), Content: user})
	return llm.Prompt{System: system, Messages: msgs}
}

func (c *Composer) promptTokens(p llm.Prompt) int {
	total := c.counter.Count(p.System)
	for _, m := range p.Messages {
		total += c.counter.Count(m.Content)
	}
	return total
}

func historyTurns(session *models.ConversationSession, userMessage string) []models.Turn {
	turns := session.Turns
	if n := len(turns); n > 0 && turns[n-1].Role == models.RoleUser &&
		strings.TrimSpace(turns[n-1].Text) == strings.TrimSpace(userMessage) {
		turns = turns[:n-1]
	}
	return turns
}

func entry(p models.RetrievedPassage) string {
	return retrieval.FormatContext([]models.RetrievedPassage{p})
}

func withText(p models.RetrievedPassage, text string) models.RetrievedPassage {
	p.Chunk.Text = text
	return p
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
