// Package orchestrator runs one conversation turn: it serialises turns per
// session, retrieves context, falls back to web search, generates the reply and
// persists the session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/intent"
	"github.com/brand-assistant/backend/internal/llm"
	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/prompt"
	"github.com/brand-assistant/backend/internal/retrieval"
	"github.com/brand-assistant/backend/internal/scheduling"
	"github.com/brand-assistant/backend/internal/search/web"
	"github.com/brand-assistant/backend/internal/session"
	storagemodels "github.com/brand-assistant/backend/internal/storage/models"
	"github.com/brand-assistant/backend/pkg/config"
	"github.com/brand-assistant/backend/pkg/logger"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownBrand   = errors.New("unknown brand")
)

// persistTimeout bounds saves and audit writes that run after the turn deadline.
const persistTimeout = 5 * time.Second

type Retriever interface {
	Retrieve(ctx context.Context, query, brandID string, k int) ([]models.RetrievedPassage, error)
}

type Composer interface {
	Compose(s *models.ConversationSession, passages []models.RetrievedPassage, userMessage string) (*prompt.Composition, error)
}

type WebSearch interface {
	Lookup(ctx context.Context, query string) web.Outcome
}

type Scheduler interface {
	Propose(ctx context.Context, now time.Time) scheduling.Outcome
	Render(o scheduling.Outcome, link string) string
}

type AuditLog interface {
	RecordInteraction(ctx context.Context, record *storagemodels.Interaction) error
}

type Message struct {
	UserID  string `json:"user_id"`
	BrandID string `json:"brand_id"`
	Text    string `json:"text"`
}

type Reply struct {
	ID            string                    `json:"id"`
	Text          string                    `json:"text"`
	State         State                     `json:"state"`
	Trace         []State                   `json:"trace"`
	Intent        intent.Intent             `json:"intent"`
	Passages      []models.RetrievedPassage `json:"passages,omitempty"`
	UsedWebSearch bool                      `json:"used_web_search"`
	Provider      string                    `json:"provider,omitempty"`
	Fallbacks     int                       `json:"fallbacks"`
	LatencyMS     int64                     `json:"latency_ms"`
	// Muted replies carry no text and must not be delivered.
	Muted bool `json:"muted,omitempty"`
}

type Config struct {
	Deadline         time.Duration
	MaxTurns         int
	K                int
	Params           llm.Params
	ApologyText      string
	NoContextText    string
	ResetSuggestText string
	FarewellText     string
	NoContextStreak  int
	CollectLeads     bool
	OptOutText       string
	OptInText        string
}

func ConfigFrom(c *config.Config) Config {
	return Config{
		Deadline:         c.Turn.Deadline(),
		MaxTurns:         c.Session.MaxTurns,
		K:                c.RAG.DefaultK,
		Params:           llm.ParamsFromConfig(c.LLM),
		ApologyText:      c.Turn.ApologyText,
		NoContextText:    c.Turn.NoContextText,
		ResetSuggestText: c.Turn.ResetSuggestText,
		FarewellText:     c.Turn.FarewellText,
		NoContextStreak:  c.Turn.NoContextStreak,
		CollectLeads:     c.Turn.CollectLeads,
		OptOutText:       c.Turn.OptOutText,
		OptInText:        c.Turn.OptInText,
	}
}

// Deps are the collaborators of an Engine. Search, Scheduler, Audit and Leads
// are optional.
type Deps struct {
	Store      session.Store
	Locker     *session.Locker
	Retriever  Retriever
	Composer   Composer
	Generator  llm.Generator
	Search     WebSearch
	Scheduler  Scheduler
	Classifier intent.Classifier
	Audit      AuditLog
	Leads      LeadSink
	Brands     []config.BrandConfig
	Logger     *zap.Logger
	Now        func() time.Time
}

type Engine struct {
	cfg    Config
	deps   Deps
	brands map[string]config.BrandConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 90 * time.Second
	}
	if cfg.NoContextStreak <= 0 {
		cfg.NoContextStreak = 2
	}
	if cfg.ApologyText == "" {
		cfg.ApologyText = "Sorry, I could not process your message right now. Please try again in a moment."
	}
	if cfg.OptOutText == "" {
		cfg.OptOutText = "You have been unsubscribed. Send START to subscribe again."
	}
	if cfg.OptInText == "" {
		cfg.OptInText = "Welcome back! How can I help you?"
	}
	if deps.Locker == nil {
		deps.Locker = session.NewLocker()
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewKeywordClassifier()
	}

	log := deps.Logger
	if log == nil {
		log = logger.Named("orchestrator")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	brands := make(map[string]config.BrandConfig, len(deps.Brands))
	for _, b := range deps.Brands {
		brands[b.ID] = b
	}

	return &Engine{cfg: cfg, deps: deps, brands: brands, log: log, now: now}
}

// Handle runs one turn. The error is reserved for messages that cannot be
// processed at all; every other failure yields a FAILED reply carrying the
// apology text.
func (e *Engine) Handle(ctx context.Context, msg Message) (*Reply, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.UserID == "" || msg.Text == "" {
		return nil, fmt.Errorf("%w: user id and text are required", ErrInvalidMessage)
	}
	brand, ok := e.brands[msg.BrandID]
	if !ok && len(e.brands) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBrand, msg.BrandID)
	}
	if !ok {
		brand = config.BrandConfig{ID: msg.BrandID, Name: msg.BrandID}
	}

	start := e.now()
	t := &turn{
		msg:   msg,
		brand: brand,
		key:   models.SessionKey{UserID: msg.UserID, BrandID: msg.BrandID},
		reply: &Reply{ID: uuid.New().String(), State: StateReceived, Trace: []State{StateReceived}},
		log:   e.log.With(zap.String("brand_id", msg.BrandID), zap.String("user_id", msg.UserID)),
	}

	// the deadline covers processing only, not time queued on the lock
	unlock, err := e.deps.Locker.Lock(ctx, t.key)
	if err != nil {
		e.fail(t, "acquire session lock", err)
		return e.finish(ctx, t, start), nil
	}
	defer unlock()
	metrics.SessionLockWait.Observe(e.now().Sub(start).Seconds())

	turnCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	e.run(turnCtx, t)
	return e.finish(ctx, t, start), nil
}

// turn carries the mutable state of one Handle call.
type turn struct {
	msg     Message
	brand   config.BrandConfig
	key     models.SessionKey
	reply   *Reply
	log     *zap.Logger
	session *models.ConversationSession
	cause   error
}

func (t *turn) enter(s State) {
	if !CanTransition(t.reply.State, s) {
		t.log.Error("Invalid state transition", zap.String("from", string(t.reply.State)), zap.String("to", string(s)))
	}
	t.reply.State = s
	t.reply.Trace = append(t.reply.Trace, s)
}

func (e *Engine) run(ctx context.Context, t *turn) {
	sess, err := e.deps.Store.Load(ctx, t.key)
	if err != nil {
		// without the session nothing can be persisted safely
		e.fail(t, "load session", err)
		return
	}
	t.session = sess

	t.reply.Intent = e.deps.Classifier.Classify(t.msg.Text)
	if sess.Unsubscribed && t.reply.Intent != intent.OptIn {
		t.reply.Muted = true
		t.enter(StateReplied)
		t.log.Debug("Session unsubscribed, reply muted")
		return
	}
	switch t.reply.Intent {
	case intent.Reset:
		e.reset(ctx, t)
		return
	case intent.Exit:
		e.exit(ctx, t)
		return
	case intent.OptOut:
		e.setSubscribed(ctx, t, false)
		return
	case intent.OptIn:
		e.setSubscribed(ctx, t, true)
		return
	}

	if sess.LeadStage != "" {
		if _, known := leadPrompts[sess.LeadStage]; known {
			e.collectLead(ctx, t)
			return
		}
		sess.LeadStage = ""
	}
	if t.reply.Intent == intent.Scheduling && e.cfg.CollectLeads && e.deps.Scheduler != nil && sess.Lead.Missing() != "" {
		e.startLeadCollection(ctx, t)
		return
	}

	now := e.now()
	sess.AppendTurn(models.Turn{Role: models.RoleUser, Text: t.msg.Text, Timestamp: now}, e.cfg.MaxTurns)
	sess.LastIntent = string(t.reply.Intent)

	t.enter(StateRetrieving)
	passages, err := e.deps.Retriever.Retrieve(ctx, t.msg.Text, t.msg.BrandID, e.cfg.K)
	if err != nil {
		if !errors.Is(err, retrieval.ErrUnavailable) {
			e.failAndPersist(ctx, t, "retrieve", err)
			return
		}
		t.log.Warn("Retrieval unavailable, continuing without knowledge base", zap.Error(err))
		passages = nil
	}

	if len(passages) == 0 {
		t.enter(StateAugmentingWithSearch)
		if e.deps.Search != nil {
			outcome := e.deps.Search.Lookup(ctx, t.msg.Text)
			if outcome.Status == web.StatusOK {
				passages = outcome.Passages(t.msg.BrandID)
				t.reply.UsedWebSearch = true
			}
			t.log.Info("Web search fallback", zap.String("status", string(outcome.Status)), zap.Int("hits", len(outcome.Hits)))
		}
	}

	t.enter(StateComposing)
	comp, err := e.deps.Composer.Compose(sess, passages, t.msg.Text)
	if err != nil {
		e.failAndPersist(ctx, t, "compose prompt", err)
		return
	}
	t.reply.Passages = comp.Passages

	t.enter(StateGenerating)
	gen, err := e.deps.Generator.Generate(ctx, comp.Prompt, e.cfg.Params)
	if gen != nil {
		t.reply.Fallbacks = gen.Fallbacks
	}
	if err != nil {
		e.failAndPersist(ctx, t, "generate", err)
		return
	}
	t.reply.Provider = gen.Provider

	text := strings.TrimSpace(gen.Text)
	text = e.applyNoContextPolicy(sess, comp.Passages, text)

	if t.reply.Intent == intent.Contact && t.brand.ContactInfo != "" && !strings.Contains(text, t.brand.ContactInfo) {
		text += "\n\n" + t.brand.ContactInfo
	}

	if t.reply.Intent == intent.Scheduling {
		if proposal := e.proposeMeeting(ctx, t); proposal != "" {
			text += "\n\n" + proposal
		}
	}

	sess.AppendTurn(models.Turn{
		Role:              models.RoleAssistant,
		Text:              text,
		Timestamp:         e.now(),
		RetrievedChunkIDs: chunkIDs(comp.Passages),
	}, e.cfg.MaxTurns)

	if err := e.save(ctx, sess); err != nil {
		e.fail(t, "save session", err)
		return
	}

	t.reply.Text = text
	t.enter(StateReplied)
}

// applyNoContextPolicy tracks consecutive turns answered without any passage
// and appends the reset suggestion once the streak reaches the limit.
func (e *Engine) applyNoContextPolicy(sess *models.ConversationSession, passages []models.RetrievedPassage, text string) string {
	if len(passages) > 0 {
		sess.NoContextStreak = 0
		return text
	}
	if text == "" {
		text = e.cfg.NoContextText
	}
	sess.NoContextStreak++
	if sess.NoContextStreak >= e.cfg.NoContextStreak {
		sess.NoContextStreak = 0
		if e.cfg.ResetSuggestText != "" {
			text += "\n\n" + e.cfg.ResetSuggestText
		}
	}
	return text
}

// proposeMeeting renders the scheduler's slots, or "" without a scheduler.
func (e *Engine) proposeMeeting(ctx context.Context, t *turn) string {
	if e.deps.Scheduler == nil {
		return ""
	}
	t.enter(StateScheduling)
	outcome := e.deps.Scheduler.Propose(ctx, e.now())
	return e.deps.Scheduler.Render(outcome, t.brand.SchedulingLink)
}

// replyDirect answers without retrieval or generation, recording both sides
// of the exchange in the history.
func (e *Engine) replyDirect(ctx context.Context, t *turn, text string) {
	sess := t.session
	sess.LastIntent = string(t.reply.Intent)
	sess.AppendTurn(models.Turn{Role: models.RoleUser, Text: t.msg.Text, Timestamp: e.now()}, e.cfg.MaxTurns)
	sess.AppendTurn(models.Turn{Role: models.RoleAssistant, Text: text, Timestamp: e.now()}, e.cfg.MaxTurns)
	if err := e.save(ctx, sess); err != nil {
		e.fail(t, "save session", err)
		return
	}
	t.reply.Text = text
	t.enter(StateReplied)
}

func (e *Engine) setSubscribed(ctx context.Context, t *turn, subscribed bool) {
	t.session.Unsubscribed = !subscribed
	t.session.LeadStage = ""
	t.session.UpdatedAt = e.now()
	if err := e.save(ctx, t.session); err != nil {
		e.fail(t, "save session", err)
		return
	}

	metrics.SubscriptionChanges.WithLabelValues(string(t.reply.Intent)).Inc()
	t.log.Info("Subscription changed", zap.Bool("subscribed", subscribed))
	t.reply.Text = e.cfg.OptInText
	if !subscribed {
		t.reply.Text = e.cfg.OptOutText
	}
	t.enter(StateReplied)
}

func (e *Engine) reset(ctx context.Context, t *turn) {
	t.session.Reset(e.now())
	if err := e.save(ctx, t.session); err != nil {
		e.fail(t, "save session", err)
		return
	}
	t.reply.Text = e.greeting(t.brand)
	t.enter(StateReplied)
}

func (e *Engine) exit(ctx context.Context, t *turn) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.deps.Store.Delete(dctx, t.key); err != nil {
		e.fail(t, "delete session", err)
		return
	}
	t.reply.Text = e.cfg.FarewellText
	if t.reply.Text == "" {
		t.reply.Text = "Goodbye!"
	}
	t.enter(StateReplied)
}

func (e *Engine) greeting(b config.BrandConfig) string {
	if b.Greeting != "" {
		return b.Greeting
	}
	name := b.Name
	if name == "" {
		name = b.ID
	}
	return fmt.Sprintf("Hi! I am the %s assistant. How can I help you?", name)
}

// save persists even when the turn deadline has passed.
func (e *Engine) save(ctx context.Context, sess *models.ConversationSession) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return e.deps.Store.Save(sctx, sess)
}

func (e *Engine) fail(t *turn, step string, err error) {
	t.cause = err
	t.reply.Text = e.cfg.ApologyText
	t.enter(StateFailed)
	t.log.Error("Turn failed", zap.String("step", step), zap.Error(err))
}

// failAndPersist keeps the user's turn so the next message has its context, but
// adds no assistant turn.
func (e *Engine) failAndPersist(ctx context.Context, t *turn, step string, err error) {
	e.fail(t, step, err)
	if serr := e.save(ctx, t.session); serr != nil {
		t.log.Error("Failed to persist session after failure", zap.Error(serr))
	}
}

func (e *Engine) finish(ctx context.Context, t *turn, start time.Time) *Reply {
	elapsed := e.now().Sub(start)
	t.reply.LatencyMS = elapsed.Milliseconds()

	metrics.TurnsTotal.WithLabelValues(t.msg.BrandID, string(t.reply.State)).Inc()
	metrics.TurnDuration.WithLabelValues(string(t.reply.State)).Observe(elapsed.Seconds())

	if e.deps.Audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := e.deps.Audit.RecordInteraction(actx, e.interaction(t)); err != nil {
			t.log.Warn("Failed to record interaction", zap.Error(err))
		}
	}

	t.log.Info("Turn finished",
		zap.String("turn_id", t.reply.ID),
		zap.String("state", string(t.reply.State)),
		zap.String("intent", string(t.reply.Intent)),
		zap.Int("passages", len(t.reply.Passages)),
		zap.Bool("web_search", t.reply.UsedWebSearch),
		zap.String("provider", t.reply.Provider),
		zap.Bool("muted", t.reply.Muted),
		zap.Int64("latency_ms", t.reply.LatencyMS),
	)
	return t.reply
}

func (e *Engine) interaction(t *turn) *storagemodels.Interaction {
	rec := &storagemodels.Interaction{
		ID:            t.reply.ID,
		UserID:        t.msg.UserID,
		BrandID:       t.msg.BrandID,
		Intent:        string(t.reply.Intent),
		MessageText:   t.msg.Text,
		Response:      t.reply.Text,
		FinalState:    string(t.reply.State),
		Provider:      t.reply.Provider,
		Fallbacks:     t.reply.Fallbacks,
		PassageCount:  len(t.reply.Passages),
		WebSearchUsed: t.reply.UsedWebSearch,
		LatencyMS:     t.reply.LatencyMS,
		CreatedAt:     e.now(),
	}
	for _, p := range t.reply.Passages {
		sourceType := "vector"
		if p.Synthetic {
			sourceType = "web"
		} else if p.Score > rec.TopScore {
			rec.TopScore = p.Score
		}
		rec.Sources = append(rec.Sources, storagemodels.InteractionSource{
			InteractionID: rec.ID,
			SourceType:    sourceType,
			SourceURI:     p.Chunk.SourceURI,
			ChunkID:       p.Chunk.ID,
			Score:         p.Score,
		})
	}
	return rec
}

func chunkIDs(passages []models.RetrievedPassage) []string {
	var ids []string
	for _, p := range passages {
		if !p.Synthetic {
			ids = append(ids, p.Chunk.ID)
		}
	}
	return ids
}
