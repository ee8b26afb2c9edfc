// Package app builds the service graph from configuration. Both binaries share
// it so the API server and the ingest CLI see the same index and embedder.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	rediscache "github.com/brand-assistant/backend/internal/cache/redis"
	"github.com/brand-assistant/backend/internal/embedding"
	"github.com/brand-assistant/backend/internal/ingestion"
	"github.com/brand-assistant/backend/internal/intent"
	"github.com/brand-assistant/backend/internal/llm"
	"github.com/brand-assistant/backend/internal/orchestrator"
	"github.com/brand-assistant/backend/internal/prompt"
	"github.com/brand-assistant/backend/internal/retrieval"
	"github.com/brand-assistant/backend/internal/scheduling"
	"github.com/brand-assistant/backend/internal/search/web"
	"github.com/brand-assistant/backend/internal/session"
	"github.com/brand-assistant/backend/internal/storage/sqlite"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/internal/vector/chromem"
	"github.com/brand-assistant/backend/internal/vector/neo4j"
	"github.com/brand-assistant/backend/internal/vector/pgvector"
	"github.com/brand-assistant/backend/internal/vector/zilliz"
	"github.com/brand-assistant/backend/pkg/config"
	"github.com/brand-assistant/backend/pkg/logger"
)

// App holds every long-lived component. Optional parts are nil when disabled.
type App struct {
	Config    *config.Config
	Engine    *orchestrator.Engine
	Processor *ingestion.Processor
	Retriever *retrieval.Retriever
	Sessions  session.Store
	Audit     *sqlite.Client
	Redis     *rediscache.Client

	memory  *session.MemoryStore
	checks  map[string]func(context.Context) error
	closers []func() error
}

// New connects to every configured backend. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, checks: make(map[string]func(context.Context) error)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}
	if err := a.openAudit(); err != nil {
		return nil, err
	}

	index, err := a.openIndex(ctx)
	if err != nil {
		return nil, err
	}

	embedder := a.newEmbedder()

	chunker, err := ingestion.NewChunker(ingestion.ChunkerConfigFrom(cfg.Chunking))
	if err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}
	var registry ingestion.Registry
	if a.Audit != nil {
		registry = a.Audit
	}
	a.Processor = ingestion.NewProcessor(chunker, embedder, index, registry, ingestion.ProcessorConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
	})

	a.Retriever = retrieval.NewRetriever(embedder, index, retrieval.ConfigFrom(cfg.RAG))

	switch cfg.Session.Backend {
	case "redis":
		if a.Redis == nil {
			return nil, errors.New("session backend redis requires a redis connection")
		}
		a.Sessions = session.NewRedisStore(a.Redis.Redis(), cfg.Session.TTL())
	case "memory", "":
		a.memory = session.NewMemoryStore(cfg.Session.TTL())
		a.Sessions = a.memory
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	scheduler, err := newScheduler(cfg.Scheduling)
	if err != nil {
		return nil, err
	}

	deps := orchestrator.Deps{
		Store:      a.Sessions,
		Locker:     session.NewLocker(),
		Retriever:  a.Retriever,
		Composer:   prompt.NewComposer(prompt.ConfigFrom(cfg.Prompt, cfg.RAG), cfg.Brands, prompt.NewCounter(cfg.Prompt.Tokenizer, cfg.Prompt.Encoding)),
		Generator:  newGenerator(cfg.LLM),
		Scheduler:  scheduler,
		Classifier: intent.NewKeywordClassifier(),
		Brands:     cfg.Brands,
	}
	if cfg.Search.Enabled {
		deps.Search = web.NewFallback(web.NewClient(web.ClientConfigFrom(cfg.Search)))
	}
	if a.Audit != nil {
		deps.Audit = a.Audit
		deps.Leads = a.Audit
	}
	a.Engine = orchestrator.NewEngine(orchestrator.ConfigFrom(cfg), deps)

	logger.Info("Application initialized",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("session_backend", cfg.Session.Backend),
		zap.Int("brands", len(cfg.Brands)),
		zap.Int("llm_providers", len(cfg.LLM.Providers)),
		zap.Bool("web_search", cfg.Search.Enabled),
		zap.Bool("audit", a.Audit != nil),
	)
	return a, nil
}

// Run starts background maintenance and blocks until ctx is done.
func (a *App) Run(ctx context.Context) {
	if a.memory != nil {
		a.memory.Run(ctx, time.Minute)
		return
	}
	<-ctx.Done()
}

// Ready pings every backend that can be pinged. The result maps component
// name to its error, nil meaning healthy.
func (a *App) Ready(ctx context.Context) map[string]error {
	out := make(map[string]error, len(a.checks))
	for name, check := range a.checks {
		out[name] = check(ctx)
	}
	return out
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) connectRedis(ctx context.Context) error {
	needed := a.Config.Session.Backend == "redis" || a.Config.Embedding.CacheTTLSec > 0
	if !needed {
		return nil
	}
	client, err := rediscache.NewClient(ctx, a.Config.Redis.Addr(), a.Config.Redis.Password, a.Config.Redis.DB)
	if err != nil {
		if a.Config.Session.Backend == "redis" {
			return err
		}
		logger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		return nil
	}
	a.Redis = client
	a.checks["redis"] = client.Ping
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *App) openAudit() error {
	if !a.Config.SQLite.Enabled {
		return nil
	}
	client, err := sqlite.NewClient(a.Config.SQLite.Path)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	if err := client.InitSchema(); err != nil {
		return err
	}
	a.Audit = client
	a.checks["sqlite"] = client.Ping
	return nil
}

func (a *App) openIndex(ctx context.Context) (vector.Index, error) {
	cfg := a.Config.Vector
	dim := a.Config.Embedding.Dimension

	switch cfg.Backend {
	case "milvus", "zilliz":
		client, err := zilliz.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, dim, cfg.Milvus.IndexType)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if err := client.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return client, nil

	case "chromem":
		if cfg.Chromem.PersistDir == "" {
			return chromem.New(), nil
		}
		ix, err := chromem.NewPersistent(cfg.Chromem.PersistDir, false)
		if err != nil {
			return nil, err
		}
		return ix, nil

	case "pgvector":
		ix, err := pgvector.Open(ctx, cfg.PGVector.DSN, cfg.PGVector.Table, dim)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ix.Close)
		if err := ix.InitSchema(ctx); err != nil {
			return nil, err
		}
		return ix, nil

	case "neo4j":
		ix, err := neo4j.NewIndex(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, cfg.Neo4j.IndexName, dim, cfg.Neo4j.BrandOverscan)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return ix.Close(context.Background()) })
		if err := ix.InitSchema(ctx); err != nil {
			return nil, err
		}
		return ix, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
}

func (a *App) newEmbedder() embedding.Embedder {
	cfg := a.Config.Embedding
	var emb embedding.Embedder = llm.NewClient(llm.ClientConfig{
		Name:           "embeddings",
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.Model,
		HTTPClient:     &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	})
	if a.Redis != nil && cfg.CacheTTLSec > 0 {
		emb = embedding.NewCachedEmbedder(emb, a.Redis, cfg.Model, time.Duration(cfg.CacheTTLSec)*time.Second)
	}
	return emb
}

func newGenerator(cfg config.LLMConfig) *llm.FallbackGenerator {
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, llm.NewClient(llm.ClientConfig{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
			Referer: p.Referer,
			Title:   p.Title,
		}))
	}
	return llm.NewFallbackGenerator(llm.GeneratorConfig{
		Timeout:         cfg.Timeout(),
		RetryBackoff:    time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		BreakerFailures: cfg.BreakerFailures,
		BreakerReset:    time.Duration(cfg.BreakerResetSec) * time.Second,
		BreakerWindow:   time.Duration(cfg.BreakerWindowSec) * time.Second,
	}, providers...)
}

func newScheduler(cfg config.SchedulingConfig) (orchestrator.Scheduler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduling timezone %q: %w", cfg.Timezone, err)
	}

	var provider scheduling.SlotProvider
	if cfg.CalendlyAPIKey != "" && cfg.EventTypeURI != "" {
		provider = scheduling.NewCalendlyClient(scheduling.CalendlyConfig{
			APIKey:       cfg.CalendlyAPIKey,
			BaseURL:      cfg.CalendlyBaseURL,
			EventTypeURI: cfg.EventTypeURI,
			Timeout:      time.Duration(cfg.TimeoutSec) * time.Second,
		})
	}
	return scheduling.NewAdvisor(provider, scheduling.AdvisorConfig{
		DaysToCheck: cfg.DaysToCheck,
		MaxSlots:    cfg.MaxSlots,
		GeneralLink: cfg.GeneralLink,
		Location:    loc,
	}), nil
}
