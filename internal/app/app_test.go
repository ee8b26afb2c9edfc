package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/pkg/config"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		RAG:      config.RAGConfig{DefaultK: 4, FetchMultiplier: 1, SimilarityThreshold: 0.3},
		Chunking: config.ChunkingConfig{Size: 100, Overlap: 10, Min: 20, Max: 150},
		Prompt:   config.PromptConfig{MaxTokens: 2000, Tokenizer: "estimate"},
		LLM: config.LLMConfig{
			TimeoutSec: 5,
			Providers:  []config.ProviderConfig{{Name: "local", BaseURL: "http://127.0.0.1:1", Model: "test"}},
		},
		Embedding:  config.EmbeddingConfig{BaseURL: "http://127.0.0.1:1", Model: "test", Dimension: 8},
		Vector:     config.VectorConfig{Backend: "chromem"},
		Session:    config.SessionConfig{Backend: "memory", TTLSec: 60, MaxTurns: 20},
		SQLite:     config.SQLiteConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "audit.db")},
		Scheduling: config.SchedulingConfig{Enabled: true, Timezone: "UTC", GeneralLink: "https://calendly.com/acme"},
		Brands:     []config.BrandConfig{{ID: "acme", Name: "Acme"}},
	}
}

func TestNewWiresLocalBackends(t *testing.T) {
	a, err := New(context.Background(), localConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Processor)
	assert.NotNil(t, a.Retriever)
	assert.NotNil(t, a.Audit)
	assert.Nil(t, a.Redis)

	ready := a.Ready(context.Background())
	require.Contains(t, ready, "sqlite")
	assert.NoError(t, ready["sqlite"])
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := localConfig(t)
	cfg.Vector.Backend = "faiss"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown vector backend")

	cfg = localConfig(t)
	cfg.Session.Backend = "memcached"
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown session backend")
}

func TestNewSchedulerValidatesTimezone(t *testing.T) {
	_, err := newScheduler(config.SchedulingConfig{Enabled: true, Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	s, err := newScheduler(config.SchedulingConfig{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, s)
}
