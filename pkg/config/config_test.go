package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.RAG.DefaultK)
	assert.Equal(t, 0.3, cfg.RAG.SimilarityThreshold)
	assert.Equal(t, ChunkingConfig{Size: 1200, Overlap: 150, Min: 100, Max: 1800}, cfg.Chunking)
	assert.Equal(t, 90*time.Second, cfg.Turn.Deadline())
	assert.True(t, cfg.Turn.CollectLeads)
	assert.Contains(t, cfg.Turn.OptOutText, "START")
	assert.Equal(t, time.Hour, cfg.Session.TTL())
	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, "openrouter", cfg.LLM.Providers[0].Name)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 300, cfg.LLM.BreakerWindowSec)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := writeConfig(t, `
rag:
  similarityThreshold: 0.4
llm:
  providers:
    - name: openrouter
      baseUrl: https://openrouter.ai/api/v1
      model: primary-model
    - name: groq
      baseUrl: https://api.groq.com/openai/v1
      model: fallback-model
brands:
  - id: acme
    name: Acme
    schedulingLink: https://calendly.com/acme
`)
	t.Setenv("RAG_DEFAULT_K", "6")
	t.Setenv("BRAND_ASSISTANT_SESSION_BACKEND", "memory")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.RAG.DefaultK)
	assert.Equal(t, 0.4, cfg.RAG.SimilarityThreshold)
	assert.Equal(t, "memory", cfg.Session.Backend)
	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "groq", cfg.LLM.Providers[1].Name)

	brand, ok := cfg.Brand("acme")
	require.True(t, ok)
	assert.Equal(t, "https://calendly.com/acme", brand.SchedulingLink)
	_, ok = cfg.Brand("zeta")
	assert.False(t, ok)
}

func TestLoadRejectsInvalidChunking(t *testing.T) {
	dir := writeConfig(t, `
chunking:
  size: 100
  overlap: 100
  min: 10
  max: 200
`)
	_, err := Load(dir)
	assert.ErrorContains(t, err, "overlap")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RAG:      RAGConfig{DefaultK: 4, FetchMultiplier: 1, SimilarityThreshold: 0.3},
			Chunking: ChunkingConfig{Size: 100, Overlap: 10, Min: 20, Max: 150},
			LLM:      LLMConfig{Providers: defaultProviders()},
			Session:  SessionConfig{MaxTurns: 20},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"min above size", func(c *Config) { c.Chunking.Min = 101 }, "min"},
		{"zero k", func(c *Config) { c.RAG.DefaultK = 0 }, "defaultK"},
		{"threshold out of range", func(c *Config) { c.RAG.SimilarityThreshold = 1.5 }, "similarityThreshold"},
		{"no providers", func(c *Config) { c.LLM.Providers = nil }, "provider"},
		{"duplicate brand", func(c *Config) { c.Brands = []BrandConfig{{ID: "a"}, {ID: "a"}} }, "duplicate"},
		{"tiny history", func(c *Config) { c.Session.MaxTurns = 1 }, "maxTurns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
