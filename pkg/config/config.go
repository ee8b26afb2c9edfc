package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	RAG        RAGConfig
	Chunking   ChunkingConfig
	Prompt     PromptConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Vector     VectorConfig
	Session    SessionConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
	Search     SearchConfig
	Scheduling SchedulingConfig
	Turn       TurnConfig
	Brands     []BrandConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	RateLimitRPS   float64
	RateLimitBurst int
}

// RAGConfig tunes retrieval recall and precision.
type RAGConfig struct {
	DefaultK            int
	FetchMultiplier     int
	SimilarityThreshold float64
	MinPassageChars     int
	MinUniqueWords      int
	DedupePrefixChars   int
}

// ChunkingConfig bounds are measured in whitespace-delimited tokens.
type ChunkingConfig struct {
	Size    int
	Overlap int
	Min     int
	Max     int
}

type PromptConfig struct {
	MaxTokens        int
	MaxPassageTokens int
	MaxHistoryTurns  int
	Tokenizer        string
	Encoding         string
}

// LLMConfig holds generation parameters shared by every provider plus the ordered
// provider list. The first provider is the primary.
type LLMConfig struct {
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	TimeoutSec       int
	RetryBackoffMs   int
	BreakerFailures  int
	BreakerResetSec  int
	BreakerWindowSec int
	Providers        []ProviderConfig
}

type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Referer string
	Title   string
}

type EmbeddingConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Dimension   int
	BatchSize   int
	Concurrency int
	CacheTTLSec int
	TimeoutSec  int
}

type VectorConfig struct {
	Backend  string
	Milvus   MilvusConfig
	Chromem  ChromemConfig
	PGVector PGVectorConfig
	Neo4j    Neo4jConfig
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	IndexType      string
}

type ChromemConfig struct {
	PersistDir string
}

type PGVectorConfig struct {
	DSN   string
	Table string
}

type Neo4jConfig struct {
	URI           string
	Username      string
	Password      string
	Database      string
	IndexName     string
	BrandOverscan int
}

type SessionConfig struct {
	Backend  string
	TTLSec   int
	MaxTurns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path    string
	Enabled bool
}

type SearchConfig struct {
	Enabled         bool
	Provider        string
	SerpAPIKey      string
	SerpAPIEndpoint string
	DuckDuckGoURL   string
	MaxResults      int
	TimeoutSec      int
	RatePerSecond   float64
}

type SchedulingConfig struct {
	Enabled         bool
	CalendlyAPIKey  string
	CalendlyBaseURL string
	EventTypeURI    string
	GeneralLink     string
	DaysToCheck     int
	MaxSlots        int
	Timezone        string
	TimeoutSec      int
}

// TurnConfig governs one orchestrated conversation turn.
type TurnConfig struct {
	DeadlineSec      int
	ApologyText      string
	NoContextText    string
	ResetSuggestText string
	FarewellText     string
	NoContextStreak  int
	// CollectLeads asks for name, purpose, email and phone before the first
	// meeting proposal.
	CollectLeads bool
	OptOutText   string
	OptInText    string
}

type BrandConfig struct {
	ID             string
	Name           string
	SystemPrompt   string
	Greeting       string
	SchedulingLink string
	ContactInfo    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// envAliases binds the well-known flat environment names on top of the prefixed ones.
var envAliases = map[string]string{
	"rag.defaultK":            "RAG_DEFAULT_K",
	"rag.fetchMultiplier":     "RAG_K_FETCH_MULTIPLIER",
	"rag.similarityThreshold": "RAG_SIMILARITY_THRESHOLD",
	"chunking.size":           "CHUNK_SIZE",
	"chunking.overlap":        "CHUNK_OVERLAP",
	"chunking.min":            "MIN_CHUNK_SIZE",
	"chunking.max":            "MAX_CHUNK_SIZE",
	"llm.temperature":         "LLM_TEMPERATURE",
	"llm.maxTokens":           "LLM_MAX_TOKENS",
	"llm.topP":                "LLM_TOP_P",
	"llm.frequencyPenalty":    "LLM_FREQUENCY_PENALTY",
	"llm.presencePenalty":     "LLM_PRESENCE_PENALTY",
	"llm.timeoutSec":          "LLM_HTTP_TIMEOUT",
	"session.ttlSec":          "SESSION_TTL",
}

// Load reads config.yaml from the given directories (or the default search path),
// overlays environment variables and validates the result.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/etc/brand-assistant"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("BRAND_ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper("BRAND_ASSISTANT_"+strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.LLM.Providers) == 0 {
		config.LLM.Providers = defaultProviders()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects option combinations the pipeline cannot honour.
func (c *Config) Validate() error {
	ch := c.Chunking
	if ch.Overlap < 0 || ch.Overlap >= ch.Size {
		return fmt.Errorf("invalid chunking: overlap %d must be in [0, size %d)", ch.Overlap, ch.Size)
	}
	if ch.Min > ch.Size || ch.Size > ch.Max {
		return fmt.Errorf("invalid chunking: require min %d <= size %d <= max %d", ch.Min, ch.Size, ch.Max)
	}
	if c.RAG.DefaultK < 1 {
		return fmt.Errorf("invalid rag.defaultK %d", c.RAG.DefaultK)
	}
	if c.RAG.FetchMultiplier < 1 {
		return fmt.Errorf("invalid rag.fetchMultiplier %d", c.RAG.FetchMultiplier)
	}
	if c.RAG.SimilarityThreshold < -1 || c.RAG.SimilarityThreshold > 1 {
		return fmt.Errorf("invalid rag.similarityThreshold %v", c.RAG.SimilarityThreshold)
	}
	if len(c.LLM.Providers) == 0 {
		return errors.New("at least one llm provider is required")
	}
	if c.Session.MaxTurns < 2 {
		return fmt.Errorf("invalid session.maxTurns %d", c.Session.MaxTurns)
	}
	seen := make(map[string]bool, len(c.Brands))
	for _, b := range c.Brands {
		if b.ID == "" {
			return errors.New("brand without id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate brand id %q", b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// Brand returns the profile for id.
func (c *Config) Brand(id string) (BrandConfig, bool) {
	for _, b := range c.Brands {
		if b.ID == id {
			return b, true
		}
	}
	return BrandConfig{}, false
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func (c TurnConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSec) * time.Second
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:    "openrouter",
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "meta-llama/llama-3-8b-instruct",
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimitRps", 5)
	v.SetDefault("server.rateLimitBurst", 10)

	v.SetDefault("rag.defaultK", 4)
	v.SetDefault("rag.fetchMultiplier", 1)
	v.SetDefault("rag.similarityThreshold", 0.3)
	v.SetDefault("rag.minPassageChars", 20)
	v.SetDefault("rag.minUniqueWords", 3)
	v.SetDefault("rag.dedupePrefixChars", 100)

	v.SetDefault("chunking.size", 1200)
	v.SetDefault("chunking.overlap", 150)
	v.SetDefault("chunking.min", 100)
	v.SetDefault("chunking.max", 1800)

	v.SetDefault("prompt.maxTokens", 6000)
	v.SetDefault("prompt.maxPassageTokens", 3500)
	v.SetDefault("prompt.maxHistoryTurns", 20)
	v.SetDefault("prompt.tokenizer", "estimate")
	v.SetDefault("prompt.encoding", "cl100k_base")

	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 1000)
	v.SetDefault("llm.topP", 1.0)
	v.SetDefault("llm.frequencyPenalty", 0.0)
	v.SetDefault("llm.presencePenalty", 0.0)
	v.SetDefault("llm.timeoutSec", 45)
	v.SetDefault("llm.retryBackoffMs", 1000)
	v.SetDefault("llm.breakerFailures", 3)
	v.SetDefault("llm.breakerResetSec", 60)
	v.SetDefault("llm.breakerWindowSec", 300)

	v.SetDefault("embedding.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batchSize", 100)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.cacheTtlSec", 86400)
	v.SetDefault("embedding.timeoutSec", 30)

	v.SetDefault("vector.backend", "milvus")
	v.SetDefault("vector.milvus.endpoint", "localhost:19530")
	v.SetDefault("vector.milvus.collectionName", "brand_chunks")
	v.SetDefault("vector.milvus.indexType", "HNSW")
	v.SetDefault("vector.pgvector.table", "chunk_embeddings")
	v.SetDefault("vector.neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("vector.neo4j.username", "neo4j")
	v.SetDefault("vector.neo4j.database", "neo4j")
	v.SetDefault("vector.neo4j.indexName", "chunk_embeddings")
	v.SetDefault("vector.neo4j.brandOverscan", 4)

	v.SetDefault("session.backend", "redis")
	v.SetDefault("session.ttlSec", 3600)
	v.SetDefault("session.maxTurns", 20)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "./data/assistant.db")
	v.SetDefault("sqlite.enabled", true)

	v.SetDefault("search.enabled", true)
	v.SetDefault("search.provider", "duckduckgo")
	v.SetDefault("search.serpApiEndpoint", "https://serpapi.com/search")
	v.SetDefault("search.duckDuckGoUrl", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.maxResults", 3)
	v.SetDefault("search.timeoutSec", 10)
	v.SetDefault("search.ratePerSecond", 1.0)

	v.SetDefault("scheduling.enabled", true)
	v.SetDefault("scheduling.calendlyBaseUrl", "https://api.calendly.com")
	v.SetDefault("scheduling.daysToCheck", 7)
	v.SetDefault("scheduling.maxSlots", 5)
	v.SetDefault("scheduling.timezone", "UTC")
	v.SetDefault("scheduling.timeoutSec", 10)

	v.SetDefault("turn.deadlineSec", 90)
	v.SetDefault("turn.apologyText", "Sorry, I can't answer right now. Please try again in a few minutes.")
	v.SetDefault("turn.noContextText", "I don't have specific information about that yet. Could you tell me a bit more about what you need?")
	v.SetDefault("turn.resetSuggestText", "It seems I'm having trouble answering your recent questions. Type 'reset' to start over.")
	v.SetDefault("turn.farewellText", "Thanks for reaching out. Goodbye!")
	v.SetDefault("turn.noContextStreak", 2)
	v.SetDefault("turn.collectLeads", true)
	v.SetDefault("turn.optOutText", "You have been unsubscribed and will not receive more messages. Send START to subscribe again.")
	v.SetDefault("turn.optInText", "Welcome back! You will receive messages again. How can I help you?")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
