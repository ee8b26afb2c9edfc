package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/embedding"
	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/pkg/circuitbreaker"
	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/retry"
)

// ErrEmptyCompletion is returned when a provider answers with no choices or blank text.
var ErrEmptyCompletion = errors.New("empty completion")

type ClientConfig struct {
	Name           string
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	// Referer and Title are sent as HTTP-Referer / X-Title, which OpenRouter
	// uses for attribution.
	Referer    string
	Title      string
	HTTPClient *http.Client
}

// Client talks to any OpenAI-compatible API. It is both a generation Provider
// and an embedding.Embedder.
type Client struct {
	name           string
	client         *openai.Client
	model          string
	embeddingModel string
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Referer != "" || cfg.Title != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{
			Timeout:   httpClient.Timeout,
			Transport: &headerTransport{base: base, referer: cfg.Referer, title: cfg.Title},
		}
	}
	oc.HTTPClient = httpClient

	name := cfg.Name
	if name == "" {
		name = cfg.Model
	}
	log := logger.Named("llm").With(zap.String("provider", name))

	cb := circuitbreaker.NewCircuitBreaker("embeddings:"+name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           log,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         log,
	}

	log.Info("LLM client initialized",
		zap.String("base_url", oc.BaseURL),
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		name:           name,
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		cb:             cb,
		retryConfig:    retryConfig,
		logger:         log,
	}
}

func (c *Client) Name() string {
	return c.name
}

// Complete runs one chat completion. It does not retry; FallbackGenerator owns
// the retry and fallback policy.
func (c *Client) Complete(ctx context.Context, prompt Prompt, params Params) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	for _, m := range prompt.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         messages,
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.name, "error").Inc()
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.LLMRequests.WithLabelValues(c.name, "empty").Inc()
		return "", ErrEmptyCompletion
	}

	metrics.LLMRequests.WithLabelValues(c.name, "ok").Inc()
	metrics.LLMTokensUsed.WithLabelValues(c.name, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.name, "completion").Add(float64(resp.Usage.CompletionTokens))

	c.logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch))
				}

				ordered := make([][]float32, len(batch))
				for _, data := range resp.Data {
					if data.Index < 0 || data.Index >= len(batch) {
						return fmt.Errorf("embedding index %d out of range", data.Index)
					}
					ordered[data.Index] = data.Embedding
				}
				embeddings = append(embeddings, ordered...)
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", embedding.ErrProvider, err)
		}
	}

	c.logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

type headerTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(req)
}
