package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/embedding"
)

func TestClientCompleteSendsParamsAndHeaders(t *testing.T) {
	var got map[string]any
	var referer, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  We accept returns within 30 days. "},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":7,"total_tokens":17}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		Name:    "openrouter",
		BaseURL: srv.URL,
		APIKey:  "key",
		Model:   "meta-llama/llama-3-8b-instruct",
		Referer: "https://assistant.example",
		Title:   "Brand Assistant",
	})

	out, err := c.Complete(context.Background(), Prompt{
		System:   "You answer for brand X.",
		Messages: []Message{{Role: "user", Content: "What is your return policy?"}},
	}, Params{Temperature: 0.7, MaxTokens: 1000, TopP: 0.9, PresencePenalty: 0.1})
	require.NoError(t, err)

	assert.Equal(t, "We accept returns within 30 days.", out)
	assert.Equal(t, "meta-llama/llama-3-8b-instruct", got["model"])
	assert.EqualValues(t, 1000, got["max_tokens"])
	assert.InDelta(t, 0.9, got["top_p"], 1e-6)
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "https://assistant.example", referer)
	assert.Equal(t, "Brand Assistant", title)
}

func TestClientCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Model: "m"})
	_, err := c.Complete(context.Background(), Prompt{Messages: []Message{{Role: "user", Content: "hi"}}}, Params{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestClientEmbedBatchKeepsInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],"model":"e"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, EmbeddingModel: "e"})
	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestClientEmbedFailureIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, EmbeddingModel: "e"})
	c.retryConfig.MaxAttempts = 1

	_, err := c.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, embedding.ErrProvider)
}
