package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brand-assistant/backend/pkg/config"
	"github.com/brand-assistant/backend/pkg/logger"
)

// Hit is one web result.
type Hit struct {
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	SourceURL string `json:"source_url"`
}

// Searcher queries an external search engine.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Hit, error)
}

type ClientConfig struct {
	SerpAPIKey      string
	SerpAPIEndpoint string
	DuckDuckGoURL   string
	MaxResults      int
	Timeout         time.Duration
	RatePerSecond   float64
	HTTPClient      *http.Client
}

func ClientConfigFrom(c config.SearchConfig) ClientConfig {
	cfg := ClientConfig{
		SerpAPIEndpoint: c.SerpAPIEndpoint,
		DuckDuckGoURL:   c.DuckDuckGoURL,
		MaxResults:      c.MaxResults,
		Timeout:         time.Duration(c.TimeoutSec) * time.Second,
		RatePerSecond:   c.RatePerSecond,
	}
	if c.Provider == "serpapi" || c.SerpAPIKey != "" {
		cfg.SerpAPIKey = c.SerpAPIKey
	}
	return cfg
}

// Client searches SerpAPI when an API key is configured and the DuckDuckGo HTML
// endpoint otherwise. Calls are paced by a shared limiter.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SerpAPIEndpoint == "" {
		cfg.SerpAPIEndpoint = "https://serpapi.com/search"
	}
	if cfg.DuckDuckGoURL == "" {
		cfg.DuckDuckGoURL = "https://html.duckduckgo.com/html/"
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (c *Client) Provider() string {
	if c.cfg.SerpAPIKey != "" {
		return "serpapi"
	}
	return "duckduckgo"
}

func (c *Client) Search(ctx context.Context, query string) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}

	logger.Info("Performing web search", zap.String("provider", c.Provider()), zap.String("query", query))

	if c.cfg.SerpAPIKey != "" {
		return c.searchWithSerpAPI(ctx, query)
	}
	return c.searchWithDuckDuckGo(ctx, query)
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string) ([]Hit, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.cfg.SerpAPIKey)
	params.Add("num", strconv.Itoa(c.cfg.MaxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SerpAPIEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if searchResp.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", searchResp.Error)
	}

	hits := make([]Hit, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if len(hits) == c.cfg.MaxResults {
			break
		}
		if r.Link == "" || strings.TrimSpace(r.Snippet) == "" {
			continue
		}
		hits = append(hits, Hit{Title: r.Title, Snippet: strings.TrimSpace(r.Snippet), SourceURL: r.Link})
	}

	logger.Info("Web search completed", zap.Int("results", len(hits)))
	return hits, nil
}

func (c *Client) searchWithDuckDuckGo(ctx context.Context, query string) ([]Hit, error) {
	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DuckDuckGoURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; brand-assistant/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	hits := make([]Hit, 0, c.cfg.MaxResults)
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		a := s.Find("a.result__a").First()
		href, _ := a.Attr("href")
		link := resolveDuckDuckGoLink(href)
		snippet := strings.Join(strings.Fields(s.Find(".result__snippet").Text()), " ")
		if link == "" || snippet == "" {
			return true
		}
		hits = append(hits, Hit{
			Title:     strings.TrimSpace(a.Text()),
			Snippet:   snippet,
			SourceURL: link,
		})
		return len(hits) < c.cfg.MaxResults
	})

	logger.Info("DuckDuckGo search completed", zap.Int("results", len(hits)))
	return hits, nil
}

// resolveDuckDuckGoLink unwraps the /l/?uddg= redirect used by the HTML endpoint.
func resolveDuckDuckGoLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
