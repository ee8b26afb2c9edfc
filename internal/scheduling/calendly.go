// Package scheduling proposes meeting slots when a user asks to book one.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/retry"
)

// Calendly rejects availability windows longer than a week.
const maxCalendlyWindow = 7 * 24 * time.Hour

var errServer = errors.New("calendly server error")

type Slot struct {
	Start         time.Time `json:"start"`
	SchedulingURL string    `json:"scheduling_url,omitempty"`
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

// SlotProvider lists bookable slots in a range, ordered by start time.
type SlotProvider interface {
	AvailableSlots(ctx context.Context, r DateRange) ([]Slot, error)
}

type CalendlyConfig struct {
	APIKey       string
	BaseURL      string
	EventTypeURI string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

type CalendlyClient struct {
	cfg         CalendlyConfig
	httpClient  *http.Client
	retryConfig retry.Config
}

func NewCalendlyClient(cfg CalendlyConfig) *CalendlyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.calendly.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &CalendlyClient{
		cfg:        cfg,
		httpClient: httpClient,
		retryConfig: retry.Config{
			MaxAttempts:     2,
			InitialDelay:    200 * time.Millisecond,
			MaxDelay:        time.Second,
			Multiplier:      2.0,
			JitterFraction:  0.1,
			RetryableErrors: []error{errServer},
			Logger:          logger.GetLogger(),
		},
	}
}

// AvailableSlots splits r into week-long windows and concatenates the results.
func (c *CalendlyClient) AvailableSlots(ctx context.Context, r DateRange) ([]Slot, error) {
	if c.cfg.APIKey == "" || c.cfg.EventTypeURI == "" {
		return nil, errors.New("calendly is not configured")
	}

	var slots []Slot
	for start := r.Start; start.Before(r.End); start = start.Add(maxCalendlyWindow) {
		end := start.Add(maxCalendlyWindow)
		if end.After(r.End) {
			end = r.End
		}
		window, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]Slot, error) {
			return c.fetchWindow(ctx, start, end)
		})
		if err != nil {
			return nil, err
		}
		slots = append(slots, window...)
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	logger.Debug("Calendly slots fetched", zap.Int("slots", len(slots)))
	return slots, nil
}

func (c *CalendlyClient) fetchWindow(ctx context.Context, start, end time.Time) ([]Slot, error) {
	params := url.Values{}
	params.Set("event_type", c.cfg.EventTypeURI)
	params.Set("start_time", start.UTC().Format(time.RFC3339))
	params.Set("end_time", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/event_type_available_times?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendly request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", errServer, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendly returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var payload struct {
		Collection []struct {
			Status        string    `json:"status"`
			StartTime     time.Time `json:"start_time"`
			SchedulingURL string    `json:"scheduling_url"`
		} `json:"collection"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	slots := make([]Slot, 0, len(payload.Collection))
	for _, s := range payload.Collection {
		if s.Status != "available" {
			continue
		}
		slots = append(slots, Slot{Start: s.StartTime, SchedulingURL: s.SchedulingURL})
	}
	return slots, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
