package scheduling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendlySplitsWeekWindows(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/event_type_available_times", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "https://api.calendly.com/event_types/abc", r.URL.Query().Get("event_type"))

		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start_time"))
		assert.NoError(t, err)
		end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end_time"))
		assert.NoError(t, err)
		assert.LessOrEqual(t, end.Sub(start), 7*24*time.Hour)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"collection":[
			{"status":"available","start_time":"` + start.Add(2*time.Hour).Format(time.RFC3339) + `","scheduling_url":"https://calendly.com/x/slot"},
			{"status":"unavailable","start_time":"` + start.Add(3*time.Hour).Format(time.RFC3339) + `"}
		]}`))
	}))
	defer srv.Close()

	c := NewCalendlyClient(CalendlyConfig{APIKey: "token", BaseURL: srv.URL, EventTypeURI: "https://api.calendly.com/event_types/abc"})
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	slots, err := c.AvailableSlots(context.Background(), DateRange{Start: now, End: now.AddDate(0, 0, 10)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Start.Before(slots[1].Start))
	assert.Equal(t, "https://calendly.com/x/slot", slots[0].SchedulingURL)
}

func TestCalendlyRetriesServerErrorsOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCalendlyClient(CalendlyConfig{APIKey: "k", BaseURL: srv.URL, EventTypeURI: "e"})
	now := time.Now()
	_, err := c.AvailableSlots(context.Background(), DateRange{Start: now, End: now.Add(time.Hour)})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCalendlyNotConfigured(t *testing.T) {
	_, err := NewCalendlyClient(CalendlyConfig{}).AvailableSlots(context.Background(), DateRange{})
	assert.Error(t, err)
}

type stubProvider struct {
	slots []Slot
	err   error
	got   DateRange
}

func (s *stubProvider) AvailableSlots(_ context.Context, r DateRange) ([]Slot, error) {
	s.got = r
	return s.slots, s.err
}

func TestAdvisorProposeAndRender(t *testing.T) {
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	var slots []Slot
	for i := 1; i <= 4; i++ {
		slots = append(slots, Slot{Start: now.Add(time.Duration(i) * time.Hour), SchedulingURL: "https://calendly.com/slot"})
	}
	p := &stubProvider{slots: slots}
	a := NewAdvisor(p, AdvisorConfig{DaysToCheck: 3, MaxSlots: 2, GeneralLink: "https://calendly.com/general"})

	out := a.Propose(context.Background(), now)
	require.Equal(t, StatusOK, out.Status)
	assert.Len(t, out.Slots, 2)
	assert.Equal(t, now.AddDate(0, 0, 3), p.got.End)
	assert.True(t, p.got.Start.After(now))

	text := a.Render(out, "https://brand.example/book")
	assert.Equal(t, "Available times:\n- Mon 04 Mar 09:00 UTC\n- Mon 04 Mar 10:00 UTC\nBook here: https://brand.example/book", text)
	assert.Contains(t, a.Render(out, ""), "https://calendly.com/general")
}

func TestAdvisorDegrades(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	disabled := NewAdvisor(nil, AdvisorConfig{})
	assert.Equal(t, StatusDisabled, disabled.Propose(ctx, now).Status)

	failing := NewAdvisor(&stubProvider{err: errors.New("401")}, AdvisorConfig{GeneralLink: "https://calendly.com/general"})
	out := failing.Propose(ctx, now)
	assert.Equal(t, StatusProviderError, out.Status)
	assert.Equal(t, "Scheduling is unavailable right now.\nYou can book directly here: https://calendly.com/general", failing.Render(out, ""))

	empty := NewAdvisor(&stubProvider{}, AdvisorConfig{})
	out = empty.Propose(ctx, now)
	assert.Equal(t, StatusNoData, out.Status)
	assert.Equal(t, "There are no open times in the coming days.", empty.Render(out, ""))
}
