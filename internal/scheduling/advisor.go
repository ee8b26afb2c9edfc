package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/pkg/logger"
)

type Status string

const (
	StatusOK            Status = "ok"
	StatusNoData        Status = "no_data"
	StatusProviderError Status = "provider_error"
	StatusDisabled      Status = "disabled"
)

type Outcome struct {
	Status Status
	Slots  []Slot
	Err    error
}

type AdvisorConfig struct {
	DaysToCheck int
	MaxSlots    int
	GeneralLink string
	Location    *time.Location
}

// Advisor asks a SlotProvider for the next few days. It never fails: problems
// are reported through Outcome.Status.
type Advisor struct {
	provider SlotProvider
	cfg      AdvisorConfig
	log      *zap.Logger
}

// NewAdvisor returns an advisor; a nil provider makes every proposal Disabled.
func NewAdvisor(provider SlotProvider, cfg AdvisorConfig) *Advisor {
	if cfg.DaysToCheck <= 0 {
		cfg.DaysToCheck = 7
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Advisor{provider: provider, cfg: cfg, log: logger.Named("scheduling")}
}

func (a *Advisor) Propose(ctx context.Context, now time.Time) Outcome {
	out := a.propose(ctx, now)
	metrics.SchedulingRequests.WithLabelValues(string(out.Status)).Inc()
	return out
}

func (a *Advisor) propose(ctx context.Context, now time.Time) Outcome {
	if a.provider == nil {
		return Outcome{Status: StatusDisabled}
	}

	// Calendly wants a start time strictly in the future.
	r := DateRange{Start: now.Add(time.Minute), End: now.AddDate(0, 0, a.cfg.DaysToCheck)}
	slots, err := a.provider.AvailableSlots(ctx, r)
	if err != nil {
		a.log.Warn("Slot lookup failed", zap.Error(err))
		return Outcome{Status: StatusProviderError, Err: err}
	}
	if len(slots) == 0 {
		return Outcome{Status: StatusNoData}
	}
	if len(slots) > a.cfg.MaxSlots {
		slots = slots[:a.cfg.MaxSlots]
	}
	return Outcome{Status: StatusOK, Slots: slots}
}

// Render produces the text appended to a reply. link is the brand's booking
// page; the advisor's general link is used when it is empty.
func (a *Advisor) Render(o Outcome, link string) string {
	if link == "" {
		link = a.cfg.GeneralLink
	}

	var b strings.Builder
	switch o.Status {
	case StatusOK:
		b.WriteString("Available times:")
		for _, s := range o.Slots {
			fmt.Fprintf(&b, "\n- %s", s.Start.In(a.cfg.Location).Format("Mon 02 Jan 15:04 MST"))
		}
		if link == "" && len(o.Slots) > 0 {
			link = o.Slots[0].SchedulingURL
		}
		if link != "" {
			fmt.Fprintf(&b, "\nBook here: %s", link)
		}
	case StatusNoData:
		b.WriteString("There are no open times in the coming days.")
		if link != "" {
			fmt.Fprintf(&b, "\nYou can check later availability here: %s", link)
		}
	default:
		b.WriteString("Scheduling is unavailable right now.")
		if link != "" {
			fmt.Fprintf(&b, "\nYou can book directly here: %s", link)
		}
	}
	return b.String()
}
