package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/pkg/circuitbreaker"
	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/retry"
)

var (
	// ErrGenerationUnavailable is returned when every provider failed.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrAttemptTimeout marks a provider call that hit its own deadline.
	ErrAttemptTimeout = errors.New("provider call timed out")
)

// Provider is one LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt, params Params) (string, error)
}

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, params Params) (*Generation, error)
}

// Attempt records one call to one provider.
type Attempt struct {
	Provider string
	Try      int
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Generation is the outcome of Generate. Fallbacks counts how many times the
// generator moved on to a later provider.
type Generation struct {
	Text      string
	Provider  string
	Attempts  []Attempt
	Fallbacks int
}

type GeneratorConfig struct {
	// Timeout is the per-attempt deadline used when Params.Timeout is zero.
	Timeout time.Duration
	// RetryBackoff is the wait before retrying a timed-out provider.
	RetryBackoff    time.Duration
	BreakerFailures int
	BreakerReset    time.Duration
	// BreakerWindow clears a closed breaker's failure count when it elapses.
	BreakerWindow time.Duration
}

type guardedProvider struct {
	Provider
	cb *circuitbreaker.CircuitBreaker
}

// FallbackGenerator tries providers in order. A provider that times out is retried
// once after a backoff; any other failure moves straight to the next provider.
type FallbackGenerator struct {
	providers []guardedProvider
	timeout   time.Duration
	retryCfg  retry.Config
	logger    *zap.Logger
}

func NewFallbackGenerator(cfg GeneratorConfig, providers ...Provider) *FallbackGenerator {
	log := logger.Named("generator")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	guarded := make([]guardedProvider, 0, len(providers))
	for _, p := range providers {
		guarded = append(guarded, guardedProvider{
			Provider: p,
			cb: circuitbreaker.NewCircuitBreaker("llm:"+p.Name(), circuitbreaker.Config{
				MaxRequests:      1,
				Interval:         cfg.BreakerWindow,
				Timeout:          cfg.BreakerReset,
				FailureThreshold: uint32(max(cfg.BreakerFailures, 0)),
				SuccessThreshold: 1,
				IsSuccessful: func(err error) bool {
					return err == nil || errors.Is(err, context.Canceled)
				},
				Logger: log,
			}),
		})
	}

	return &FallbackGenerator{
		providers: guarded,
		timeout:   cfg.Timeout,
		retryCfg: retry.Config{
			MaxAttempts:     2,
			InitialDelay:    cfg.RetryBackoff,
			MaxDelay:        cfg.RetryBackoff * 8,
			Multiplier:      2.0,
			JitterFraction:  0.1,
			RetryableErrors: []error{ErrAttemptTimeout},
			Logger:          log,
		},
		logger: log,
	}
}

func (g *FallbackGenerator) Generate(ctx context.Context, prompt Prompt, params Params) (*Generation, error) {
	gen := &Generation{}
	if len(g.providers) == 0 {
		return gen, fmt.Errorf("%w: no providers configured", ErrGenerationUnavailable)
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}

	var errs []error
	for i, p := range g.providers {
		if i > 0 {
			gen.Fallbacks++
			metrics.LLMFallbacks.WithLabelValues(p.Name()).Inc()
			g.logger.Warn("Falling back to next LLM provider",
				zap.String("provider", p.Name()),
				zap.Int("position", i),
			)
		}

		text, err := g.call(ctx, p, prompt, params, timeout, gen)
		if err == nil {
			gen.Text = text
			gen.Provider = p.Name()
			return gen, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}

	return gen, fmt.Errorf("%w: %w", ErrGenerationUnavailable, errors.Join(errs...))
}

func (g *FallbackGenerator) call(ctx context.Context, p guardedProvider, prompt Prompt, params Params, timeout time.Duration, gen *Generation) (string, error) {
	try := 0
	return retry.DoWithResult(ctx, g.retryCfg, func() (string, error) {
		try++
		start := time.Now()

		var text string
		err := p.cb.Execute(ctx, func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			out, err := p.Complete(attemptCtx, prompt, params)
			if err != nil {
				if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, timeout, err)
				}
				return err
			}
			text = out
			return nil
		})

		gen.Attempts = append(gen.Attempts, Attempt{
			Provider: p.Name(),
			Try:      try,
			Err:      err,
			TimedOut: errors.Is(err, ErrAttemptTimeout),
			Duration: time.Since(start),
		})
		if err != nil {
			g.logger.Warn("LLM provider attempt failed",
				zap.String("provider", p.Name()),
				zap.Int("try", try),
				zap.Error(err),
			)
		}
		return text, err
	})
}
