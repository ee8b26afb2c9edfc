package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/pkg/circuitbreaker"
)

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context) (string, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, _ Prompt, _ Params) (string, error) {
	s.calls.Add(1)
	return s.fn(ctx)
}

func hangs(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func replies(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fails(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func testConfig() GeneratorConfig {
	return GeneratorConfig{
		Timeout:         20 * time.Millisecond,
		RetryBackoff:    time.Millisecond,
		BreakerFailures: 10,
		BreakerReset:    time.Minute,
	}
}

var testPrompt = Prompt{System: "be brief", Messages: []Message{{Role: "user", Content: "hi"}}}

func TestGenerateFallsBackAfterTimeout(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: hangs}
	secondary := &stubProvider{name: "secondary", fn: replies("from secondary")}
	g := NewFallbackGenerator(testConfig(), primary, secondary)

	gen, err := g.Generate(context.Background(), testPrompt, Params{})
	require.NoError(t, err)

	assert.Equal(t, "from secondary", gen.Text)
	assert.Equal(t, "secondary", gen.Provider)
	assert.Equal(t, 1, gen.Fallbacks)
	// the timed-out primary is retried exactly once
	assert.Equal(t, int32(2), primary.calls.Load())
	require.Len(t, gen.Attempts, 3)
	assert.True(t, gen.Attempts[0].TimedOut)
	assert.True(t, gen.Attempts[1].TimedOut)
	assert.Equal(t, 2, gen.Attempts[1].Try)
	assert.NoError(t, gen.Attempts[2].Err)
}

func TestGenerateDoesNotRetryNonTimeoutFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: fails(errors.New("502 bad gateway"))}
	secondary := &stubProvider{name: "secondary", fn: replies("ok")}
	g := NewFallbackGenerator(testConfig(), primary, secondary)

	gen, err := g.Generate(context.Background(), testPrompt, Params{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, "ok", gen.Text)
	assert.Equal(t, 1, gen.Fallbacks)
}

func TestGeneratePrimarySuccessHasNoFallback(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: replies("hello")}
	secondary := &stubProvider{name: "secondary", fn: replies("unused")}
	g := NewFallbackGenerator(testConfig(), primary, secondary)

	gen, err := g.Generate(context.Background(), testPrompt, Params{})
	require.NoError(t, err)

	assert.Equal(t, "hello", gen.Text)
	assert.Zero(t, gen.Fallbacks)
	assert.Zero(t, secondary.calls.Load())
}

func TestGenerateAllProvidersFail(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: hangs}
	secondary := &stubProvider{name: "secondary", fn: fails(errors.New("connection refused"))}
	g := NewFallbackGenerator(testConfig(), primary, secondary)

	gen, err := g.Generate(context.Background(), testPrompt, Params{})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Empty(t, gen.Text)
	assert.Len(t, gen.Attempts, 3)
}

func TestGenerateWithoutProviders(t *testing.T) {
	g := NewFallbackGenerator(testConfig())

	_, err := g.Generate(context.Background(), testPrompt, Params{})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestGenerateSkipsProviderWithOpenCircuit(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerFailures = 1
	primary := &stubProvider{name: "primary", fn: fails(errors.New("500"))}
	secondary := &stubProvider{name: "secondary", fn: replies("ok")}
	g := NewFallbackGenerator(cfg, primary, secondary)

	_, err := g.Generate(context.Background(), testPrompt, Params{})
	require.NoError(t, err)
	gen, err := g.Generate(context.Background(), testPrompt, Params{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), primary.calls.Load())
	assert.ErrorIs(t, gen.Attempts[0].Err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, "ok", gen.Text)
}

func TestGenerateStopsWhenCallerCancels(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: hangs}
	secondary := &stubProvider{name: "secondary", fn: replies("late")}
	cfg := testConfig()
	cfg.Timeout = time.Second
	g := NewFallbackGenerator(cfg, primary, secondary)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, testPrompt, Params{})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Zero(t, secondary.calls.Load())
}

func TestParamsTimeoutOverridesDefault(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: hangs}
	cfg := testConfig()
	cfg.Timeout = time.Hour
	g := NewFallbackGenerator(cfg, primary)

	start := time.Now()
	_, err := g.Generate(context.Background(), testPrompt, Params{Timeout: 5 * time.Millisecond})

	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}
