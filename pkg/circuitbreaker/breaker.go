package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Config tunes a CircuitBreaker.
//
// Interval is the counting window while closed: when it elapses the counts are
// cleared, so failures spread thinly over a long period never trip the
// breaker. Zero keeps counting until the state changes. Timeout is how long
// the breaker stays open before letting MaxRequests trial requests through.
// IsSuccessful decides whether an error counts against the breaker; nil means
// only a nil error succeeds.
type Config struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	IsSuccessful     func(err error) bool
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.MaxRequests < c.SuccessThreshold {
		c.MaxRequests = c.SuccessThreshold
	}
	if c.IsSuccessful == nil {
		c.IsSuccessful = func(err error) bool { return err == nil }
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Counts holds the request tallies of the current generation. A generation
// starts on every state change and, while closed, every Interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) record(success bool) {
	if success {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
	cb.resetGeneration(cb.now())
	return cb
}

// Name identifies the breaker in logs and metrics.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker is open. A cancelled ctx short-circuits
// without touching the counts. A panic in fn counts as a failure and is
// re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := cb.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(generation, false)
		}
	}()

	err = fn()
	settled = true
	cb.settle(generation, cb.cfg.IsSuccessful(err))
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.advance(cb.now())
	switch {
	case state == StateOpen:
		return cb.generation, ErrCircuitOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return cb.generation, ErrTooManyRequests
	}
	cb.counts.Requests++
	return cb.generation, nil
}

// settle records an outcome. Results from an earlier generation are dropped.
func (cb *CircuitBreaker) settle(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state := cb.advance(now)
	if generation != cb.generation {
		return
	}

	cb.counts.record(success)
	switch {
	case state == StateHalfOpen && !success:
		cb.transition(StateOpen, now)
	case state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold:
		cb.transition(StateClosed, now)
	case state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.transition(StateOpen, now)
	}
}

// advance applies time-based changes: the closed counting window rolling over
// and the open timeout expiring.
func (cb *CircuitBreaker) advance(now time.Time) State {
	if cb.expiry.IsZero() || now.Before(cb.expiry) {
		return cb.state
	}
	switch cb.state {
	case StateClosed:
		cb.resetGeneration(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	failures := cb.counts.ConsecutiveFailures
	cb.state = to
	cb.resetGeneration(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint32("failures", failures),
	)
}

func (cb *CircuitBreaker) resetGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}
	cb.expiry = time.Time{}

	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.expiry = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.expiry = now.Add(cb.cfg.Timeout)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.advance(cb.now())
}

// Counts returns the tallies of the current generation.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.counts
}
