// ABOUTME: Per-provider circuit breakers that skip upstreams after repeated failures
// ABOUTME: Closed/open/half-open states, failure classification, and a named registry

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Default circuit breaker configuration values.
const (
	DefaultMaxFailures      = 5
	DefaultResetTimeout     = 60 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota

	// StateOpen rejects calls without contacting the upstream.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a provider's breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures one breaker.
type CircuitBreakerConfig struct {
	// Name identifies the guarded provider in logs and health output.
	Name string

	// MaxFailures consecutive counted failures open the circuit.
	// Zero uses DefaultMaxFailures.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Zero uses DefaultResetTimeout.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls is the number of probes allowed while half-open.
	// Zero uses DefaultHalfOpenMaxCalls.
	HalfOpenMaxCalls int

	// IsFailure decides whether an error counts against the provider.
	// Nil uses CountsAsFailure.
	IsFailure func(error) bool

	// Logger receives state transitions. Nil uses slog.Default().
	Logger *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// CountsAsFailure counts every error except caller cancellation.
// A canceled request says nothing about the upstream's health.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Statistics holds circuit breaker counters.
type Statistics struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	TotalRequests       int64     `json:"total_requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejections          int64     `json:"rejections"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitzero"`
}

// CircuitBreaker guards calls to one upstream provider.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastFailureTime     time.Time
	halfOpenCalls       int

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	rejections    atomic.Int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls == 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if config.IsFailure == nil {
		config.IsFailure = CountsAsFailure
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.now == nil {
		config.now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the guarded provider name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.totalRequests.Add(1)

	if !cb.allowRequest() {
		cb.rejections.Add(1)
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// Call runs a value-returning fn through the breaker.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// State returns the current state, moving open to half-open once the reset timeout passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.config.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// Statistics returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Statistics() Statistics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Statistics{
		Name:                cb.config.Name,
		State:               cb.currentStateLocked().String(),
		TotalRequests:       cb.totalRequests.Load(),
		Successes:           cb.successes.Load(),
		Failures:            cb.failures.Load(),
		Rejections:          cb.rejections.Load(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
	}
}

// Reset closes the circuit and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionLocked(StateClosed)
	cb.consecutiveFailures = 0
	cb.lastFailureTime = time.Time{}
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.successes.Add(1)
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.transitionLocked(StateClosed)
		}
		return
	}

	if !cb.config.IsFailure(err) {
		// Uncounted errors hand the probe slot back.
		if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		return
	}

	cb.failures.Add(1)
	cb.consecutiveFailures++
	cb.lastFailureTime = cb.config.now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.halfOpenCalls = 0
	if to == StateOpen {
		cb.openedAt = cb.config.now()
	}

	cb.config.Logger.Info("circuit breaker state changed",
		slog.String("provider", cb.config.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("consecutive_failures", cb.consecutiveFailures),
	)
}

// Registry hands out one breaker per provider name.
type Registry struct {
	mu       sync.Mutex
	template CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers share the template config.
func NewRegistry(template CircuitBreakerConfig) *Registry {
	return &Registry{
		template: template,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := r.template
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}

// Statistics returns every breaker's snapshot sorted by name.
func (r *Registry) Statistics() []Statistics {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	stats := make([]Statistics, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Statistics())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
