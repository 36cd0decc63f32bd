// Package resilience provides reliability patterns — circuit breaking,
// rate limiting and retry — for calls against the backing object store.
package resilience

import (
	"context"
	"fmt"

	"cloneio/pkg/helper/log"
	"cloneio/pkg/helper/util"
)

// Manager coordinates the resilience patterns wrapped around an object
// store: a rate limiter to keep request rate within the store's budget, a
// circuit breaker to stop hammering a store that is failing, and a retry
// policy for transient errors that survive both.
type Manager struct {
	circuitBreakers *CircuitBreakerManager
	rateLimiters    *RateLimiterManager
	retryOptions    util.RetryOptions
	logger          log.Logger
}

// NewManager creates a new resilience manager.
func NewManager(logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}

	return &Manager{
		circuitBreakers: NewCircuitBreakerManager(logger),
		rateLimiters:    NewRateLimiterManager(logger),
		retryOptions:    util.DefaultRetryOptions(),
		logger:          logger,
	}
}

// WithRetryOptions overrides the retry policy used by ExecuteWithResilience.
func (m *Manager) WithRetryOptions(opts util.RetryOptions) *Manager {
	m.retryOptions = opts
	return m
}

// ExecuteWithResilience runs fn with rate limiting, circuit breaking and
// retry applied, in that order: a denied rate-limit slot or an open circuit
// never invokes fn at all.
func (m *Manager) ExecuteWithResilience(ctx context.Context, name string, fn func() error) error {
	rateLimiter := m.rateLimiters.GetOrCreate(name, DefaultRateLimiterSettings())
	if err := rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter '%s': %w", name, err)
	}

	circuitBreaker := m.circuitBreakers.GetOrCreate(name, DefaultCircuitBreakerSettings(name))

	return circuitBreaker.Execute(func() error {
		return util.RetryWithContext(ctx, func() error { return fn() }, m.retryOptions)
	})
}

// CircuitBreakers returns the circuit breaker manager.
func (m *Manager) CircuitBreakers() *CircuitBreakerManager {
	return m.circuitBreakers
}

// RateLimiters returns the rate limiter manager.
func (m *Manager) RateLimiters() *RateLimiterManager {
	return m.rateLimiters
}

// SystemHealth summarises the current state of every circuit breaker and
// rate limiter the manager has created.
type SystemHealth struct {
	CircuitBreakers map[string]State
	RateLimiters    []RateLimiterStats
}

// GetSystemHealth returns a snapshot of resilience component state.
func (m *Manager) GetSystemHealth() SystemHealth {
	return SystemHealth{
		CircuitBreakers: m.circuitBreakers.GetAllStates(),
		RateLimiters:    m.rateLimiters.GetAllStats(),
	}
}

// IsHealthy reports whether no circuit breaker is currently open.
func (s SystemHealth) IsHealthy() bool {
	for _, state := range s.CircuitBreakers {
		if state == StateOpen {
			return false
		}
	}
	return true
}

// GetUnhealthyComponents returns the names of open circuit breakers and
// rate limiters denying more than 10% of requests.
func (s SystemHealth) GetUnhealthyComponents() []string {
	unhealthy := make([]string, 0)

	for name, state := range s.CircuitBreakers {
		if state == StateOpen {
			unhealthy = append(unhealthy, fmt.Sprintf("circuit:%s", name))
		}
	}

	for _, limiter := range s.RateLimiters {
		if limiter.TotalRequests > 0 {
			deniedPct := float64(limiter.DeniedRequests) / float64(limiter.TotalRequests) * 100
			if deniedPct > 10 {
				unhealthy = append(unhealthy, fmt.Sprintf("ratelimit:%s", limiter.Name))
			}
		}
	}

	return unhealthy
}
