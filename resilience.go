package httpclient

import (
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ResilienceConfig holds optional failure-handling policies applied around
// the network round trip, never around cache reads. Disabled by default.
type ResilienceConfig struct {
	// RetryPolicy configures retry behavior using failsafe-go.
	// If nil, retry is disabled.
	RetryPolicy retrypolicy.RetryPolicy[*Response]

	// CircuitBreaker configures circuit breaker behavior using
	// failsafe-go. If nil, the circuit breaker is disabled.
	CircuitBreaker circuitbreaker.CircuitBreaker[*Response]
}

// RetryPolicyBuilder returns a retry policy builder preconfigured for HTTP:
// it retries network errors and 5xx responses up to 3 times with
// exponential backoff from 100ms to 10s. Customize further before Build().
func RetryPolicyBuilder() retrypolicy.Builder[*Response] {
	return retrypolicy.NewBuilder[*Response]().
		HandleIf(func(r *Response, err error) bool {
			if err != nil {
				// Deliberate aborts and misuse are not transient.
				return !IsInterrupted(err) && !IsIllegalState(err)
			}
			return r != nil && r.StatusCode() >= 500
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder returns a circuit breaker builder preconfigured
// for HTTP: it opens after 5 consecutive failures (network errors or 5xx),
// probes again after 60s, and closes after 2 consecutive successes.
func CircuitBreakerBuilder() circuitbreaker.Builder[*Response] {
	return circuitbreaker.NewBuilder[*Response]().
		HandleIf(func(r *Response, err error) bool {
			if err != nil {
				return !IsInterrupted(err) && !IsIllegalState(err)
			}
			return r != nil && r.StatusCode() >= 500
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

// executeWithResilience wraps fn with the configured policies, if any.
func (c *Client) executeWithResilience(fn func() (*Response, error)) (*Response, error) {
	if c.resilience == nil {
		return fn()
	}
	var policies []failsafe.Policy[*Response]
	if c.resilience.RetryPolicy != nil {
		policies = append(policies, c.resilience.RetryPolicy)
	}
	if c.resilience.CircuitBreaker != nil {
		policies = append(policies, c.resilience.CircuitBreaker)
	}
	if len(policies) == 0 {
		return fn()
	}
	return failsafe.With(policies...).Get(fn)
}
