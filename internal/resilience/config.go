package resilience

import (
	"time"
)

// FromSourceConfig builds the retry policy and breaker for one source API
// from its configured attempt count and timeout.
func FromSourceConfig(maxRetries, timeoutSecs int) (RetryConfig, CircuitBreakerConfig) {
	retry := ConnectorRetryConfig(maxRetries)

	breaker := DefaultCircuitBreakerConfig()
	if timeoutSecs > 0 {
		// A tripped source stays open for two request timeouts.
		breaker.ResetTimeout = 2 * time.Duration(timeoutSecs) * time.Second
	}
	breaker.ShouldTrip = IsTransient
	return retry, breaker
}
