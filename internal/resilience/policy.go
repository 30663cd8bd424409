package resilience

import "time"

// ScanPolicy is the retry policy around one document-index scan. attempts
// counts the first try; non-positive keeps the default.
func ScanPolicy(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	return cfg
}

// ProviderBreaker is the circuit guarding a suggestion provider. Only
// transient failures and timeouts trip it: a malformed model reply says
// nothing about the provider's health. Non-positive values keep the defaults.
func ProviderBreaker(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	cfg.ShouldTrip = IsTransient
	return cfg
}
