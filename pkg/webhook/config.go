package webhook

import "time"

// Config holds settings for the outbound webhook client.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// Timeout is the per-request timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CircuitFailureThreshold opens circuit after this many consecutive
	// failures. Zero disables the breaker.
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" json:"circuit_failure_threshold"`
	// CircuitReset is the duration after which the circuit attempts to half-open
	CircuitReset time.Duration `yaml:"circuit_reset" json:"circuit_reset"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:    "MAR-Quiz-Webhook/1.0",
		Timeout:      30 * time.Second,
		CircuitReset: 30 * time.Second,
	}
}
