package graph

import "time"

// DefaultBackoffFactor applies when a backoff declares no positive factor.
const DefaultBackoffFactor = 2.0

// Backoff describes the wait between retry attempts:
// BaseDelayMs * Factor^(n-1) plus up to JitterMs of jitter.
type Backoff struct {
	BaseDelayMs int64   `json:"baseDelayMs" yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	Factor      float64 `json:"factor,omitempty" yaml:"factor,omitempty" mapstructure:"factor"`
	JitterMs    int64   `json:"jitterMs,omitempty" yaml:"jitter_ms,omitempty" mapstructure:"jitter_ms"`
}

// BaseDelay returns the first retry delay.
func (b Backoff) BaseDelay() time.Duration {
	if b.BaseDelayMs <= 0 {
		return 0
	}
	return time.Duration(b.BaseDelayMs) * time.Millisecond
}

// Multiplier returns the growth factor, defaulting to DefaultBackoffFactor.
func (b Backoff) Multiplier() float64 {
	if b.Factor <= 0 {
		return DefaultBackoffFactor
	}
	return b.Factor
}

// MaxJitter returns the jitter upper bound.
func (b Backoff) MaxJitter() time.Duration {
	if b.JitterMs <= 0 {
		return 0
	}
	return time.Duration(b.JitterMs) * time.Millisecond
}

// RetryConfig bounds the attempts made for a node.
type RetryConfig struct {
	MaxAttempts int      `json:"maxAttempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     *Backoff `json:"backoff,omitempty" yaml:"backoff,omitempty" mapstructure:"backoff"`
}

// Attempts returns MaxAttempts clamped to at least one.
func (c RetryConfig) Attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// EffectiveRetry returns the node's own retry config or fallback.
func (n TaskGraphNode) EffectiveRetry(fallback RetryConfig) RetryConfig {
	if n.Retry != nil {
		return *n.Retry
	}
	return fallback
}

// FailureRule maps error codes to a retry decision.
type FailureRule struct {
	ErrorCodes []string `json:"errorCodes" yaml:"error_codes" mapstructure:"error_codes"`
	Retryable  bool     `json:"retryable" yaml:"retryable" mapstructure:"retryable"`
}

// FailurePolicy classifies failed attempts. The first rule listing the
// attempt's error code wins; otherwise DefaultRetryable applies.
type FailurePolicy struct {
	DefaultRetryable bool          `json:"defaultRetryable" yaml:"default_retryable" mapstructure:"default_retryable"`
	Rules            []FailureRule `json:"rules,omitempty" yaml:"rules,omitempty" mapstructure:"rules"`
}

// DefaultFailurePolicy treats every failure as retryable.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{DefaultRetryable: true}
}

// Classify returns the failure class for errorCode.
func (p FailurePolicy) Classify(errorCode string) FailureClass {
	if errorCode != "" {
		for _, rule := range p.Rules {
			for _, code := range rule.ErrorCodes {
				if code == errorCode {
					return classFor(rule.Retryable)
				}
			}
		}
	}
	return classFor(p.DefaultRetryable)
}

func classFor(retryable bool) FailureClass {
	if retryable {
		return FailureRetryable
	}
	return FailureNonRetryable
}
