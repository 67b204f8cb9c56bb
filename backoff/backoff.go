// Package backoff computes retry delays. It is a pure calculator: callers
// pass the attempt counter they track (the retry manager keeps one counter
// per failure category so each category's delay sequence advances
// independently) and receive the delay to sleep before the next attempt.
package backoff

import (
	"fmt"
	"math/rand"
	"time"
)

// Strategy selects the delay-growth function applied between retry attempts.
type Strategy string

const (
	// Fixed returns the base delay for every attempt.
	Fixed Strategy = "fixed"

	// Linear grows the delay by one base-delay increment per attempt:
	// base * (attempt + 1).
	Linear Strategy = "linear"

	// Exponential doubles the delay each attempt: base * 2^attempt.
	Exponential Strategy = "exponential"

	// FullJitter draws the delay uniformly from [0, exponential(attempt)).
	// This is the AWS full-jitter scheme; it trades determinism for maximal
	// decorrelation between retrying clients.
	FullJitter Strategy = "full_jitter"

	// FixedJitter returns the base delay plus a uniform random component of
	// up to half the base delay.
	FixedJitter Strategy = "fixed_jitter"
)

// ParseStrategy maps a configuration string to a Strategy. An empty name
// selects Exponential. Unknown names return an error so misconfiguration
// surfaces at construction time rather than on the first retry.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "":
		return Exponential, nil
	case Fixed, Linear, Exponential, FullJitter, FixedJitter:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

// Delay computes the delay before retry attempt number attempt (0-based).
// The result never exceeds max and is never negative. A non-positive base
// yields zero delay regardless of strategy, and a non-positive max disables
// the cap.
func Delay(s Strategy, attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	var d time.Duration
	switch s {
	case Fixed:
		d = base
	case Linear:
		d = scale(base, attempt+1, max)
	case FullJitter:
		ceiling := scalePow2(base, attempt, max)
		if ceiling > 1<<62 {
			ceiling = 1 << 62
		}
		d = time.Duration(rand.Int63n(int64(ceiling) + 1)) //nolint:gosec // jitter doesn't need crypto rand
	case FixedJitter:
		d = base + time.Duration(rand.Int63n(int64(base)/2+1)) //nolint:gosec // jitter doesn't need crypto rand
	default: // Exponential
		d = scalePow2(base, attempt, max)
	}
	return clamp(d, max)
}

// scalePow2 computes base * 2^attempt, saturating at max (or at the maximum
// Duration when max is non-positive) instead of overflowing.
func scalePow2(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		next := d * 2
		if next <= d { // overflow
			if max > 0 {
				return max
			}
			return 1<<63 - 1
		}
		if max > 0 && next > max {
			return max
		}
		d = next
	}
	return clamp(d, max)
}

// scale computes base * factor, saturating instead of overflowing.
func scale(base time.Duration, factor int, max time.Duration) time.Duration {
	d := base * time.Duration(factor)
	if d < base { // overflow
		if max > 0 {
			return max
		}
		return 1<<63 - 1
	}
	return clamp(d, max)
}

func clamp(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}
