package connection

import "time"

// Backoff computes the delay before a reconnect attempt.
type Backoff struct {
	Initial    time.Duration // Delay before the first retry
	Multiplier float64       // Growth per attempt (values below 1 are treated as 1)
	Max        time.Duration // Upper bound for any delay
}

// DefaultBackoff returns 1s, doubling, capped at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    1 * time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (1-based). The result
// is non-decreasing in attempt and never exceeds Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Initial)
	limit := float64(b.Max)
	if b.Max > 0 && delay >= limit {
		return b.Max
	}

	for i := 1; i < attempt; i++ {
		delay *= mult
		if b.Max > 0 && delay >= limit {
			return b.Max
		}
	}

	return time.Duration(delay)
}
