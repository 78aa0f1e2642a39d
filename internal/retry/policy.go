package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/slok/xferd/internal/model"
)

// Policy decides the retry delays of rclone invocations.
type Policy struct {
	// Attempts is the max number of attempts, including the first one.
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
	// Rand returns a number in [0, 1), used for the jitter.
	Rand func() float64
}

const defaultBaseDelay = 800 * time.Millisecond

// MaxAttempts returns the attempts, at least one.
func (p Policy) MaxAttempts() int { return max(p.Attempts, 1) }

// ShouldRetry returns true if a failed attempt must be followed by another one.
func (p Policy) ShouldRetry(attempt int, c Classification) bool {
	return c.Retryable && attempt < p.MaxAttempts()
}

// Delay returns the wait before the attempt following the failed `attempt` (1 based).
// Rate limited failures double the base delay.
func (p Policy) Delay(attempt int, code model.ErrorCode) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if code == model.ErrorCodeRateLimited {
		base *= 2
	}

	exp := max(attempt-1, 0)
	delay := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	if delay < 0 {
		delay = base
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.JitterRatio > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		ratio := min(p.JitterRatio, 1)
		delay = time.Duration(float64(delay) * (1 + ratio*(2*r()-1)))
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return max(delay, 0)
}

// Sleep waits d or until the context is done, returning its error.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
