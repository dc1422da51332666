package transport

import (
	"math"
	"math/rand"
	"time"
)

// ReconnectPolicy decides how long to wait before reconnect attempt number
// attempt (starting at 1). Returning false stops automatic reconnection;
// the transport then stays Disconnected until Activate is called again.
type ReconnectPolicy interface {
	Delay(attempt int) (time.Duration, bool)
}

// FixedDelay retries forever with the same delay.
type FixedDelay time.Duration

func (d FixedDelay) Delay(int) (time.Duration, bool) {
	return time.Duration(d), true
}

// ExponentialBackoff grows the delay by Factor per attempt up to Max, adds
// up to Jitter (0..1) of the delay at random, and gives up after
// MaxAttempts attempts when MaxAttempts is positive.
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int

	random func() float64
}

// DefaultBackoff starts at one second and caps at thirty.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

func (b *ExponentialBackoff) Delay(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}

	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	exp := math.Max(float64(attempt-1), 0)
	base := math.Min(float64(initial)*math.Pow(factor, exp), math.MaxInt64)

	random := rand.Float64 // #nosec G404 -- jitter does not require cryptographic randomness
	if b.random != nil {
		random = b.random
	}
	total := base + base*b.Jitter*random()

	if b.Max > 0 {
		total = math.Min(total, float64(b.Max))
	}
	if total >= math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(math.Round(total)), true
}
