package coordinator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// RetryPolicy decides whether and when a failed call is retried.
type RetryPolicy interface {
	// Next returns the delay before retry attempt n (1-indexed) of a
	// call that failed with err. It returns false to stop retrying.
	Next(attempt int, err error) (time.Duration, bool)
}

// NoRetry never retries.
type NoRetry struct{}

// Next always returns false.
func (NoRetry) Next(int, error) (time.Duration, bool) { return 0, false }

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay every attempt up to Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	limit := time.Duration(math.MaxInt64)
	if e.Max > 0 {
		limit = e.Max
	}
	// clamp in float64: the product overflows Duration for large attempts
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if f >= float64(limit) {
		return limit
	}
	return time.Duration(f)
}

// Jitter picks a random delay in [0, Strategy.Delay(attempt)].
type Jitter struct {
	Strategy
}

func (j Jitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * float64(j.Strategy.Delay(attempt)))
}

// Backoff retries transient failures up to MaxAttempts retries,
// waiting according to Strategy.
type Backoff struct {
	Strategy    Strategy
	MaxAttempts int
}

// NewBackoff creates an exponential backoff policy with jitter.
func NewBackoff(maxAttempts int, initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		Strategy:    Jitter{Exponential{Initial: initial, Max: maxDelay}},
		MaxAttempts: maxAttempts,
	}
}

// Next implements RetryPolicy.
func (b *Backoff) Next(attempt int, err error) (time.Duration, bool) {
	if attempt > b.MaxAttempts || !Transient(err) {
		return 0, false
	}
	return b.Strategy.Delay(attempt), true
}

// Transient reports whether err is worth retrying: network failures,
// rate limiting and server errors.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
