package connection

import (
	"context"
	"math"
	"time"

	"github.com/surrealdb/gqlcache.go/internal/rand"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
)

// Retryer defines the interface for implementing retry strategies
type Retryer interface {
	// NextDelay returns the delay before the next retry attempt
	// attempt is 0-based (0 for first retry, 1 for second, etc.)
	// Returns the delay duration and whether to continue retrying
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset resets the retry strategy state (called after a successful request)
	Reset()
}

// ExponentialBackoffRetryer implements exponential backoff with jitter
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries is the maximum number of retry attempts (0 for infinite)
	MaxRetries int
	Jitter     bool
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0)
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer suited to interactive
// requests: three retries starting at 200ms.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   3,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits the same delay between attempts.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}

// Retrying wraps a Connection and retries requests that failed with a
// retryable error. Server errors and malformed responses are returned as is.
type Retrying struct {
	Connection
	retryer Retryer
	logger  logger.Logger
}

func NewRetrying(conn Connection, retryer Retryer, l logger.Logger) *Retrying {
	return &Retrying{Connection: conn, retryer: retryer, logger: logger.OrNop(l)}
}

func (r *Retrying) Execute(ctx context.Context, req *Request) (*Response, error) {
	for attempt := 0; ; attempt++ {
		res, err := r.Connection.Execute(ctx, req)
		if err == nil || !Retryable(err) {
			if err == nil {
				r.retryer.Reset()
			}
			return res, err
		}

		delay, ok := r.retryer.NextDelay(attempt, err)
		if !ok {
			return res, err
		}
		r.logger.Debug("retrying graphql request", "operation", req.OperationName, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

// Subscribe passes through to the wrapped connection when it streams.
func (r *Retrying) Subscribe(ctx context.Context, req *Request) (*Stream, error) {
	sub, ok := r.Connection.(Subscriber)
	if !ok {
		return nil, errSubscriptionsUnsupported
	}
	return sub.Subscribe(ctx, req)
}
