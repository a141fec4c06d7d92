package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rate"
)

const defaultMaxAttempts = 5

// caller runs Gmail API calls through the limiter, the circuit breaker and
// exponential backoff.
type caller struct {
	limiter     rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	backoff     gax.Backoff
	maxAttempts int
	logger      *slog.Logger
}

func newCaller(limiter rate.Limiter, backoff gax.Backoff, maxAttempts int, logger *slog.Logger) *caller {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff.Initial == 0 {
		backoff = gax.Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
	}
	c := &caller{limiter: limiter, backoff: backoff, maxAttempts: maxAttempts, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// only trouble on Google's side counts against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// do invokes call until it succeeds, fails permanently or runs out of
// attempts. Exhausted retries and an open breaker yield *gmail.TransientError.
func (c *caller) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	bo := c.backoff
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("gmail %s: %w", op, err)
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, call(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &gc.TransientError{Op: op, Err: err}
		}
		if !retryable(err) || ctx.Err() != nil {
			return fmt.Errorf("gmail %s: %w", op, err)
		}
		if attempt >= c.maxAttempts {
			return &gc.TransientError{Op: op, Err: err}
		}
		pause := bo.Pause()
		c.logger.Debug("retrying gmail call", "op", op, "attempt", attempt, "pause", pause, "err", err)
		if err := gax.Sleep(ctx, pause); err != nil {
			return fmt.Errorf("gmail %s: %w", op, err)
		}
	}
}

// retryable reports rate limiting, server errors and network failures.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return true
		case apiErr.Code == http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
