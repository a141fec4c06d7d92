package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastCaller(maxAttempts int) *caller {
	return newCaller(nil, gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}, maxAttempts, quietLogger())
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &googleapi.Error{Code: 429}, true},
		{"503", &googleapi.Error{Code: 503}, true},
		{"404", &googleapi.Error{Code: 404}, false},
		{"403 quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{"403 forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}}}, false},
		{"wrapped 500", fmt.Errorf("call: %w", &googleapi.Error{Code: 500}), true},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"eof", io.ErrUnexpectedEOF, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad request"), false},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("%s: retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCallerRetriesTransientFailures(t *testing.T) {
	c := fastCaller(5)
	calls := 0
	err := c.do(context.Background(), "list messages", func(context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestCallerDoesNotRetryClientErrors(t *testing.T) {
	c := fastCaller(5)
	calls := 0
	err := c.do(context.Background(), "get message", func(context.Context) error {
		calls++
		return &googleapi.Error{Code: 404}
	})
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d, want one failed call", err, calls)
	}
	if gc.IsTransient(err) {
		t.Fatalf("404 must not be transient: %v", err)
	}
}

func TestCallerExhaustedIsTransient(t *testing.T) {
	c := fastCaller(2)
	err := c.do(context.Background(), "modify", func(context.Context) error {
		return &googleapi.Error{Code: 500}
	})
	var te *gc.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if te.Op != "modify" {
		t.Fatalf("op = %q", te.Op)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := fastCaller(1)
	fail := func(context.Context) error { return &googleapi.Error{Code: 500} }
	for i := 0; i < 5; i++ {
		_ = c.do(context.Background(), "list labels", fail)
	}
	called := false
	err := c.do(context.Background(), "list labels", func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("open breaker must short-circuit")
	}
	if !gc.IsTransient(err) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected transient open-state error, got %v", err)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	c := fastCaller(1)
	for i := 0; i < 10; i++ {
		_ = c.do(context.Background(), "get message", func(context.Context) error {
			return &googleapi.Error{Code: 404}
		})
	}
	if st := c.breaker.State(); st != gobreaker.StateClosed {
		t.Fatalf("breaker state = %v, want closed", st)
	}
}

func TestCallerStopsOnCanceledContext(t *testing.T) {
	c := newCaller(nil, gax.Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 2}, 5, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.do(ctx, "list messages", func(context.Context) error {
		calls++
		cancel()
		return &googleapi.Error{Code: 503}
	})
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
