package rate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurst(t *testing.T) {
	tb := NewTokenBucket(3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestTokenBucketCanceled(t *testing.T) {
	tb := NewTokenBucket(1)
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := tb.Wait(canceled)
	if err == nil {
		t.Fatalf("expected error on canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestNewTokenBucketClampsRate(t *testing.T) {
	tb := NewTokenBucket(0)
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestUnlimited(t *testing.T) {
	if err := (Unlimited{}).Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
