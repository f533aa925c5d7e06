package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryEventuallySucceeds(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return errors.New("still broken")
	})
	if err == nil || err.Error() != "still broken" {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewRetryPolicy(5, 50*time.Millisecond)
	attempts := 0
	_ = p.Do(ctx, func() error {
		attempts++
		return errors.New("nope")
	})
	if attempts != 1 {
		t.Fatalf("expected 1 attempt after cancel, got %d", attempts)
	}
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	b := NewBreaker(2, 20*time.Millisecond)
	if !b.Allow() {
		t.Fatalf("new breaker should allow")
	}
	b.OnFailure()
	if !b.Allow() {
		t.Fatalf("one failure should not trip")
	}
	b.OnFailure()
	if b.Allow() {
		t.Fatalf("breaker should be open after threshold")
	}
	time.Sleep(30 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("breaker should close after cooldown")
	}
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	if !b.Allow() {
		t.Fatalf("success should reset the failure count")
	}
}
