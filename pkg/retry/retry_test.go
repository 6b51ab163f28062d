package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/JohnnyLChang/shitcoin/pkg/errors"
)

func retryableErr(msg string) error {
	return errors.New(errors.ErrorTypeNetwork, "test_op", msg)
}

func permanentErr(msg string) error {
	return errors.New(errors.ErrorTypeValidation, "test_op", msg)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return retryableErr("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return permanentErr("bad input")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on permanent errors)", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  1.5,
	}

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return retryableErr("still down")
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.IsType(err, errors.ErrorTypeInternal) {
		t.Errorf("exhaustion error should have internal type, got %v", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			calls++
			if calls == 1 {
				cancel()
			}
			return retryableErr("keep trying")
		})
	}()

	select {
	case err := <-done:
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2.0,
	}

	calls := 0
	result, err := DoWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, retryableErr("transient")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
}

func TestDoWithResultPermanentError(t *testing.T) {
	result, err := DoWithResult(context.Background(), DefaultConfig(), func() (string, error) {
		return "", permanentErr("nope")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if result != "" {
		t.Errorf("result = %q, want zero value", result)
	}
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  10.0,
		Jitter:      false,
	}

	// Attempt 5 would be 100ms * 10^5 without the cap
	delay := cfg.calculateDelay(5)
	if delay > time.Second {
		t.Errorf("delay = %v, want <= 1s (capped)", delay)
	}
}
