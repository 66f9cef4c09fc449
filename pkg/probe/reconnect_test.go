package probe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryProbeSucceedsOnLaterAttempt(t *testing.T) {
	attempts := 0
	err := retryProbe(context.Background(), 5, 50*time.Millisecond, time.Millisecond, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not ready yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryProbe: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryProbeExhaustsBudget(t *testing.T) {
	attempts := 0
	err := retryProbe(context.Background(), 3, 10*time.Millisecond, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return errors.New("still down")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting the retry budget")
	}
	if !errors.Is(err, ErrSourceUnreachable) {
		t.Errorf("error = %v, want ErrSourceUnreachable", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryProbeAbortsImmediatelyOnUnsupportedCodec(t *testing.T) {
	attempts := 0
	err := retryProbe(context.Background(), 5, 10*time.Millisecond, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return &ErrUnsupportedCodec{Encoding: "MJPEG"}
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	var unsupported *ErrUnsupportedCodec
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want *ErrUnsupportedCodec", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on unsupported codec)", attempts)
	}
}

func TestRetryProbeHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retryProbe(ctx, 5, 10*time.Millisecond, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0 when ctx is already cancelled", attempts)
	}
}
