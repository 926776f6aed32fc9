package bus

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRetryableError(t *testing.T) {
	base := errors.New("store unavailable")
	err := RetryAfter(base, 0)
	if !strings.Contains(err.Error(), "redeliver:") || !errors.Is(err, base) {
		t.Fatalf("unexpected error: %v", err)
	}
	err = RetryAfter(base, 2*time.Second)
	if !strings.Contains(err.Error(), "redeliver in 2s") {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
	if delay, ok := RetryDelay(fmt.Errorf("wrapped: %w", err)); !ok || delay != 2*time.Second {
		t.Fatalf("expected delay through wrapping, got %v %v", delay, ok)
	}
}

func TestRetryDelayNonRetryable(t *testing.T) {
	if delay, ok := RetryDelay(errors.New("no")); ok || delay != 0 {
		t.Fatalf("expected no retry delay")
	}
	if _, ok := RetryDelay(nil); ok {
		t.Fatalf("nil error is not retryable")
	}
}

func TestRetryAfterClamp(t *testing.T) {
	err := RetryAfter(nil, -5*time.Second)
	if delay, ok := RetryDelay(err); !ok || delay != 0 {
		t.Fatalf("expected clamped delay")
	}
}
