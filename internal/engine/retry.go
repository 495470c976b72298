package engine

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"github.com/rendis/taskweave/pkg/schema"
)

// IsRetryableError classifies whether an attempt that failed with err is
// worth repeating. Evaluation errors are deterministic and never retried;
// transport failures and uncoded errors from collaborators are.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context cancelled: the caller is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var wErr *schema.WeaveError
	if errors.As(err, &wErr) {
		return wErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"permission denied", "unauthorized", "forbidden"} {
		if strings.Contains(msg, p) {
			return false
		}
	}
	return true
}

const maxDuration = time.Duration(math.MaxInt64)

// ComputeBackoff calculates the delay before retry attempt (0-based).
// Supports none, constant, linear, and exponential backoff with an optional
// max_delay cap.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base <= 0 {
		return 0
	}
	attempt = max(attempt, 0)

	// Growth saturates at maxDuration instead of wrapping negative.
	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		shift := uint(min(attempt, 30))
		if base > maxDuration>>shift {
			delay = maxDuration
		} else {
			delay = base << shift
		}
	case "linear":
		factor := time.Duration(attempt + 1)
		if base > maxDuration/factor {
			delay = maxDuration
		} else {
			delay = base * factor
		}
	default: // constant, none or empty
		delay = base
	}

	if policy.MaxDelay != "" {
		maxDelay, parseErr := time.ParseDuration(policy.MaxDelay)
		if parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}

	return delay
}

// WaitForBackoff sleeps for delay or returns early with the context's error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
