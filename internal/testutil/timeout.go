package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTestBuffer is subtracted from the test deadline to leave time for
// shutting servers down before go test kills the process.
const DefaultTestBuffer = 5 * time.Second

// ContextWithTestDeadline creates a context that ends before the test's
// deadline, or after fallback when the test has none.
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer is ContextWithTestDeadline with a custom
// buffer. If the test deadline minus buffer is already past, fallback is used.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-buffer)
		if time.Until(adjusted) > 0 {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}

	return context.WithTimeout(context.Background(), fallback)
}

// ShortOperationTimeout is the budget ShortOperationContext grants.
const ShortOperationTimeout = 30 * time.Second

// ShortOperationContext gives a 30 second budget, bounded by the test deadline.
func ShortOperationContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()

	deadline := time.Now().Add(ShortOperationTimeout)
	if testDeadline, ok := t.Deadline(); ok {
		if adjusted := testDeadline.Add(-DefaultTestBuffer); adjusted.Before(deadline) && time.Until(adjusted) > 0 {
			deadline = adjusted
		}
	}
	return context.WithDeadline(context.Background(), deadline)
}

// Eventually polls cond every 10ms until it returns true or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
