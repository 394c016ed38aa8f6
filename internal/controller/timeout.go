package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/systmms/vaultenv/internal/errors"
)

// DefaultTimeout bounds a single user action.
const DefaultTimeout = 30 * time.Second

// withTimeout creates a context with timeout for a user action
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// timeoutError wraps a deadline error with helpful context
func timeoutError(err error, operation string, timeout time.Duration) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return dserrors.UserError{
		Message:    fmt.Sprintf("Vault %s timed out", operation),
		Details:    fmt.Sprintf("Operation exceeded %s timeout", timeout),
		Suggestion: timeoutSuggestion(timeout),
		Err:        err,
	}
}

func timeoutSuggestion(timeout time.Duration) string {
	if timeout < 10*time.Second {
		return "Vault can be slow to answer large listings. Try --timeout 30s"
	}
	return "Check Vault connectivity and the endpoint in your configuration"
}
