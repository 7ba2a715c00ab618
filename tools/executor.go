// Tool Executor with timeout and retry.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/richinex/agentgate/llm"
)

// ExecutorConfig holds tool execution settings.
// The zero value is safe: timeout defaults to 30s and attempts to 3.
type ExecutorConfig struct {
	Timeout     time.Duration
	MaxAttempts int
}

func (c ExecutorConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

func (c ExecutorConfig) attempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

// Executor calls tools through an Invoker with a per-attempt timeout and
// retries transient failures with exponential backoff.
type Executor struct {
	invoker Invoker
	config  ExecutorConfig
}

// NewExecutor creates a new tool executor.
func NewExecutor(invoker Invoker, config ExecutorConfig) *Executor {
	return &Executor{invoker: invoker, config: config}
}

// ListTools forwards to the underlying invoker.
func (e *Executor) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	return e.invoker.ListTools(ctx)
}

// CallTool implements Invoker. The returned error is always an
// *ExecutionError unless ctx itself is done.
func (e *Executor) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var lastErr error
	maxAttempts := e.config.attempts()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		out, err := e.callOnce(ctx, name, args)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	var execErr *ExecutionError
	if errors.As(lastErr, &execErr) {
		return "", execErr
	}
	return "", &ExecutionError{Tool: name, Err: lastErr}
}

func (e *Executor) callOnce(ctx context.Context, name string, args json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.timeout())
	defer cancel()

	out, err := e.invoker.CallTool(ctx, name, args)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &ExecutionError{Tool: name, Err: fmt.Errorf("timed out after %s: %w", e.config.timeout(), err)}
	}
	return out, err
}

// backoff returns the delay before the given attempt.
func backoff(attempt int) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// retryable reports whether a failed call should be repeated. Only
// timeouts and connection failures are.
func retryable(err error) bool {
	if errors.Is(err, ErrUnknownTool) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errLower := strings.ToLower(err.Error())
	for _, s := range []string{"timed out", "timeout", "connection refused", "connection reset"} {
		if strings.Contains(errLower, s) {
			return true
		}
	}
	return false
}
