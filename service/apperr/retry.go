package apperr

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryWithBackoff 带指数退避的重试，首次调用不计入 maxRetries
func RetryWithBackoff(ctx context.Context, operation func(ctx context.Context) error, maxRetries int, baseDelay time.Duration) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := operation(ctx); err != nil {
			lastErr = err
			slog.Warn("外部调用失败", "attempt", attempt+1, "max_attempts", maxRetries+1, "error", err)
			if ctx.Err() != nil {
				return fmt.Errorf("重试被取消: %w", ctx.Err())
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("重试 %d 次后仍然失败: %w", maxRetries+1, lastErr)
}
