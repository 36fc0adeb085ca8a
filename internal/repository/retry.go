package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

// withRetry выполняет fn, повторяя её при временных ошибках не более opts.MaxAttempts раз.
func withRetry(ctx context.Context, opts Options, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) {
			return err
		}

		if attempt == opts.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(backoff(opts.BaseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if errors.Is(err, model.ErrTransient) {
		return fmt.Errorf("gave up after %d attempts: %w", opts.MaxAttempts, err)
	}
	return fmt.Errorf("%w: gave up after %d attempts: %w", model.ErrTransient, opts.MaxAttempts, err)
}

// backoff возвращает экспоненциальную задержку перед попыткой attempt+1
// со случайным разбросом в пределах [d/2, d].
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := base << attempt
	if d > maxDelay {
		d = maxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
