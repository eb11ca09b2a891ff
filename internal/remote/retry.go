package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/jot/internal/apperr"
	"go.uber.org/zap"
)

// call runs fn under the per-attempt timeout, retrying transient failures
// with exponential backoff.
func (a *Adapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := a.attemptContext(ctx)
		defer cancel()
		err := fn(actx)
		if err != nil && (IsPermanent(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, a.backoff(ctx), func(err error, wait time.Duration) {
		a.logger.Warn("remote call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return apperr.Remote(op, err)
	}
	return nil
}

func (a *Adapter) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.Timeout)
}

func (a *Adapter) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.opts.RetryDelay
	exp.MaxInterval = a.opts.MaxDelay
	exp.MaxElapsedTime = 0
	retries := a.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}
