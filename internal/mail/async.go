package mail

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Async delivers through next in the background. SendOTP returns as soon as
// the mail is scheduled and never reports delivery failures; those are
// logged. At most concurrency deliveries run at once.
type Async struct {
	next    Sender
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewAsync(next Sender, concurrency int64, timeout time.Duration, logger *zap.Logger) *Async {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{
		next:    next,
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *Async) SendOTP(ctx context.Context, email, code, purpose string) error {
	// The request context ends with the response; delivery must outlive it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		if err := a.sem.Acquire(ctx, 1); err != nil {
			a.logger.Warn("otp mail dropped", zap.String("purpose", purpose), zap.Error(err))
			return
		}
		defer a.sem.Release(1)
		if err := a.next.SendOTP(ctx, email, code, purpose); err != nil {
			a.logger.Error("otp mail failed", zap.String("purpose", purpose), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until scheduled deliveries finish or ctx ends.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
