package sync

import (
	"context"
	"time"

	"github.com/matheus3301/jot/internal/apperr"
	"go.uber.org/zap"
)

// Start launches periodic cycles until Stop or ctx ends. Ticks that find a
// cycle already running are skipped. Calling Start twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go o.loop(ctx, o.interval, o.done)
	o.logger.Info("background sync started", zap.Duration("interval", o.interval))
}

// Stop halts periodic cycles and waits for an in-flight tick to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.logger.Info("background sync stopped")
}

// Running reports whether periodic cycles are active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// SetInterval changes the period between cycles, taking effect on a running
// timer immediately. Non-positive values are ignored.
func (o *Orchestrator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	o.interval = d
	o.mu.Unlock()

	// Keep only the latest pending change.
	select {
	case <-o.intervalCh:
	default:
	}
	select {
	case o.intervalCh <- d:
	default:
	}
}

// Interval returns the configured period.
func (o *Orchestrator) Interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interval
}

func (o *Orchestrator) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.tick(ctx)
		case d := <-o.intervalCh:
			ticker.Reset(d)
			o.logger.Info("sync interval changed", zap.Duration("interval", d))
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	// Failures are logged by Sync; the next tick retries.
	if _, err := o.Sync(ctx); apperr.Is(err, apperr.KindBusy) {
		o.logger.Debug("sync tick skipped, cycle in flight")
	}
}
