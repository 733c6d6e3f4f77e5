package sync

import (
	"context"
	"errors"
	"time"

	"github.com/TheMichaelB/shopsync/internal/models"
)

const defaultDrainInterval = 30 * time.Second

// Trigger starts a drain in the background and returns immediately. A drain
// that is already running absorbs the trigger.
func (e *Engine) Trigger(ctx context.Context) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		e.drainQuietly(ctx)
	}()
}

// Wait blocks until every triggered drain has returned.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Run drains the queue at a fixed cadence until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultDrainInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.drainQuietly(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) drainQuietly(ctx context.Context) {
	_, err := e.Drain(ctx)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrSyncInProgress):
		e.logger.Debug("Drain already running")
	case isOffline(err):
		e.logger.Debug("Skipping drain while offline")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.logger.Debug("Drain interrupted")
	default:
		e.logger.WithError(err).Warn("Drain failed")
	}
}
