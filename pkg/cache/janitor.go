package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"parley/pkg/logger"
)

// DefaultJanitorCron sweeps once an hour.
const DefaultJanitorCron = "0 * * * *"

// StartJanitor runs SweepExpired on a cron schedule until the returned
// cancel func is called or ctx ends. An empty cron selects the default.
func StartJanitor(ctx context.Context, cronExpr string, ttl time.Duration) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = DefaultJanitorCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid janitor cron expression: %s", cronExpr)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger.Info("janitor_started", "cron", cronExpr, "ttl", ttl.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, ttl)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression with gronx
// and sleeps until then, sweeping on each tick.
func runScheduler(ctx context.Context, cronExpr string, ttl time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("janitor_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			sweep(ttl)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				logger.Info("janitor_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			sweep(ttl)
		case <-ctx.Done():
			logger.Info("janitor_stopping")
			return
		}
	}
}

func sweep(ttl time.Duration) {
	if _, err := SweepExpired(ttl); err != nil {
		logger.Error("janitor_sweep_error", "error", err)
	}
}
