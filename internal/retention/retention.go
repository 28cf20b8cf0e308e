package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"commhub/pkg/config"
	"commhub/pkg/logger"
	"commhub/pkg/store"
)

// defaultCron sweeps daily at 02:00 UTC.
const defaultCron = "0 2 * * *"

// RunOnce purges notifications whose expiresTS has passed. In dry-run
// mode it only counts and logs what a real sweep would remove.
func RunOnce(cfg config.RetentionConfig) (int, error) {
	start := time.Now()
	n, err := store.PurgeExpiredNotifications(time.Now().UTC().UnixNano(), cfg.BatchSize, cfg.DryRun)
	if err != nil {
		return 0, err
	}
	logger.Info("retention_sweep_done", "purged", n, "dry_run", cfg.DryRun,
		"elapsed", time.Since(start).String())
	return n, nil
}

// Start launches the sweep scheduler when retention is enabled. The
// returned cancel stops the scheduler; a disabled config returns a
// no-op cancel.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	logger.Info("retention_enabled", "cron", cronExpr, "dry_run", cfg.DryRun)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick, sweeps, repeats. gronx
// computes the tick so full cron syntax works.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := RunOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
