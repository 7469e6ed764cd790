package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention periodically prunes old messages from a Store using a cron
// schedule (standard 5-field expressions or descriptors like "@daily").
type Retention struct {
	store    *Store
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetention creates a retention job. A zero maxAge disables pruning.
func NewRetention(store *Store, maxAge time.Duration, schedule string, logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = "@daily"
	}
	return &Retention{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger.With("component", "history-retention"),
		now:      time.Now,
	}
}

// Start registers the prune job and starts the cron runner.
func (r *Retention) Start(ctx context.Context) error {
	if r.maxAge <= 0 {
		r.logger.Debug("history retention disabled")
		return nil
	}

	r.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.PruneOnce(ctx); err != nil {
			r.logger.Warn("history prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.logger.Info("history retention started",
		"schedule", r.schedule, "max_age", r.maxAge)
	return nil
}

// PruneOnce deletes messages older than the configured max age.
func (r *Retention) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("history pruned", "removed", n, "before", cutoff)
	}
	return n, nil
}

// Stop shuts down the cron runner, waiting briefly for a running prune.
func (r *Retention) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		r.logger.Warn("history retention stop timed out")
	}
}
