package occupancy

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/repository"
)

const DefaultRefreshSchedule = "@every 5m"

// Refresher periodically reloads occupancy for every active resource. Only
// the replica holding the leader lock does the work on a given tick.
type Refresher struct {
	resources repository.ResourceRepository
	warmer    Warmer
	lock      LeaderLock
	schedule  string
	logger    *zap.Logger
}

func NewRefresher(resources repository.ResourceRepository, warmer Warmer, lock LeaderLock, schedule string, logger *zap.Logger) *Refresher {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	return &Refresher{
		resources: resources,
		warmer:    warmer,
		lock:      lock,
		schedule:  schedule,
		logger:    logger,
	}
}

// Run schedules RefreshAll and blocks until ctx is cancelled, then waits for
// a running refresh to finish.
func (r *Refresher) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RefreshAll(ctx); err != nil {
			r.logger.Error("occupancy refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule occupancy refresh %q: %w", r.schedule, err)
	}

	r.logger.Info("occupancy refresher started", zap.String("schedule", r.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("occupancy refresher stopped")
	return nil
}

// RefreshAll warms the cache for all active resources if this replica wins
// the leader lock. It returns the number of resources refreshed; 0 with a
// nil error means another replica holds the lock.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	release, ok, err := r.lock.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		r.logger.Debug("occupancy refresh skipped: not leader")
		return 0, nil
	}
	defer release()

	resources, err := r.resources.ListActive(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list resources: %w", err)
	}

	refreshed := 0
	for _, res := range resources {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.warmer.Refresh(ctx, res.ID); err != nil {
			r.logger.Warn("occupancy refresh failed for resource",
				zap.Int64("resource_id", res.ID), zap.Error(err))
			continue
		}
		refreshed++
	}
	r.logger.Info("occupancy refreshed", zap.Int("resources", refreshed))
	return refreshed, nil
}
