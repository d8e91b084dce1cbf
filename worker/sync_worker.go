package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	syncpkg "salespulse/sync"
)

// SyncWorker is the background loop that keeps the sync machinery honest:
// each tick it reclaims stale runs and dispatches due retry entries.
type SyncWorker struct {
	DB             *gorm.DB
	Tracker        *syncpkg.Tracker
	Queue          *syncpkg.RetryQueue
	Runner         *syncpkg.Runner
	StaleThreshold time.Duration
	Interval       time.Duration
	log            *logrus.Entry
}

func NewSyncWorker(db *gorm.DB, tracker *syncpkg.Tracker, queue *syncpkg.RetryQueue, runner *syncpkg.Runner, staleThreshold, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		DB:             db,
		Tracker:        tracker,
		Queue:          queue,
		Runner:         runner,
		StaleThreshold: staleThreshold,
		Interval:       interval,
		log:            logrus.WithField("component", "sync_worker"),
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(5 * time.Second)

	sw.log.Info("sync worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.log.Info("sync worker shutting down")
			return
		case <-ticker.C:
			sw.tick(ctx)
		}
	}
}

func (sw *SyncWorker) tick(ctx context.Context) {
	reclaimed, err := sw.Tracker.ReclaimStale(ctx, sw.StaleThreshold)
	if err != nil {
		sw.log.WithError(err).Error("stale run reclaim failed")
	} else if reclaimed > 0 {
		sw.log.WithField("count", reclaimed).Warn("reclaimed stale sync runs")
	}

	sw.dispatchRetries(ctx)
}

// dispatchRetries resumes every due retry entry. Entries whose source is
// mid-sync stay due and are picked up on a later tick.
func (sw *SyncWorker) dispatchRetries(ctx context.Context) {
	entries, err := sw.Queue.Due(time.Now())
	if err != nil {
		sw.log.WithError(err).Error("failed to fetch due retry entries")
		return
	}

	for i := range entries {
		entry := &entries[i]
		if err := sw.Runner.Resume(ctx, entry); err != nil {
			if err == syncpkg.ErrSyncInProgress {
				continue
			}
			sw.log.WithError(err).WithFields(logrus.Fields{
				"source_id": entry.SourceID,
				"unit":      entry.Unit,
			}).Warn("retry dispatch failed")
		}
	}
}
