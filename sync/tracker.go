package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salespulse/models"
)

// ErrSyncInProgress is returned by StartRun when a running sync already
// holds the source.
var ErrSyncInProgress = errors.New("a sync is already running for this source")

// Tracker persists per-source sync state: one SyncProgress row per run,
// advanced while pages are processed and reclaimed when a run goes stale.
type Tracker struct {
	db       *gorm.DB
	rdb      *redis.Client // optional lease backend
	leaseTTL time.Duration
	log      *logrus.Entry
}

func NewTracker(db *gorm.DB, rdb *redis.Client, leaseTTL time.Duration) *Tracker {
	return &Tracker{
		db:       db,
		rdb:      rdb,
		leaseTTL: leaseTTL,
		log:      logrus.WithField("component", "sync_tracker"),
	}
}

// StartRun creates a running SyncProgress row for the source and flips the
// source to syncing. The redis lease is the primary mutual-exclusion
// guard; the running-row check covers deployments without redis.
func (t *Tracker) StartRun(ctx context.Context, source *models.DataSource) (*models.SyncProgress, error) {
	runID := uuid.New().String()

	ok, err := acquireLease(ctx, t.rdb, source.ID, runID, t.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	var running int64
	if err := t.db.Model(&models.SyncProgress{}).
		Where("source_id = ? AND status = ?", source.ID, models.SyncStatusRunning).
		Count(&running).Error; err != nil {
		_ = releaseLease(ctx, t.rdb, source.ID, runID)
		return nil, err
	}
	if running > 0 {
		_ = releaseLease(ctx, t.rdb, source.ID, runID)
		return nil, ErrSyncInProgress
	}

	run := &models.SyncProgress{
		SourceID:    source.ID,
		WorkspaceID: source.WorkspaceID,
		RunID:       runID,
		Status:      models.SyncStatusRunning,
		StartedAt:   time.Now(),
	}
	if err := t.db.Create(run).Error; err != nil {
		_ = releaseLease(ctx, t.rdb, source.ID, runID)
		return nil, err
	}

	if err := t.db.Model(source).Updates(map[string]interface{}{
		"status": models.SourceStatusSyncing,
	}).Error; err != nil {
		return nil, err
	}

	t.log.WithFields(logrus.Fields{"source_id": source.ID, "run_id": runID}).Info("sync run started")
	return run, nil
}

// Advance bumps the processed counter and heartbeat timestamp of a running
// run. The processed count never decreases.
func (t *Tracker) Advance(run *models.SyncProgress, delta int, phase, cursor string) error {
	if delta < 0 {
		delta = 0
	}
	run.ProcessedUnits += delta
	if phase != "" {
		run.Phase = phase
	}
	run.Cursor = cursor

	return t.db.Model(run).Updates(map[string]interface{}{
		"processed_units": run.ProcessedUnits,
		"phase":           run.Phase,
		"cursor":          run.Cursor,
		"updated_at":      time.Now(),
	}).Error
}

// SetTotal records the expected unit count once a platform reports it.
func (t *Tracker) SetTotal(run *models.SyncProgress, total int) error {
	if total < run.TotalUnits {
		return nil
	}
	run.TotalUnits = total
	return t.db.Model(run).Update("total_units", total).Error
}

// Complete performs the terminal transition of a run and restores the
// owning source. Valid statuses are completed, partial and failed.
func (t *Tracker) Complete(ctx context.Context, run *models.SyncProgress, status string, runErrors []string) error {
	if run.IsTerminal() {
		return fmt.Errorf("sync run %s is already %s", run.RunID, run.Status)
	}

	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.Errors = runErrors

	if err := t.db.Model(run).Updates(map[string]interface{}{
		"status":       status,
		"completed_at": now,
		"errors":       run.Errors,
	}).Error; err != nil {
		return err
	}

	sourceStatus := models.SourceStatusIdle
	lastError := ""
	if status == models.SyncStatusFailed {
		sourceStatus = models.SourceStatusError
	}
	if len(runErrors) > 0 {
		lastError = runErrors[len(runErrors)-1]
	}

	if err := t.db.Model(&models.DataSource{}).Where("id = ?", run.SourceID).
		Updates(map[string]interface{}{
			"status":       sourceStatus,
			"last_sync_at": now,
			"last_error":   lastError,
		}).Error; err != nil {
		return err
	}

	if status == models.SyncStatusFailed {
		sentry.CaptureMessage(fmt.Sprintf("sync run %s failed for source %d: %s", run.RunID, run.SourceID, lastError))
	}

	t.log.WithFields(logrus.Fields{
		"source_id": run.SourceID,
		"run_id":    run.RunID,
		"status":    status,
		"processed": run.ProcessedUnits,
	}).Info("sync run finished")

	return releaseLease(ctx, t.rdb, run.SourceID, run.RunID)
}

// Latest returns the most recent run for a source, for progress polling.
func (t *Tracker) Latest(sourceID uint) (*models.SyncProgress, error) {
	var run models.SyncProgress
	err := t.db.Where("source_id = ?", sourceID).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ReclaimStale forces running runs whose heartbeat is older than the
// threshold into failed, resets their sources to idle and cancels any
// pending retry entries for those sources. There is no separate lease
// heartbeat: updated_at going stale is the crash signal, so the threshold
// must exceed any legitimate single-page fetch latency.
func (t *Tracker) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)

	var stale []models.SyncProgress
	if err := t.db.Where("status = ? AND updated_at < ?", models.SyncStatusRunning, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	reclaimed := 0
	for i := range stale {
		run := &stale[i]
		synthetic := fmt.Sprintf("sync run reclaimed: no progress update since %s (threshold %s)",
			run.UpdatedAt.Format(time.RFC3339), threshold)

		run.Errors = append(run.Errors, synthetic)
		now := time.Now()
		if err := t.db.Model(run).Updates(map[string]interface{}{
			"status":       models.SyncStatusFailed,
			"completed_at": now,
			"errors":       run.Errors,
		}).Error; err != nil {
			t.log.WithError(err).Warnf("failed to reclaim run %s", run.RunID)
			continue
		}

		if err := t.db.Model(&models.DataSource{}).Where("id = ?", run.SourceID).
			Updates(map[string]interface{}{
				"status":     models.SourceStatusIdle,
				"last_error": synthetic,
			}).Error; err != nil {
			t.log.WithError(err).Warnf("failed to reset source %d after reclaim", run.SourceID)
		}

		if err := t.db.Model(&models.SyncRetryEntry{}).
			Where("source_id = ? AND status = ?", run.SourceID, models.RetryStatusPending).
			Update("status", models.RetryStatusCancelled).Error; err != nil {
			t.log.WithError(err).Warnf("failed to cancel pending retries for source %d", run.SourceID)
		}

		if err := dropLease(ctx, t.rdb, run.SourceID); err != nil {
			t.log.WithError(err).Warnf("failed to drop lease for source %d", run.SourceID)
		}

		sentry.CaptureMessage(synthetic)
		t.log.WithFields(logrus.Fields{"source_id": run.SourceID, "run_id": run.RunID}).
			Warn("reclaimed stale sync run")
		reclaimed++
	}

	return reclaimed, nil
}
