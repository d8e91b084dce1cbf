package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salespulse/adapters"
	"salespulse/models"
)

// Sync modes
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Phase labels recorded on the progress row
const (
	PhaseRollups = "rollups"
)

// AdapterFactory builds the platform client for a source, decrypting its
// stored credentials.
type AdapterFactory func(source *models.DataSource) (adapters.SourceAdapter, error)

// RollupEngine recomputes derived metrics after a successful sync.
// Implemented by the metrics service.
type RollupEngine interface {
	RecomputeForSource(ctx context.Context, sourceID uint) error
}

// Runner drives a full sync for one source: page loop per unit, idempotent
// upserts, progress advancement, and retry enqueueing on transient
// failure. Each invocation is independent; concurrency across sources is
// achieved by running multiple Runners in parallel.
type Runner struct {
	db         *gorm.DB
	tracker    *Tracker
	queue      *RetryQueue
	newAdapter AdapterFactory
	rollups    RollupEngine
	log        *logrus.Entry
}

func NewRunner(db *gorm.DB, tracker *Tracker, queue *RetryQueue, factory AdapterFactory, rollups RollupEngine) *Runner {
	return &Runner{
		db:         db,
		tracker:    tracker,
		queue:      queue,
		newAdapter: factory,
		rollups:    rollups,
		log:        logrus.WithField("component", "sync_runner"),
	}
}

// Run executes a sync for the source. Transient unit failures are parked
// on the retry queue and the run completes as partial; auth and other
// permanent failures abort the run as failed.
func (r *Runner) Run(ctx context.Context, sourceID uint, mode string) (*models.SyncProgress, error) {
	var source models.DataSource
	if err := r.db.Where("id = ? AND is_active = ?", sourceID, true).First(&source).Error; err != nil {
		return nil, fmt.Errorf("source %d not found or inactive: %w", sourceID, err)
	}

	run, err := r.tracker.StartRun(ctx, &source)
	if err != nil {
		return nil, err
	}

	adapter, err := r.newAdapter(&source)
	if err != nil {
		_ = r.tracker.Complete(ctx, run, models.SyncStatusFailed, []string{err.Error()})
		return run, err
	}

	var unitErrors []string
	for _, unit := range []string{adapters.UnitCampaigns, adapters.UnitContacts, adapters.UnitCalls} {
		if err := r.syncUnit(ctx, run, &source, adapter, unit, "", mode); err != nil {
			if adapters.IsTransient(err) {
				// Park the unit and keep going; sibling units still sync.
				if _, qerr := r.queue.Enqueue(&source, unit, run.Cursor, err); qerr != nil {
					r.log.WithError(qerr).Error("failed to enqueue retry entry")
				}
				unitErrors = append(unitErrors, fmt.Sprintf("%s: %s", unit, err.Error()))
				continue
			}
			// Auth/permanent errors abort the whole run.
			unitErrors = append(unitErrors, fmt.Sprintf("%s: %s", unit, err.Error()))
			_ = r.tracker.Complete(ctx, run, models.SyncStatusFailed, unitErrors)
			return run, err
		}
	}

	if err := r.tracker.Advance(run, 0, PhaseRollups, ""); err != nil {
		r.log.WithError(err).Warn("failed to record rollup phase")
	}
	if err := r.rollups.RecomputeForSource(ctx, source.ID); err != nil {
		unitErrors = append(unitErrors, fmt.Sprintf("rollups: %s", err.Error()))
	}

	status := models.SyncStatusCompleted
	if len(unitErrors) > 0 {
		status = models.SyncStatusPartial
	}
	if err := r.tracker.Complete(ctx, run, status, unitErrors); err != nil {
		return run, err
	}
	return run, nil
}

// Resume re-runs a single unit from the cursor stored on a retry entry.
// Called by the background worker for due entries. On success the entry is
// closed; on another transient failure it is rescheduled with backoff.
func (r *Runner) Resume(ctx context.Context, entry *models.SyncRetryEntry) error {
	var source models.DataSource
	if err := r.db.Where("id = ? AND is_active = ?", entry.SourceID, true).First(&source).Error; err != nil {
		// Source removed since the failure: nothing to retry.
		return r.queue.MarkDone(entry)
	}

	run, err := r.tracker.StartRun(ctx, &source)
	if err != nil {
		return err // likely ErrSyncInProgress, the entry stays due
	}

	err = r.syncUnit(ctx, run, &source, nil, entry.Unit, entry.Cursor, ModeIncremental)
	if err != nil {
		_ = r.tracker.Complete(ctx, run, models.SyncStatusFailed, []string{err.Error()})
		if adapters.IsTransient(err) {
			_, serr := r.queue.ScheduleNext(entry, err)
			return serr
		}
		// Permanent failure: no point rescheduling.
		_, serr := forceDeadLetter(r.queue, entry, err)
		return serr
	}

	if err := r.queue.MarkDone(entry); err != nil {
		return err
	}
	if err := r.rollups.RecomputeForSource(ctx, source.ID); err != nil {
		_ = r.tracker.Complete(ctx, run, models.SyncStatusPartial, []string{fmt.Sprintf("rollups: %s", err.Error())})
		return nil
	}
	return r.tracker.Complete(ctx, run, models.SyncStatusCompleted, nil)
}

// syncUnit pulls every page of one unit starting at cursor. A nil adapter
// is rebuilt from the source (Resume path).
func (r *Runner) syncUnit(ctx context.Context, run *models.SyncProgress, source *models.DataSource, adapter adapters.SourceAdapter, unit, cursor, mode string) error {
	if adapter == nil {
		var err error
		adapter, err = r.newAdapter(source)
		if err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var (
			processed  int
			nextCursor string
			err        error
		)

		switch unit {
		case adapters.UnitCampaigns:
			var records []adapters.CampaignRecord
			records, nextCursor, err = adapter.FetchCampaignPage(ctx, cursor)
			if err == nil {
				processed, err = r.upsertCampaigns(source, records)
				if err == nil && mode == ModeIncremental && r.allCampaignsSeen(source, records) {
					nextCursor = ""
				}
			}
		case adapters.UnitContacts:
			var records []adapters.ContactRecord
			records, nextCursor, err = adapter.FetchContactPage(ctx, cursor)
			if err == nil {
				processed, err = r.upsertContacts(source, records)
			}
		case adapters.UnitCalls:
			var records []adapters.CallRecord
			records, nextCursor, err = adapter.FetchCallPage(ctx, cursor)
			if err == nil {
				processed, err = r.upsertCalls(source, records)
				if err == nil && mode == ModeIncremental && r.allCallsSeen(source, records) {
					nextCursor = ""
				}
			}
		default:
			return fmt.Errorf("unknown sync unit %q", unit)
		}

		if err != nil {
			// Remember where the failure happened so a retry can resume.
			run.Cursor = cursor
			return err
		}

		if err := r.tracker.Advance(run, processed, unit, nextCursor); err != nil {
			return err
		}

		if nextCursor == "" {
			return nil
		}
		cursor = nextCursor
	}
}

func (r *Runner) upsertCampaigns(source *models.DataSource, records []adapters.CampaignRecord) (int, error) {
	for _, rec := range records {
		campaign := models.Campaign{
			EngagementID:      source.EngagementID,
			SourceID:          source.ID,
			ExternalID:        rec.ExternalID,
			Name:              rec.Name,
			Status:            rec.Status,
			TotalSent:         rec.TotalSent,
			TotalDelivered:    rec.TotalDelivered,
			TotalReplied:      rec.TotalReplied,
			TotalBounced:      rec.TotalBounced,
			TotalPositive:     rec.TotalPositive,
			PlatformCreatedAt: rec.CreatedAt,
			PlatformUpdatedAt: rec.UpdatedAt,
		}
		err := r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "status", "total_sent", "total_delivered", "total_replied",
				"total_bounced", "total_positive", "platform_updated_at", "updated_at",
			}),
		}).Create(&campaign).Error
		if err != nil {
			return 0, fmt.Errorf("failed to upsert campaign %s: %w", rec.ExternalID, err)
		}

		// The upsert may not populate ID on conflict; resolve it for variants.
		if campaign.ID == 0 {
			if err := r.db.Where("source_id = ? AND external_id = ?", source.ID, rec.ExternalID).
				First(&campaign).Error; err != nil {
				return 0, err
			}
		}

		for _, v := range rec.Variants {
			variant := models.CampaignVariant{
				CampaignID:    campaign.ID,
				ExternalID:    v.ExternalID,
				Subject:       v.Subject,
				StepLabel:     v.StepLabel,
				TotalSent:     v.TotalSent,
				TotalReplied:  v.TotalReplied,
				TotalBounced:  v.TotalBounced,
				TotalPositive: v.TotalPositive,
			}
			err := r.db.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "campaign_id"}, {Name: "external_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"subject", "step_label", "total_sent", "total_replied",
					"total_bounced", "total_positive", "updated_at",
				}),
			}).Create(&variant).Error
			if err != nil {
				return 0, fmt.Errorf("failed to upsert variant %s: %w", v.ExternalID, err)
			}
		}
	}
	return len(records), nil
}

func (r *Runner) upsertContacts(source *models.DataSource, records []adapters.ContactRecord) (int, error) {
	for _, rec := range records {
		contact := models.Contact{
			EngagementID: source.EngagementID,
			SourceID:     source.ID,
			ExternalID:   rec.ExternalID,
			Email:        rec.Email,
			FirstName:    rec.FirstName,
			LastName:     rec.LastName,
			Company:      rec.Company,
			Title:        rec.Title,
			Phone:        rec.Phone,
		}
		err := r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email", "first_name", "last_name", "company", "title", "phone", "updated_at",
			}),
		}).Create(&contact).Error
		if err != nil {
			return 0, fmt.Errorf("failed to upsert contact %s: %w", rec.ExternalID, err)
		}
	}
	return len(records), nil
}

func (r *Runner) upsertCalls(source *models.DataSource, records []adapters.CallRecord) (int, error) {
	for _, rec := range records {
		call := models.CallActivity{
			EngagementID:    source.EngagementID,
			SourceID:        source.ID,
			ExternalID:      rec.ExternalID,
			RepName:         rec.RepName,
			Disposition:     rec.Disposition,
			DurationSeconds: rec.DurationSeconds,
			RecordingURL:    rec.RecordingURL,
			CalledAt:        rec.CalledAt,
		}
		// Transcript and score columns are owned by the pipeline, so the
		// conflict update must not touch them.
		err := r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"rep_name", "disposition", "duration_seconds", "recording_url", "updated_at",
			}),
		}).Create(&call).Error
		if err != nil {
			return 0, fmt.Errorf("failed to upsert call %s: %w", rec.ExternalID, err)
		}
	}
	return len(records), nil
}

// allCampaignsSeen reports whether every campaign in the page predates the
// source's last successful sync, which lets incremental runs stop paging
// early on platforms that order by recency.
func (r *Runner) allCampaignsSeen(source *models.DataSource, records []adapters.CampaignRecord) bool {
	if source.LastSyncAt == nil || len(records) == 0 {
		return false
	}
	for _, rec := range records {
		if rec.UpdatedAt.After(*source.LastSyncAt) {
			return false
		}
	}
	return true
}

func (r *Runner) allCallsSeen(source *models.DataSource, records []adapters.CallRecord) bool {
	if source.LastSyncAt == nil || len(records) == 0 {
		return false
	}
	for _, rec := range records {
		if rec.CalledAt.After(*source.LastSyncAt) {
			return false
		}
	}
	return true
}

// forceDeadLetter exhausts an entry's budget after a permanent failure so it
// dead-letters instead of burning pointless retries.
func forceDeadLetter(q *RetryQueue, entry *models.SyncRetryEntry, cause error) (time.Time, error) {
	entry.RetryCount = entry.MaxRetries
	return q.ScheduleNext(entry, cause)
}
