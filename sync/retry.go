package sync

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salespulse/models"
	"salespulse/utils"
)

// RetryQueue is a durable queue of failed sync units. Entries back off
// exponentially; entries that exhaust their budget become dead letters and
// stay queryable for manual intervention.
type RetryQueue struct {
	db           *gorm.DB
	notifier     utils.Notifier
	initialDelay time.Duration
	maxDelay     time.Duration
	maxRetries   int
	log          *logrus.Entry
}

func NewRetryQueue(db *gorm.DB, notifier utils.Notifier, initialDelay, maxDelay time.Duration, maxRetries int) *RetryQueue {
	return &RetryQueue{
		db:           db,
		notifier:     notifier,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		maxRetries:   maxRetries,
		log:          logrus.WithField("component", "retry_queue"),
	}
}

// Enqueue records a failed sync unit. The first attempt is scheduled
// immediately at one initial delay out.
func (q *RetryQueue) Enqueue(source *models.DataSource, unit, cursor string, cause error) (*models.SyncRetryEntry, error) {
	entry := &models.SyncRetryEntry{
		SourceID:    source.ID,
		WorkspaceID: source.WorkspaceID,
		Unit:        unit,
		Cursor:      cursor,
		RetryCount:  0,
		MaxRetries:  q.maxRetries,
		Status:      models.RetryStatusPending,
		LastError:   cause.Error(),
		NextRetryAt: time.Now(), // placeholder, ScheduleNext sets the real time
	}
	if err := q.db.Create(entry).Error; err != nil {
		return nil, err
	}
	if _, err := q.ScheduleNext(entry, cause); err != nil {
		return nil, err
	}

	q.log.WithFields(logrus.Fields{
		"source_id": source.ID,
		"unit":      unit,
		"next_at":   entry.NextRetryAt,
	}).Info("enqueued sync unit for retry")
	return entry, nil
}

// ScheduleNext advances an entry to its next attempt:
//
//	delay = min(initialDelay * 2^(retry_count-1), maxDelay)
//
// Once retry_count exceeds max_retries the entry is dead-lettered, never
// rescheduled, and surfaced via the notifier.
func (q *RetryQueue) ScheduleNext(entry *models.SyncRetryEntry, cause error) (time.Time, error) {
	entry.RetryCount++
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if entry.RetryCount > entry.MaxRetries {
		return time.Time{}, q.deadLetter(entry)
	}

	entry.Status = models.RetryStatusPending
	entry.NextRetryAt = time.Now().Add(q.Delay(entry.RetryCount))

	err := q.db.Model(entry).Updates(map[string]interface{}{
		"retry_count":   entry.RetryCount,
		"next_retry_at": entry.NextRetryAt,
		"status":        entry.Status,
		"last_error":    entry.LastError,
	}).Error
	if err != nil {
		return time.Time{}, err
	}
	return entry.NextRetryAt, nil
}

// Delay returns the backoff delay for the n-th attempt (1-based).
func (q *RetryQueue) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := q.initialDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= q.maxDelay {
			return q.maxDelay
		}
	}
	if delay > q.maxDelay {
		return q.maxDelay
	}
	return delay
}

func (q *RetryQueue) deadLetter(entry *models.SyncRetryEntry) error {
	entry.Status = models.RetryStatusDead
	if err := q.db.Model(entry).Updates(map[string]interface{}{
		"retry_count": entry.RetryCount,
		"status":      models.RetryStatusDead,
		"last_error":  entry.LastError,
	}).Error; err != nil {
		return err
	}

	var source models.DataSource
	sourceName := fmt.Sprintf("source %d", entry.SourceID)
	if err := q.db.First(&source, entry.SourceID).Error; err == nil {
		sourceName = source.Name
	}

	if err := q.notifier.NotifyDeadLetter(sourceName, entry.Unit, entry.LastError, entry.RetryCount-1); err != nil {
		q.log.WithError(err).Warn("failed to send dead letter alert")
	}
	sentry.CaptureMessage(fmt.Sprintf("sync unit dead-lettered: %s/%s after %d attempts: %s",
		sourceName, entry.Unit, entry.RetryCount-1, entry.LastError))

	q.log.WithFields(logrus.Fields{
		"source_id": entry.SourceID,
		"unit":      entry.Unit,
		"attempts":  entry.RetryCount - 1,
	}).Error("sync unit exhausted retry budget")
	return nil
}

// Due returns pending entries whose next_retry_at has passed, oldest first.
func (q *RetryQueue) Due(now time.Time) ([]models.SyncRetryEntry, error) {
	var entries []models.SyncRetryEntry
	err := q.db.Where("status = ? AND next_retry_at <= ?", models.RetryStatusPending, now).
		Order("next_retry_at ASC").
		Find(&entries).Error
	return entries, err
}

// MarkDone closes an entry after a successful retry.
func (q *RetryQueue) MarkDone(entry *models.SyncRetryEntry) error {
	entry.Status = models.RetryStatusDone
	return q.db.Model(entry).Update("status", models.RetryStatusDone).Error
}

// DeadLetters lists exhausted entries for the dead-letter view.
func (q *RetryQueue) DeadLetters(workspaceID uint) ([]models.SyncRetryEntry, error) {
	var entries []models.SyncRetryEntry
	query := q.db.Where("status = ?", models.RetryStatusDead)
	if workspaceID != 0 {
		query = query.Where("workspace_id = ?", workspaceID)
	}
	err := query.Order("updated_at DESC").Find(&entries).Error
	return entries, err
}
