package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"salespulse/models"
)

func newTestTracker(db *gorm.DB) *Tracker {
	// No redis in tests: mutual exclusion falls back to the running-row check
	return NewTracker(db, nil, 10*time.Minute)
}

func TestStartRunCreatesRunningRow(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	run, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)

	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, models.SyncStatusRunning, run.Status)
	assert.Equal(t, source.ID, run.SourceID)
	assert.False(t, run.IsTerminal())

	var persisted models.DataSource
	require.NoError(t, db.First(&persisted, source.ID).Error)
	assert.Equal(t, models.SourceStatusSyncing, persisted.Status)
}

func TestStartRunRejectsConcurrentSync(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	_, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)

	_, err = tracker.StartRun(context.Background(), source)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestStartRunAllowedAfterCompletion(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	run, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)
	require.NoError(t, tracker.Complete(context.Background(), run, models.SyncStatusCompleted, nil))

	second, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)
	assert.NotEqual(t, run.RunID, second.RunID)
}

func TestAdvanceNeverDecreases(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	run, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)

	require.NoError(t, tracker.Advance(run, 40, "campaigns", "offset:40"))
	require.NoError(t, tracker.Advance(run, -10, "campaigns", "offset:40"))
	assert.Equal(t, 40, run.ProcessedUnits)

	require.NoError(t, tracker.Advance(run, 25, "contacts", "offset:65"))
	assert.Equal(t, 65, run.ProcessedUnits)
	assert.Equal(t, "contacts", run.Phase)
	assert.Equal(t, "offset:65", run.Cursor)

	var persisted models.SyncProgress
	require.NoError(t, db.First(&persisted, run.ID).Error)
	assert.Equal(t, 65, persisted.ProcessedUnits)
}

func TestCompleteIsTerminal(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	run, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)

	runErrors := []string{"calls page 3: upstream returned 503"}
	require.NoError(t, tracker.Complete(context.Background(), run, models.SyncStatusPartial, runErrors))

	assert.True(t, run.IsTerminal())
	require.NotNil(t, run.CompletedAt)

	// A completed run cannot transition again
	err = tracker.Complete(context.Background(), run, models.SyncStatusFailed, nil)
	assert.Error(t, err)

	var persisted models.DataSource
	require.NoError(t, db.First(&persisted, source.ID).Error)
	assert.Equal(t, models.SourceStatusIdle, persisted.Status)
	assert.NotNil(t, persisted.LastSyncAt)
	assert.Equal(t, runErrors[0], persisted.LastError)
}

func TestCompleteFailedFlagsSource(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	run, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)
	require.NoError(t, tracker.Complete(context.Background(), run,
		models.SyncStatusFailed, []string{"invalid credentials"}))

	var persisted models.DataSource
	require.NoError(t, db.First(&persisted, source.ID).Error)
	assert.Equal(t, models.SourceStatusError, persisted.Status)
	assert.Equal(t, "invalid credentials", persisted.LastError)
}

func TestLatestReturnsMostRecentRun(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	source := newTestSource(t, db)

	first, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)
	require.NoError(t, tracker.Complete(context.Background(), first, models.SyncStatusCompleted, nil))

	// Push the second run clearly past the first
	second, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)
	require.NoError(t, db.Model(second).
		UpdateColumn("started_at", first.StartedAt.Add(time.Minute)).Error)

	latest, err := tracker.Latest(source.ID)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)
}

func TestReclaimStale(t *testing.T) {
	db := newTestDB(t)
	tracker := newTestTracker(db)
	queue := NewRetryQueue(db, &recordingNotifier{}, time.Second, 30*time.Second, 5)

	staleSource := newTestSource(t, db)
	staleRun, err := tracker.StartRun(context.Background(), staleSource)
	require.NoError(t, err)
	// Heartbeat frozen ten minutes ago
	require.NoError(t, db.Model(staleRun).
		UpdateColumn("updated_at", time.Now().Add(-10*time.Minute)).Error)

	// A pending retry for the stale source that must be cancelled
	_, err = queue.Enqueue(staleSource, "campaigns", "", assert.AnError)
	require.NoError(t, err)

	healthySource := &models.DataSource{
		WorkspaceID: 1, EngagementID: 1, Name: "Fresh Dialer",
		Type: models.SourceTypeDialer, BaseURL: "https://dialer.example.com",
		IsActive: true, Status: models.SourceStatusIdle,
	}
	require.NoError(t, db.Create(healthySource).Error)
	healthyRun, err := tracker.StartRun(context.Background(), healthySource)
	require.NoError(t, err)
	require.NoError(t, db.Model(healthyRun).
		UpdateColumn("updated_at", time.Now().Add(-time.Minute)).Error)

	reclaimed, err := tracker.ReclaimStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	var failed models.SyncProgress
	require.NoError(t, db.First(&failed, staleRun.ID).Error)
	assert.Equal(t, models.SyncStatusFailed, failed.Status)
	require.NotNil(t, failed.CompletedAt)
	require.NotEmpty(t, failed.Errors)
	assert.Contains(t, failed.Errors[len(failed.Errors)-1], "reclaimed")

	var resetSource models.DataSource
	require.NoError(t, db.First(&resetSource, staleSource.ID).Error)
	assert.Equal(t, models.SourceStatusIdle, resetSource.Status)

	var cancelled models.SyncRetryEntry
	require.NoError(t, db.Where("source_id = ?", staleSource.ID).First(&cancelled).Error)
	assert.Equal(t, models.RetryStatusCancelled, cancelled.Status)

	// The healthy run keeps going untouched
	var alive models.SyncProgress
	require.NoError(t, db.First(&alive, healthyRun.ID).Error)
	assert.Equal(t, models.SyncStatusRunning, alive.Status)
}
