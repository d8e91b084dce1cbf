package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"salespulse/adapters"
	"salespulse/models"
)

// fakeAdapter serves canned pages keyed by cursor. An empty next cursor
// ends the unit.
type fakeAdapter struct {
	campaignPages map[string]fakePage[adapters.CampaignRecord]
	contactPages  map[string]fakePage[adapters.ContactRecord]
	callPages     map[string]fakePage[adapters.CallRecord]
	campaignErr   error
	contactErr    error
	callErr       error
}

type fakePage[T any] struct {
	records []T
	next    string
}

func (f *fakeAdapter) FetchCampaignPage(ctx context.Context, cursor string) ([]adapters.CampaignRecord, string, error) {
	if f.campaignErr != nil {
		return nil, "", f.campaignErr
	}
	page := f.campaignPages[cursor]
	return page.records, page.next, nil
}

func (f *fakeAdapter) FetchContactPage(ctx context.Context, cursor string) ([]adapters.ContactRecord, string, error) {
	if f.contactErr != nil {
		return nil, "", f.contactErr
	}
	page := f.contactPages[cursor]
	return page.records, page.next, nil
}

func (f *fakeAdapter) FetchCallPage(ctx context.Context, cursor string) ([]adapters.CallRecord, string, error) {
	if f.callErr != nil {
		return nil, "", f.callErr
	}
	page := f.callPages[cursor]
	return page.records, page.next, nil
}

type nopRollups struct{ calls int }

func (n *nopRollups) RecomputeForSource(ctx context.Context, sourceID uint) error {
	n.calls++
	return nil
}

func newTestRunner(db *gorm.DB, adapter adapters.SourceAdapter, rollups RollupEngine) (*Runner, *RetryQueue) {
	tracker := newTestTracker(db)
	queue := NewRetryQueue(db, &recordingNotifier{}, time.Second, 30*time.Second, 5)
	factory := func(*models.DataSource) (adapters.SourceAdapter, error) { return adapter, nil }
	return NewRunner(db, tracker, queue, factory, rollups), queue
}

func twoPageAdapter() *fakeAdapter {
	return &fakeAdapter{
		campaignPages: map[string]fakePage[adapters.CampaignRecord]{
			"": {
				records: []adapters.CampaignRecord{
					{ExternalID: "cmp-1", Name: "Spring Launch", TotalSent: 500,
						Variants: []adapters.VariantRecord{{ExternalID: "var-1", Subject: "Hello", TotalSent: 250}}},
				},
				next: "offset:1",
			},
			"offset:1": {
				records: []adapters.CampaignRecord{
					{ExternalID: "cmp-2", Name: "Renewal Push", TotalSent: 300},
				},
			},
		},
		contactPages: map[string]fakePage[adapters.ContactRecord]{
			"": {records: []adapters.ContactRecord{
				{ExternalID: "ld-1", Email: "jo@acme.com", FirstName: "Jo"},
				{ExternalID: "ld-2", Email: "sam@acme.com", FirstName: "Sam"},
			}},
		},
		callPages: map[string]fakePage[adapters.CallRecord]{
			"": {records: []adapters.CallRecord{
				{ExternalID: "call-1", RepName: "Dana", Disposition: "connected",
					DurationSeconds: 320, RecordingURL: "https://rec.example.com/1", CalledAt: time.Now()},
			}},
		},
	}
}

func TestRunFullSyncCompletes(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	rollups := &nopRollups{}
	runner, _ := newTestRunner(db, twoPageAdapter(), rollups)

	run, err := runner.Run(context.Background(), source.ID, ModeFull)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 5, run.ProcessedUnits)
	assert.Equal(t, 1, rollups.calls)

	var campaigns int64
	require.NoError(t, db.Model(&models.Campaign{}).Where("source_id = ?", source.ID).Count(&campaigns).Error)
	assert.Equal(t, int64(2), campaigns)

	var variant models.CampaignVariant
	require.NoError(t, db.Where("external_id = ?", "var-1").First(&variant).Error)
	assert.Equal(t, 250, variant.TotalSent)

	var contacts int64
	require.NoError(t, db.Model(&models.Contact{}).Where("source_id = ?", source.ID).Count(&contacts).Error)
	assert.Equal(t, int64(2), contacts)

	var resetSource models.DataSource
	require.NoError(t, db.First(&resetSource, source.ID).Error)
	assert.Equal(t, models.SourceStatusIdle, resetSource.Status)
	assert.NotNil(t, resetSource.LastSyncAt)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	runner, _ := newTestRunner(db, twoPageAdapter(), &nopRollups{})

	_, err := runner.Run(context.Background(), source.ID, ModeFull)
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), source.ID, ModeFull)
	require.NoError(t, err)

	var campaigns, contacts, calls int64
	require.NoError(t, db.Model(&models.Campaign{}).Where("source_id = ?", source.ID).Count(&campaigns).Error)
	require.NoError(t, db.Model(&models.Contact{}).Where("source_id = ?", source.ID).Count(&contacts).Error)
	require.NoError(t, db.Model(&models.CallActivity{}).Where("source_id = ?", source.ID).Count(&calls).Error)
	assert.Equal(t, int64(2), campaigns)
	assert.Equal(t, int64(2), contacts)
	assert.Equal(t, int64(1), calls)
}

func TestRunTransientFailureParksUnit(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	adapter := twoPageAdapter()
	adapter.callErr = &adapters.TransientError{StatusCode: 503, Msg: "upstream overloaded"}
	runner, queue := newTestRunner(db, adapter, &nopRollups{})

	run, err := runner.Run(context.Background(), source.ID, ModeFull)
	require.NoError(t, err)

	// Campaigns and contacts still landed; the run is partial
	assert.Equal(t, models.SyncStatusPartial, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "calls")

	var campaigns int64
	require.NoError(t, db.Model(&models.Campaign{}).Where("source_id = ?", source.ID).Count(&campaigns).Error)
	assert.Equal(t, int64(2), campaigns)

	due, err := queue.Due(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, adapters.UnitCalls, due[0].Unit)
	assert.Equal(t, 1, due[0].RetryCount)
}

func TestRunAuthFailureAborts(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	adapter := twoPageAdapter()
	adapter.campaignErr = adapters.ErrAuth
	runner, queue := newTestRunner(db, adapter, &nopRollups{})

	run, err := runner.Run(context.Background(), source.ID, ModeFull)
	require.Error(t, err)
	assert.Equal(t, models.SyncStatusFailed, run.Status)

	// Auth failures never hit the retry queue
	due, qerr := queue.Due(time.Now().Add(time.Hour))
	require.NoError(t, qerr)
	assert.Empty(t, due)

	var flagged models.DataSource
	require.NoError(t, db.First(&flagged, source.ID).Error)
	assert.Equal(t, models.SourceStatusError, flagged.Status)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	runner, _ := newTestRunner(db, twoPageAdapter(), &nopRollups{})

	tracker := newTestTracker(db)
	_, err := tracker.StartRun(context.Background(), source)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), source.ID, ModeFull)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestResumeClosesEntryOnSuccess(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	runner, queue := newTestRunner(db, twoPageAdapter(), &nopRollups{})

	entry, err := queue.Enqueue(source, adapters.UnitCalls, "", assert.AnError)
	require.NoError(t, err)

	require.NoError(t, runner.Resume(context.Background(), entry))

	var closed models.SyncRetryEntry
	require.NoError(t, db.First(&closed, entry.ID).Error)
	assert.Equal(t, models.RetryStatusDone, closed.Status)

	var calls int64
	require.NoError(t, db.Model(&models.CallActivity{}).Where("source_id = ?", source.ID).Count(&calls).Error)
	assert.Equal(t, int64(1), calls)
}

func TestResumePermanentFailureDeadLetters(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)
	adapter := twoPageAdapter()
	adapter.callErr = adapters.ErrAuth
	runner, queue := newTestRunner(db, adapter, &nopRollups{})

	entry, err := queue.Enqueue(source, adapters.UnitCalls, "", assert.AnError)
	require.NoError(t, err)

	require.NoError(t, runner.Resume(context.Background(), entry))

	var dead models.SyncRetryEntry
	require.NoError(t, db.First(&dead, entry.ID).Error)
	assert.Equal(t, models.RetryStatusDead, dead.Status)
}

func TestIncrementalStopsOnSeenPage(t *testing.T) {
	db := newTestDB(t)
	source := newTestSource(t, db)

	lastSync := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(source).Update("last_sync_at", lastSync).Error)
	require.NoError(t, db.First(source, source.ID).Error)

	// First page entirely predates the last sync; the second page must
	// never be requested.
	adapter := &fakeAdapter{
		campaignPages: map[string]fakePage[adapters.CampaignRecord]{
			"": {
				records: []adapters.CampaignRecord{
					{ExternalID: "cmp-old", Name: "Old", UpdatedAt: lastSync.Add(-24 * time.Hour)},
				},
				next: "offset:1",
			},
			"offset:1": {
				records: []adapters.CampaignRecord{
					{ExternalID: "cmp-older", Name: "Older", UpdatedAt: lastSync.Add(-48 * time.Hour)},
				},
			},
		},
		contactPages: map[string]fakePage[adapters.ContactRecord]{},
		callPages:    map[string]fakePage[adapters.CallRecord]{},
	}
	runner, _ := newTestRunner(db, adapter, &nopRollups{})

	run, err := runner.Run(context.Background(), source.ID, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, run.Status)

	var count int64
	require.NoError(t, db.Model(&models.Campaign{}).Where("source_id = ?", source.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
