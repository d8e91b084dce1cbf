package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"salespulse/models"
	"salespulse/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.Migrate(db))
	return db
}

// fakeScorer transcribes and scores deterministically and fails on
// recording URLs listed in failTranscribe.
type fakeScorer struct {
	failTranscribe map[string]bool
	failScore      map[string]bool
	transcribes    int
	scores         int
}

func (f *fakeScorer) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	f.transcribes++
	if f.failTranscribe[recordingURL] {
		return "", errors.New("audio download failed")
	}
	return "transcript of " + recordingURL, nil
}

func (f *fakeScorer) Score(ctx context.Context, transcript string) (float64, string, error) {
	f.scores++
	if f.failScore[transcript] {
		return 0, "", errors.New("model overloaded")
	}
	return 7.5, "clear discovery questions, weak close", nil
}

func seedCalls(t *testing.T, db *gorm.DB, n int) []models.CallActivity {
	t.Helper()
	calls := make([]models.CallActivity, 0, n)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		call := models.CallActivity{
			EngagementID:    1,
			SourceID:        1,
			ExternalID:      fmt.Sprintf("call-%d", i+1),
			RepName:         "Dana",
			Disposition:     "connected",
			DurationSeconds: 300,
			RecordingURL:    fmt.Sprintf("https://rec.example.com/%d", i+1),
			CalledAt:        base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, db.Create(&call).Error)
		calls = append(calls, call)
	}
	return calls
}

func TestRunBatchPendingProcessesAll(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{}
	orch := NewOrchestrator(db, scorer, 0)
	seedCalls(t, db, 3)

	result, err := orch.RunBatch(context.Background(), 1, 25, ModePending)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Transcribed)
	assert.Equal(t, 3, result.Scored)
	assert.Empty(t, result.Errors)

	var done []models.CallActivity
	require.NoError(t, db.Where("source_id = ?", 1).Find(&done).Error)
	for _, call := range done {
		assert.True(t, call.HasTranscript())
		assert.True(t, call.HasScore())
		assert.NotNil(t, call.TranscribedAt)
		assert.NotNil(t, call.ScoredAt)
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{failTranscribe: map[string]bool{
		"https://rec.example.com/3": true,
	}}
	orch := NewOrchestrator(db, scorer, 0)
	seedCalls(t, db, 5)

	result, err := orch.RunBatch(context.Background(), 1, 25, ModePending)
	require.NoError(t, err)

	// One bad recording never aborts the batch
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 4, result.Transcribed)
	assert.Equal(t, 4, result.Scored)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "transcription failed")

	var withTranscript int64
	require.NoError(t, db.Model(&models.CallActivity{}).
		Where("transcript != ''").Count(&withTranscript).Error)
	assert.Equal(t, int64(4), withTranscript)

	var failed models.CallActivity
	require.NoError(t, db.Where("external_id = ?", "call-3").First(&failed).Error)
	assert.False(t, failed.HasTranscript())
	assert.False(t, failed.HasScore())
}

func TestRunBatchTranscribeModeStopsBeforeScoring(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{}
	orch := NewOrchestrator(db, scorer, 0)
	seedCalls(t, db, 2)

	result, err := orch.RunBatch(context.Background(), 1, 25, ModeTranscribe)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Transcribed)
	assert.Equal(t, 0, result.Scored)
	assert.Equal(t, 0, scorer.scores)
}

func TestRunBatchScoreModeOnlyTakesTranscribed(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{}
	orch := NewOrchestrator(db, scorer, 0)
	calls := seedCalls(t, db, 3)

	// Only the first call has a transcript
	require.NoError(t, db.Model(&calls[0]).Updates(map[string]interface{}{
		"transcript":     "existing transcript",
		"transcribed_at": utils.Pointer(time.Now()),
	}).Error)

	result, err := orch.RunBatch(context.Background(), 1, 25, ModeScore)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Scored)
	assert.Equal(t, 0, scorer.transcribes)

	var scored models.CallActivity
	require.NoError(t, db.First(&scored, calls[0].ID).Error)
	require.NotNil(t, scored.Score)
	assert.InDelta(t, 7.5, *scored.Score, 0.0001)
	assert.Equal(t, "clear discovery questions, weak close", scored.ScoreJustification)
}

func TestRunBatchSkipsAlreadyProcessed(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{}
	orch := NewOrchestrator(db, scorer, 0)
	calls := seedCalls(t, db, 2)

	require.NoError(t, db.Model(&calls[0]).Updates(map[string]interface{}{
		"transcript": "done already",
		"score":      utils.Pointer(9.0),
	}).Error)

	result, err := orch.RunBatch(context.Background(), 1, 25, ModePending)
	require.NoError(t, err)

	// The finished call never re-enters the batch
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, scorer.transcribes)
	assert.Equal(t, 1, scorer.scores)
}

func TestRunBatchHonorsLimitAndOrder(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{}
	orch := NewOrchestrator(db, scorer, 0)
	seedCalls(t, db, 5)

	result, err := orch.RunBatch(context.Background(), 1, 2, ModePending)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	// The two oldest calls go first
	var untouched models.CallActivity
	require.NoError(t, db.Where("external_id = ?", "call-5").First(&untouched).Error)
	assert.False(t, untouched.HasTranscript())

	var oldest models.CallActivity
	require.NoError(t, db.Where("external_id = ?", "call-1").First(&oldest).Error)
	assert.True(t, oldest.HasTranscript())
}

func TestRunBatchRejectsUnknownMode(t *testing.T) {
	db := newTestDB(t)
	orch := NewOrchestrator(db, &fakeScorer{}, 0)

	_, err := orch.RunBatch(context.Background(), 1, 25, "everything")
	assert.Error(t, err)
}

func TestRunBatchIgnoresCallsWithoutRecording(t *testing.T) {
	db := newTestDB(t)
	scorer := &fakeScorer{}
	orch := NewOrchestrator(db, scorer, 0)

	call := models.CallActivity{
		EngagementID: 1, SourceID: 1, ExternalID: "call-norec",
		Disposition: "voicemail", CalledAt: time.Now(),
	}
	require.NoError(t, db.Create(&call).Error)

	result, err := orch.RunBatch(context.Background(), 1, 25, ModePending)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}
