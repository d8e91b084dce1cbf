package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salespulse/models"
	"salespulse/utils"
)

// Batch modes
const (
	ModePending    = "pending"    // transcribe + score whatever is missing
	ModeTranscribe = "transcribe" // transcription only
	ModeScore      = "score"      // scoring only, for calls with transcripts
)

// BatchResult summarizes one orchestrator invocation.
type BatchResult struct {
	Processed   int      `json:"processed"`
	Transcribed int      `json:"transcribed"`
	Scored      int      `json:"scored"`
	Errors      []string `json:"errors"`
}

// Orchestrator drives the transcribe → score pipeline over a bounded batch
// of calls. Per-call failures are collected, never propagated, so one bad
// recording cannot abort the batch. A fixed delay between calls rate
// limits the scoring service.
type Orchestrator struct {
	db        *gorm.DB
	scorer    ScoringClient
	callDelay time.Duration
	log       *logrus.Entry
}

func NewOrchestrator(db *gorm.DB, scorer ScoringClient, callDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		db:        db,
		scorer:    scorer,
		callDelay: callDelay,
		log:       logrus.WithField("component", "batch_orchestrator"),
	}
}

// RunBatch processes up to limit calls for the source. Calls that already
// carry output from a prior partial run are counted as processed and
// skipped, which makes re-invoking the same batch safe.
func (o *Orchestrator) RunBatch(ctx context.Context, sourceID uint, limit int, mode string) (BatchResult, error) {
	result := BatchResult{}

	if mode != ModePending && mode != ModeTranscribe && mode != ModeScore {
		return result, fmt.Errorf("unknown batch mode %q", mode)
	}
	if limit <= 0 {
		limit = 25
	}

	var calls []models.CallActivity
	query := o.db.Where("source_id = ? AND recording_url != ''", sourceID)
	switch mode {
	case ModeTranscribe, ModePending:
		query = query.Where("transcript = ''")
	case ModeScore:
		query = query.Where("transcript != '' AND score IS NULL")
	}
	if err := query.Order("called_at ASC").Limit(limit).Find(&calls).Error; err != nil {
		return result, err
	}

	for i := range calls {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		call := &calls[i]
		result.Processed++

		if err := o.processCall(ctx, call, mode); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("call %d: %s", call.ID, err.Error()))
			o.log.WithError(err).WithField("call_id", call.ID).Warn("batch unit failed")
		} else {
			if mode != ModeScore && call.HasTranscript() {
				result.Transcribed++
			}
			if mode != ModeTranscribe && call.HasScore() {
				result.Scored++
			}
		}

		// Fixed inter-call delay against the scoring service.
		if i < len(calls)-1 && o.callDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(o.callDelay):
			}
		}
	}

	o.log.WithFields(logrus.Fields{
		"source_id":   sourceID,
		"mode":        mode,
		"processed":   result.Processed,
		"transcribed": result.Transcribed,
		"scored":      result.Scored,
		"errors":      len(result.Errors),
	}).Info("batch finished")
	return result, nil
}

func (o *Orchestrator) processCall(ctx context.Context, call *models.CallActivity, mode string) error {
	if mode != ModeScore && !call.HasTranscript() {
		transcript, err := o.scorer.Transcribe(ctx, call.RecordingURL)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
		call.Transcript = transcript
		call.TranscribedAt = utils.Pointer(time.Now())
		if err := o.db.Model(call).Updates(map[string]interface{}{
			"transcript":     call.Transcript,
			"transcribed_at": call.TranscribedAt,
		}).Error; err != nil {
			return err
		}
	}

	if mode == ModeTranscribe {
		return nil
	}

	if call.HasScore() || !call.HasTranscript() {
		return nil
	}

	score, justification, err := o.scorer.Score(ctx, call.Transcript)
	if err != nil {
		return fmt.Errorf("scoring failed: %w", err)
	}
	call.Score = &score
	call.ScoreJustification = justification
	call.ScoredAt = utils.Pointer(time.Now())
	return o.db.Model(call).Updates(map[string]interface{}{
		"score":               call.Score,
		"score_justification": call.ScoreJustification,
		"scored_at":           call.ScoredAt,
	}).Error
}
