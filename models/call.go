package models

import (
	"time"

	"gorm.io/gorm"
)

// CallActivity is a dial record synced from the dialer platform. Transcript
// and score fields are filled in by the batch pipeline after the fact.
type CallActivity struct {
	gorm.Model
	EngagementID uint `gorm:"not null;index" json:"engagement_id"`
	SourceID     uint `gorm:"index:idx_call_source_external,unique" json:"source_id"`
	ContactID    *uint `gorm:"index" json:"contact_id,omitempty"`

	ExternalID      string    `gorm:"index:idx_call_source_external,unique" json:"external_id"`
	RepName         string    `json:"rep_name"`
	Disposition     string    `json:"disposition"` // connected, voicemail, no_answer, ...
	DurationSeconds int       `gorm:"default:0" json:"duration_seconds"`
	RecordingURL    string    `json:"recording_url"`
	CalledAt        time.Time `gorm:"index" json:"called_at"`

	// Pipeline output
	Transcript         string     `gorm:"type:text" json:"transcript"`
	TranscribedAt      *time.Time `json:"transcribed_at"`
	Score              *float64   `json:"score"`
	ScoreJustification string     `gorm:"type:text" json:"score_justification"`
	ScoredAt           *time.Time `json:"scored_at"`

	// Relations
	Engagement Engagement `json:"-"`
	Contact    *Contact   `json:"contact,omitempty"`
}

// HasTranscript reports whether a prior pipeline run already transcribed the call.
func (ca *CallActivity) HasTranscript() bool {
	return ca.Transcript != ""
}

// HasScore reports whether a prior pipeline run already scored the call.
func (ca *CallActivity) HasScore() bool {
	return ca.Score != nil
}
