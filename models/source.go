package models

import (
	"time"

	"gorm.io/gorm"
)

// DataSource status values
const (
	SourceStatusIdle    = "idle"
	SourceStatusSyncing = "syncing"
	SourceStatusError   = "error"
)

// DataSource platform types
const (
	SourceTypeEmailPlatform = "email_platform"
	SourceTypeDialer        = "dialer"
)

// SyncProgress status values
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusPartial   = "partial"
	SyncStatusFailed    = "failed"
)

// SyncRetryEntry status values
const (
	RetryStatusPending   = "pending"
	RetryStatusCancelled = "cancelled"
	RetryStatusDead      = "dead"
	RetryStatusDone      = "done"
)

// DataSource represents a connected external platform (email campaign tool or dialer)
type DataSource struct {
	gorm.Model
	WorkspaceID  uint `gorm:"not null;index" json:"workspace_id"`
	EngagementID uint `gorm:"not null;index" json:"engagement_id"`

	Name string `gorm:"not null" json:"name"`
	Type string `gorm:"not null;index" json:"type"` // email_platform, dialer

	// Connection details
	BaseURL     string `json:"base_url"`
	Credentials string `gorm:"type:text" json:"-"` // encrypted API key / client secret
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// Sync bookkeeping (denormalized for the dashboard)
	Status     string     `gorm:"default:'idle'" json:"status"` // idle, syncing, error
	LastSyncAt *time.Time `json:"last_sync_at"`
	LastError  string     `gorm:"type:text" json:"last_error"`

	// Relations
	SyncRuns     []SyncProgress   `gorm:"foreignKey:SourceID" json:"sync_runs,omitempty"`
	RetryEntries []SyncRetryEntry `gorm:"foreignKey:SourceID" json:"retry_entries,omitempty"`
}

// SyncProgress tracks one sync run for a source. At most one run per source
// may be in the running state at a time; the worker reclaims runs whose
// updated_at has gone stale.
type SyncProgress struct {
	gorm.Model
	SourceID    uint   `gorm:"not null;index" json:"source_id"`
	WorkspaceID uint   `gorm:"not null;index" json:"workspace_id"`
	RunID       string `gorm:"not null;uniqueIndex" json:"run_id"`

	Status string `gorm:"default:'running';index" json:"status"` // running, completed, partial, failed
	Phase  string `json:"phase"`                                 // campaigns, contacts, calls, rollups

	// Cursor/progress fields
	ProcessedUnits int    `gorm:"default:0" json:"processed_units"`
	TotalUnits     int    `gorm:"default:0" json:"total_units"`
	Cursor         string `json:"cursor"`

	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Accumulated per-unit errors, stored as JSON
	Errors []string `gorm:"type:jsonb;serializer:json" json:"errors"`

	// Relations
	Source DataSource `json:"-"`
}

// IsTerminal reports whether the run can no longer change state.
func (sp *SyncProgress) IsTerminal() bool {
	return sp.Status == SyncStatusCompleted || sp.Status == SyncStatusPartial || sp.Status == SyncStatusFailed
}

// SyncRetryEntry is a deferred unit of sync work with exponential backoff.
// Entries that exhaust their retry budget become dead letters and stay
// queryable for manual intervention.
type SyncRetryEntry struct {
	gorm.Model
	SourceID    uint `gorm:"not null;index" json:"source_id"`
	WorkspaceID uint `gorm:"not null;index" json:"workspace_id"`

	Unit   string `gorm:"not null" json:"unit"` // campaigns, contacts, calls
	Cursor string `json:"cursor"`               // where to resume the failed unit

	RetryCount  int       `gorm:"default:0" json:"retry_count"`
	MaxRetries  int       `gorm:"default:5" json:"max_retries"`
	NextRetryAt time.Time `gorm:"not null;index" json:"next_retry_at"`

	Status    string `gorm:"default:'pending';index" json:"status"` // pending, cancelled, dead, done
	LastError string `gorm:"type:text" json:"last_error"`

	// Relations
	Source DataSource `json:"-"`
}
