package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign is the canonical record of an outbound email campaign synced
// from an external platform. Counters are cumulative and, outside of
// corrective backfill, monotonically non-decreasing.
type Campaign struct {
	gorm.Model
	EngagementID uint `gorm:"not null;index" json:"engagement_id"`
	SourceID     uint `gorm:"index:idx_campaign_source_external,unique" json:"source_id"`

	ExternalID string `gorm:"index:idx_campaign_source_external,unique" json:"external_id"`
	Name       string `gorm:"not null" json:"name"`
	Status     string `gorm:"default:'active'" json:"status"` // active, paused, completed

	// Statistics (denormalized cumulative totals from the platform)
	TotalSent      int `gorm:"default:0" json:"total_sent"`
	TotalDelivered int `gorm:"default:0" json:"total_delivered"`
	TotalReplied   int `gorm:"default:0" json:"total_replied"`
	TotalBounced   int `gorm:"default:0" json:"total_bounced"`
	TotalPositive  int `gorm:"default:0" json:"total_positive"`

	// Platform timestamps, used to place backfilled rollups
	PlatformCreatedAt time.Time `json:"platform_created_at"`
	PlatformUpdatedAt time.Time `json:"platform_updated_at"`

	// Relations
	Engagement Engagement        `json:"-"`
	Variants   []CampaignVariant `gorm:"foreignKey:CampaignID" json:"variants,omitempty"`
}

// ReplyRate returns the cumulative reply rate as a percentage.
func (c *Campaign) ReplyRate() float64 {
	if c.TotalSent == 0 {
		return 0
	}
	return float64(c.TotalReplied) / float64(c.TotalSent) * 100
}

// CampaignVariant is a distinct subject/body version within a campaign,
// A/B tested against its siblings.
type CampaignVariant struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index:idx_variant_campaign_external,unique" json:"campaign_id"`

	ExternalID string `gorm:"index:idx_variant_campaign_external,unique" json:"external_id"`
	Subject    string `json:"subject"`
	StepLabel  string `json:"step_label"` // e.g. "Step 1 - A"

	// Statistics
	TotalSent     int `gorm:"default:0" json:"total_sent"`
	TotalReplied  int `gorm:"default:0" json:"total_replied"`
	TotalBounced  int `gorm:"default:0" json:"total_bounced"`
	TotalPositive int `gorm:"default:0" json:"total_positive"`

	// Relations
	Campaign Campaign `json:"-"`
}
