package models

import (
	"time"

	"gorm.io/gorm"
)

// DailyMetric entity types
const (
	MetricEntityCampaign = "campaign"
	MetricEntityVariant  = "variant"
)

// DailyMetric is a per-day rollup for a campaign or variant. Rows written
// by the backfill engine carry is_estimated = true so downstream consumers
// can discount them relative to genuinely observed daily data.
type DailyMetric struct {
	gorm.Model
	WorkspaceID uint `gorm:"index" json:"workspace_id"`

	EntityType string    `gorm:"not null;index:idx_daily_metric_key,unique" json:"entity_type"` // campaign, variant
	EntityID   uint      `gorm:"not null;index:idx_daily_metric_key,unique" json:"entity_id"`
	Date       time.Time `gorm:"not null;index:idx_daily_metric_key,unique" json:"date"`

	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	EmailsDelivered int `gorm:"default:0" json:"emails_delivered"`
	Replies         int `gorm:"default:0" json:"replies"`
	Bounces         int `gorm:"default:0" json:"bounces"`
	PositiveReplies int `gorm:"default:0" json:"positive_replies"`

	IsEstimated bool `gorm:"default:false" json:"is_estimated"`
}

// VariantDecay is a weekly performance summary for a variant. DecayRate is
// nil for the first period of a variant: there is no prior baseline.
type VariantDecay struct {
	gorm.Model
	VariantID   uint      `gorm:"not null;index:idx_variant_decay_key,unique" json:"variant_id"`
	PeriodStart time.Time `gorm:"not null;index:idx_variant_decay_key,unique" json:"period_start"`

	PeriodSent    int     `gorm:"default:0" json:"period_sent"`
	PeriodReplied int     `gorm:"default:0" json:"period_replied"`
	PeriodRate    float64 `gorm:"default:0" json:"period_rate"`

	CumulativeSent    int     `gorm:"default:0" json:"cumulative_sent"`
	CumulativeReplied int     `gorm:"default:0" json:"cumulative_replied"`
	CumulativeRate    float64 `gorm:"default:0" json:"cumulative_rate"`

	DecayRate *float64 `json:"decay_rate"` // percent change vs previous period

	// Relations
	Variant CampaignVariant `json:"-"`
}

// Migrate runs AutoMigrate for every model in dependency order.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Engagement{},
		&DataSource{},
		&SyncProgress{},
		&SyncRetryEntry{},
		&Contact{},
		&Campaign{},
		&CampaignVariant{},
		&CallActivity{},
		&DailyMetric{},
		&VariantDecay{},
	)
}
