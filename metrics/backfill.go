package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salespulse/models"
	"salespulse/utils"
)

const week = 7 * 24 * time.Hour

// Backfill synthesizes a plausible weekly time series for campaigns that
// only report cumulative totals (e.g. connected after months of activity).
// Totals are distributed evenly across the campaign's lifetime with the
// remainder assigned to the last week, so the weekly rows always sum back
// to the cumulative counters exactly.
type Backfill struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewBackfill(db *gorm.DB) *Backfill {
	return &Backfill{
		db:  db,
		log: logrus.WithField("component", "backfill"),
	}
}

// BackfillCampaign writes estimated weekly rows for the campaign and its
// variants. Existing (entity, date) keys are left untouched, which makes
// re-runs idempotent. Returns the number of rows written.
func (b *Backfill) BackfillCampaign(campaign *models.Campaign, workspaceID uint) (int, error) {
	written, err := b.writeWeeklyRows(
		models.MetricEntityCampaign, campaign.ID, workspaceID,
		campaign.PlatformCreatedAt, campaign.PlatformUpdatedAt,
		counters{
			sent:     campaign.TotalSent,
			replied:  campaign.TotalReplied,
			bounced:  campaign.TotalBounced,
			positive: campaign.TotalPositive,
		})
	if err != nil {
		return written, fmt.Errorf("failed to backfill campaign %d: %w", campaign.ID, err)
	}

	var variants []models.CampaignVariant
	if err := b.db.Where("campaign_id = ?", campaign.ID).Find(&variants).Error; err != nil {
		return written, err
	}
	for i := range variants {
		v := &variants[i]
		n, err := b.writeWeeklyRows(
			models.MetricEntityVariant, v.ID, workspaceID,
			campaign.PlatformCreatedAt, campaign.PlatformUpdatedAt,
			counters{
				sent:     v.TotalSent,
				replied:  v.TotalReplied,
				bounced:  v.TotalBounced,
				positive: v.TotalPositive,
			})
		if err != nil {
			return written, fmt.Errorf("failed to backfill variant %d: %w", v.ID, err)
		}
		written += n
	}
	return written, nil
}

type counters struct {
	sent     int
	replied  int
	bounced  int
	positive int
}

func (b *Backfill) writeWeeklyRows(entityType string, entityID, workspaceID uint, createdAt, updatedAt time.Time, totals counters) (int, error) {
	weeks := WeeksBetween(createdAt, updatedAt)

	sent := DistributeEvenly(totals.sent, weeks)
	replied := DistributeEvenly(totals.replied, weeks)
	bounced := DistributeEvenly(totals.bounced, weeks)
	positive := DistributeEvenly(totals.positive, weeks)

	written := 0
	weekStart := utils.StartOfWeek(createdAt)
	for i := 0; i < weeks; i++ {
		// Delivered is derived, never negative.
		delivered := sent[i] - bounced[i]
		if delivered < 0 {
			delivered = 0
		}

		row := models.DailyMetric{
			WorkspaceID:     workspaceID,
			EntityType:      entityType,
			EntityID:        entityID,
			Date:            weekStart.AddDate(0, 0, i*7),
			EmailsSent:      sent[i],
			EmailsDelivered: delivered,
			Replies:         replied[i],
			Bounces:         bounced[i],
			PositiveReplies: positive[i],
			IsEstimated:     true,
		}

		// Skip keys that already have a metric row (real or previously
		// synthesized) so downstream sums never double count.
		res := b.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "date"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return written, res.Error
		}
		written += int(res.RowsAffected)
	}

	b.log.WithFields(logrus.Fields{
		"entity_type": entityType,
		"entity_id":   entityID,
		"weeks":       weeks,
		"written":     written,
	}).Debug("backfill pass finished")
	return written, nil
}

// WeeksBetween returns the number of week buckets spanning [createdAt,
// updatedAt], never less than one.
func WeeksBetween(createdAt, updatedAt time.Time) int {
	span := updatedAt.Sub(createdAt)
	if span <= 0 {
		return 1
	}
	weeks := int(math.Ceil(float64(span) / float64(week)))
	if weeks < 1 {
		weeks = 1
	}
	return weeks
}

// DistributeEvenly splits total across n buckets: every bucket gets
// floor(total/n) and the full remainder lands on the last bucket, so the
// buckets always sum back to total.
func DistributeEvenly(total, n int) []int {
	if n < 1 {
		n = 1
	}
	buckets := make([]int, n)
	if total <= 0 {
		return buckets
	}
	perWeek := total / n
	remainder := total % n
	for i := range buckets {
		buckets[i] = perWeek
	}
	buckets[n-1] += remainder
	return buckets
}
