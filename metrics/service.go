package metrics

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salespulse/models"
)

// Service bundles the rollup engines and drives them after a sync run.
type Service struct {
	db       *gorm.DB
	Backfill *Backfill
	Decay    *Decay
	log      *logrus.Entry
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:       db,
		Backfill: NewBackfill(db),
		Decay:    NewDecay(db),
		log:      logrus.WithField("component", "metrics_service"),
	}
}

// RecomputeForSource rebuilds derived metrics for every campaign of a
// source: estimated weekly rollups where daily data is missing, then decay
// windows for eligible variants. Safe to call repeatedly; both engines are
// idempotent.
func (s *Service) RecomputeForSource(ctx context.Context, sourceID uint) error {
	var source models.DataSource
	if err := s.db.First(&source, sourceID).Error; err != nil {
		return err
	}

	var campaigns []models.Campaign
	if err := s.db.Where("source_id = ?", sourceID).Find(&campaigns).Error; err != nil {
		return err
	}

	for i := range campaigns {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		campaign := &campaigns[i]
		if _, err := s.Backfill.BackfillCampaign(campaign, source.WorkspaceID); err != nil {
			return err
		}

		var variants []models.CampaignVariant
		if err := s.db.Where("campaign_id = ?", campaign.ID).Find(&variants).Error; err != nil {
			return err
		}
		for j := range variants {
			variant := &variants[j]
			ok, err := s.Decay.Eligible(variant)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := s.Decay.ComputeVariant(variant); err != nil {
				return err
			}
		}
	}

	s.log.WithField("source_id", sourceID).Info("rollups recomputed")
	return nil
}
