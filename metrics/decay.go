package metrics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salespulse/models"
	"salespulse/utils"
)

// Eligibility thresholds: variants with less history than this produce
// windows too noisy to call a trend.
const (
	decayMinDays  = 7
	decayMinSends = 50
)

// Decay walks a variant's daily metrics in fixed 7-day windows and
// computes period-over-period reply-rate decay. Results are keyed by
// (variant_id, period_start) so recomputation overwrites instead of
// duplicating.
type Decay struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewDecay(db *gorm.DB) *Decay {
	return &Decay{
		db:  db,
		log: logrus.WithField("component", "decay"),
	}
}

// Eligible reports whether the variant has enough history to analyze:
// at least 7 days of metric data and 50 total sends.
func (d *Decay) Eligible(variant *models.CampaignVariant) (bool, error) {
	if variant.TotalSent < decayMinSends {
		return false, nil
	}

	var first, last models.DailyMetric
	err := d.db.Where("entity_type = ? AND entity_id = ?", models.MetricEntityVariant, variant.ID).
		Order("date ASC").First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := d.db.Where("entity_type = ? AND entity_id = ?", models.MetricEntityVariant, variant.ID).
		Order("date DESC").First(&last).Error; err != nil {
		return false, err
	}

	days := int(last.Date.Sub(first.Date).Hours()/24) + 1
	return days >= decayMinDays, nil
}

// ComputeVariant recomputes every completed 7-day window for the variant.
// The first window has no baseline, so its decay rate is nil. Returns the
// number of windows upserted.
func (d *Decay) ComputeVariant(variant *models.CampaignVariant) (int, error) {
	var rows []models.DailyMetric
	if err := d.db.Where("entity_type = ? AND entity_id = ?", models.MetricEntityVariant, variant.ID).
		Order("date ASC").Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	firstDate := utils.StartOfDay(rows[0].Date)
	lastDate := utils.StartOfDay(rows[len(rows)-1].Date)

	var (
		written        int
		cumSent        int
		cumReplied     int
		prevPeriodRate *float64
		idx            int
	)

	for windowStart := firstDate; !windowStart.After(lastDate); windowStart = windowStart.AddDate(0, 0, 7) {
		windowEnd := windowStart.AddDate(0, 0, 7)

		// Only completed windows: the range must cover the full 7 days.
		if windowEnd.After(lastDate.AddDate(0, 0, 1)) {
			break
		}

		periodSent, periodReplied := 0, 0
		for idx < len(rows) && rows[idx].Date.Before(windowEnd) {
			periodSent += rows[idx].EmailsSent
			periodReplied += rows[idx].Replies
			idx++
		}

		cumSent += periodSent
		cumReplied += periodReplied

		periodRate := rate(periodReplied, periodSent)
		cumulativeRate := rate(cumReplied, cumSent)

		var decayRate *float64
		if prevPeriodRate != nil && *prevPeriodRate != 0 {
			decayRate = utils.Pointer((periodRate - *prevPeriodRate) / *prevPeriodRate * 100)
		}

		record := models.VariantDecay{
			VariantID:         variant.ID,
			PeriodStart:       windowStart,
			PeriodSent:        periodSent,
			PeriodReplied:     periodReplied,
			PeriodRate:        periodRate,
			CumulativeSent:    cumSent,
			CumulativeReplied: cumReplied,
			CumulativeRate:    cumulativeRate,
			DecayRate:         decayRate,
		}
		err := d.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "variant_id"}, {Name: "period_start"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"period_sent", "period_replied", "period_rate",
				"cumulative_sent", "cumulative_replied", "cumulative_rate",
				"decay_rate", "updated_at",
			}),
		}).Create(&record).Error
		if err != nil {
			return written, fmt.Errorf("failed to upsert decay window %s: %w",
				windowStart.Format(time.DateOnly), err)
		}

		written++
		prevPeriodRate = utils.Pointer(periodRate)
	}

	d.log.WithFields(logrus.Fields{
		"variant_id": variant.ID,
		"windows":    written,
	}).Debug("decay pass finished")
	return written, nil
}

func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator) * 100
}
