package detectors

import (
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// RevenueDrop flags buckets whose successful revenue falls below factor times
// the median revenue of the previous window buckets.
type RevenueDrop struct {
	fields     Fields
	frequency  time.Duration
	window     int
	factor     float64
	minRevenue float64
}

// NewRevenueDrop constructs the detector from its configuration block.
func NewRevenueDrop(fields Fields, cfg config.DetectorConfig) *RevenueDrop {
	window := cfg.Window
	if window < 1 {
		window = 1
	}
	return &RevenueDrop{
		fields:     fields,
		frequency:  cfg.Frequency,
		window:     window,
		factor:     cfg.Factor,
		minRevenue: cfg.MinRevenue,
	}
}

func (d *RevenueDrop) Name() string { return models.DetectorRevenueDrop }

func (d *RevenueDrop) Requires() []string {
	return []string{d.fields.Timestamp, d.fields.Status, d.fields.Amount}
}

// Detect only considers buckets with at least one successful transaction;
// buckets below minRevenue are never reported as drops.
func (d *RevenueDrop) Detect(table *models.EventTable) ([]models.Finding, error) {
	if !hasColumns(table, d.Requires()) {
		return nil, nil
	}
	var series []models.BucketAggregate
	for _, agg := range bucket.Aggregate(table, d.fields.Spec(d.frequency)) {
		if agg.SuccessCount > 0 {
			series = append(series, agg)
		}
	}

	revenue := make([]float64, len(series))
	for i, agg := range series {
		revenue[i] = agg.Revenue
	}

	var findings []models.Finding
	for i, agg := range series {
		prior := bucket.Trailing(revenue, i, d.window)
		if len(prior) == 0 {
			continue
		}
		baseline := bucket.Median(prior)
		if baseline <= 0 {
			continue
		}
		current := revenue[i]
		if current >= baseline*d.factor || current < d.minRevenue {
			continue
		}
		findings = append(findings, models.Finding{
			Bucket:      agg.Bucket,
			FirstEvent:  agg.First,
			Detector:    d.Name(),
			MetricValue: current,
			Score:       models.NewScore(1 - current/baseline),
			Evidence: models.Evidence{
				"current_revenue": models.SafeFloat(current),
				"baseline":        models.SafeFloat(baseline),
				"transactions":    agg.SuccessCount,
			},
		})
	}
	return findings, nil
}
