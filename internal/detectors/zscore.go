package detectors

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// SeasonalZScore flags failed-count buckets whose z-score against the trailing
// window of prior buckets exceeds zThresh.
type SeasonalZScore struct {
	fields    Fields
	frequency time.Duration
	window    int
	zThresh   float64
	minFailed int
}

// NewSeasonalZScore constructs the detector from its configuration block.
func NewSeasonalZScore(fields Fields, cfg config.DetectorConfig) *SeasonalZScore {
	window := cfg.Window
	if window < 1 {
		window = 1
	}
	return &SeasonalZScore{
		fields:    fields,
		frequency: cfg.Frequency,
		window:    window,
		zThresh:   cfg.ZThresh,
		minFailed: cfg.MinFailed,
	}
}

func (d *SeasonalZScore) Name() string { return models.DetectorSeasonalZScore }

func (d *SeasonalZScore) Requires() []string {
	return []string{d.fields.Timestamp, d.fields.Status}
}

// Detect computes z = (observed - mean) / std over the previous window buckets.
// A single prior bucket gives a unit std. A zero-variance baseline yields an
// infinite z, which is still compared against the threshold but is reported
// as a string sentinel.
func (d *SeasonalZScore) Detect(table *models.EventTable) ([]models.Finding, error) {
	if !hasColumns(table, d.Requires()) {
		return nil, nil
	}
	series := bucket.Aggregate(table, d.fields.Spec(d.frequency))
	if len(series) == 0 {
		return nil, nil
	}

	failed := make([]float64, len(series))
	for i, agg := range series {
		failed[i] = float64(agg.FailedCount)
	}

	var findings []models.Finding
	for i, agg := range series {
		if agg.TotalCount == 0 {
			continue
		}
		prior := bucket.Trailing(failed, i, d.window)
		if len(prior) == 0 {
			continue
		}
		mean := stat.Mean(prior, nil)
		std := 1.0
		if len(prior) > 1 {
			std = stat.StdDev(prior, nil)
		}
		z := (failed[i] - mean) / std
		if z > d.zThresh && agg.FailedCount >= d.minFailed {
			findings = append(findings, models.Finding{
				Bucket:      agg.Bucket,
				FirstEvent:  agg.First,
				Detector:    d.Name(),
				MetricValue: failed[i],
				Score:       models.NewScore(z),
				Evidence: models.Evidence{
					"failed_count": agg.FailedCount,
					"total_count":  agg.TotalCount,
					"rolling_mean": models.SafeFloat(mean),
					"rolling_std":  models.SafeFloat(std),
					"zscore":       models.SafeFloat(z),
				},
			})
		}
	}
	return findings, nil
}
