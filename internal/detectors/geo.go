package detectors

import (
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// GeoFailure flags every (bucket, country) pair whose failed count reaches an
// absolute threshold. Findings carry the country so it survives correlation.
type GeoFailure struct {
	fields    Fields
	frequency time.Duration
	threshold int
}

// NewGeoFailure constructs the detector from its configuration block.
func NewGeoFailure(fields Fields, cfg config.DetectorConfig) *GeoFailure {
	threshold := cfg.Threshold
	if threshold < 1 {
		threshold = 1
	}
	return &GeoFailure{fields: fields, frequency: cfg.Frequency, threshold: threshold}
}

func (d *GeoFailure) Name() string { return models.DetectorGeoFailure }

func (d *GeoFailure) Requires() []string {
	return []string{d.fields.Timestamp, d.fields.Status, d.fields.Country}
}

func (d *GeoFailure) Detect(table *models.EventTable) ([]models.Finding, error) {
	if !hasColumns(table, d.Requires()) {
		return nil, nil
	}
	var findings []models.Finding
	for _, agg := range bucket.AggregateByDimension(table, d.fields.Spec(d.frequency), d.fields.Country) {
		if agg.FailedCount < d.threshold {
			continue
		}
		findings = append(findings, models.Finding{
			Bucket:      agg.Bucket,
			FirstEvent:  agg.First,
			Detector:    d.Name(),
			MetricValue: float64(agg.FailedCount),
			Score:       models.NewScore(float64(agg.FailedCount) / float64(d.threshold)),
			Country:     agg.Value,
			Evidence: models.Evidence{
				"country":      agg.Value,
				"failed_count": agg.FailedCount,
				"total_count":  agg.TotalCount,
				"threshold":    d.threshold,
			},
		})
	}
	return findings, nil
}
