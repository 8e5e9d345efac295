package detectors

import (
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// LatencySpike flags buckets whose median latency exceeds factor times the
// median of the previous window bucket medians.
type LatencySpike struct {
	fields    Fields
	frequency time.Duration
	window    int
	factor    float64
	minCount  int
}

// NewLatencySpike constructs the detector from its configuration block.
func NewLatencySpike(fields Fields, cfg config.DetectorConfig) *LatencySpike {
	window := cfg.Window
	if window < 1 {
		window = 1
	}
	return &LatencySpike{
		fields:    fields,
		frequency: cfg.Frequency,
		window:    window,
		factor:    cfg.Factor,
		minCount:  cfg.MinCount,
	}
}

func (d *LatencySpike) Name() string { return models.DetectorLatencySpike }

func (d *LatencySpike) Requires() []string {
	return []string{d.fields.Timestamp, d.fields.Latency}
}

// Detect returns no findings when the latency column is absent.
func (d *LatencySpike) Detect(table *models.EventTable) ([]models.Finding, error) {
	if !hasColumns(table, d.Requires()) {
		return nil, nil
	}
	var series []models.BucketAggregate
	for _, agg := range bucket.Aggregate(table, d.fields.Spec(d.frequency)) {
		if agg.LatencyCount > 0 {
			series = append(series, agg)
		}
	}

	medians := make([]float64, len(series))
	for i, agg := range series {
		medians[i] = agg.LatencyMedian
	}

	var findings []models.Finding
	for i, agg := range series {
		prior := bucket.Trailing(medians, i, d.window)
		if len(prior) == 0 {
			continue
		}
		baseline := bucket.Median(prior)
		if baseline <= 0 {
			continue
		}
		if agg.LatencyCount < d.minCount || agg.LatencyMedian <= baseline*d.factor {
			continue
		}
		ratio := agg.LatencyMedian / baseline
		findings = append(findings, models.Finding{
			Bucket:      agg.Bucket,
			FirstEvent:  agg.First,
			Detector:    d.Name(),
			MetricValue: agg.LatencyMedian,
			Score:       models.NewScore(ratio),
			Evidence: models.Evidence{
				"latency_median": models.SafeFloat(agg.LatencyMedian),
				"baseline":       models.SafeFloat(baseline),
				"ratio":          models.SafeFloat(ratio),
				"count":          agg.LatencyCount,
			},
		})
	}
	return findings, nil
}
