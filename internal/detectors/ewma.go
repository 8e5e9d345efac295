package detectors

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// EWMAFailed flags failed-count buckets that deviate from a classic
// exponentially weighted moving average by more than k residual deviations.
type EWMAFailed struct {
	fields    Fields
	frequency time.Duration
	span      int
	k         float64
	minFailed int
}

// NewEWMAFailed constructs the detector from its configuration block.
func NewEWMAFailed(fields Fields, cfg config.DetectorConfig) *EWMAFailed {
	span := cfg.Span
	if span < 1 {
		span = 1
	}
	return &EWMAFailed{
		fields:    fields,
		frequency: cfg.Frequency,
		span:      span,
		k:         cfg.K,
		minFailed: cfg.MinFailed,
	}
}

func (d *EWMAFailed) Name() string { return models.DetectorEWMAFailed }

func (d *EWMAFailed) Requires() []string {
	return []string{d.fields.Timestamp, d.fields.Status}
}

// Detect scores each bucket as |observed - ewma| / std(previous residuals).
// The residual window is max(3, span) buckets and never includes the scored
// bucket; at least two prior residuals are needed to define a scale.
func (d *EWMAFailed) Detect(table *models.EventTable) ([]models.Finding, error) {
	if !hasColumns(table, d.Requires()) {
		return nil, nil
	}
	series := bucket.Aggregate(table, d.fields.Spec(d.frequency))
	if len(series) == 0 {
		return nil, nil
	}

	alpha := 2.0 / (float64(d.span) + 1.0)
	ewma := make([]float64, len(series))
	resid := make([]float64, len(series))
	for i, agg := range series {
		x := float64(agg.FailedCount)
		if i == 0 {
			ewma[i] = x
		} else {
			ewma[i] = alpha*x + (1-alpha)*ewma[i-1]
		}
		resid[i] = x - ewma[i]
	}

	window := d.span
	if window < 3 {
		window = 3
	}

	var findings []models.Finding
	for i, agg := range series {
		if agg.TotalCount == 0 {
			continue
		}
		prior := bucket.Trailing(resid, i, window)
		if len(prior) < 2 {
			continue
		}
		scale := stat.StdDev(prior, nil)
		if scale == 0 || math.IsNaN(scale) {
			scale = 1
		}
		score := math.Abs(resid[i]) / scale
		if score > d.k && agg.FailedCount >= d.minFailed {
			findings = append(findings, models.Finding{
				Bucket:      agg.Bucket,
				FirstEvent:  agg.First,
				Detector:    d.Name(),
				MetricValue: float64(agg.FailedCount),
				Score:       models.NewScore(score),
				Evidence: models.Evidence{
					"failed_count": agg.FailedCount,
					"total_count":  agg.TotalCount,
					"ewma":         models.SafeFloat(ewma[i]),
					"residual":     models.SafeFloat(resid[i]),
					"resid_std":    models.SafeFloat(scale),
				},
			})
		}
	}
	return findings, nil
}
