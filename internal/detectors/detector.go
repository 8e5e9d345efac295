// Package detectors implements the anomaly detector variants. Every detector
// reads an event table, aggregates it at its own frequency and returns the
// buckets that passed its threshold test.
package detectors

import (
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// Detector flags anomalous buckets in an event table. Detect is recomputed on
// every call and returns findings ordered by bucket.
type Detector interface {
	Name() string
	// Requires lists the columns the detector cannot run without.
	Requires() []string
	Detect(table *models.EventTable) ([]models.Finding, error)
}

// Fields names the event columns read by detectors.
type Fields struct {
	Timestamp    string
	Status       string
	SuccessValue string
	Amount       string
	Country      string
	Latency      string
}

// FieldsFromConfig converts the pipeline field configuration.
func FieldsFromConfig(cfg config.FieldsConfig) Fields {
	return Fields{
		Timestamp:    cfg.Timestamp,
		Status:       cfg.Status,
		SuccessValue: cfg.SuccessValue,
		Amount:       cfg.Amount,
		Country:      cfg.Country,
		Latency:      cfg.Latency,
	}
}

// Spec returns the aggregation spec for these fields at freq.
func (f Fields) Spec(freq time.Duration) bucket.Spec {
	return bucket.Spec{
		TimestampField: f.Timestamp,
		Frequency:      freq,
		StatusField:    f.Status,
		SuccessValue:   f.SuccessValue,
		AmountField:    f.Amount,
		LatencyField:   f.Latency,
	}
}

func hasColumns(table *models.EventTable, columns []string) bool {
	for _, col := range columns {
		if !table.HasColumn(col) {
			return false
		}
	}
	return true
}
