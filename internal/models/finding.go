package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Detector names registered by the detector registry.
const (
	DetectorEWMAFailed     = "ewma_failed"
	DetectorSeasonalZScore = "seasonal_zscore"
	DetectorLatencySpike   = "latency_spike"
	DetectorRevenueDrop    = "revenue_drop"
	DetectorGeoFailure     = "geo_failure"
)

// Score is a detector score. Non-finite values are carried as a string sentinel
// so they never reach JSON output as raw Inf/NaN.
type Score struct {
	value    float64
	sentinel string
}

// NewScore wraps v, replacing non-finite values with "inf", "-inf" or "nan".
func NewScore(v float64) Score {
	switch {
	case math.IsInf(v, 1):
		return Score{sentinel: "inf"}
	case math.IsInf(v, -1):
		return Score{sentinel: "-inf"}
	case math.IsNaN(v):
		return Score{sentinel: "nan"}
	}
	return Score{value: v}
}

// Finite reports whether the score holds a finite number.
func (s Score) Finite() bool { return s.sentinel == "" }

// Value returns the finite score, or 0 for sentinel scores.
func (s Score) Value() float64 { return s.value }

// String renders the score for logs.
func (s Score) String() string {
	if s.sentinel != "" {
		return s.sentinel
	}
	return strconv.FormatFloat(s.value, 'f', 4, 64)
}

// MarshalJSON encodes finite scores as numbers and sentinels as strings.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.sentinel != "" {
		return json.Marshal(s.sentinel)
	}
	return json.Marshal(s.value)
}

// Evidence is the supporting payload attached to findings and root causes.
type Evidence map[string]any

// SafeFloat returns v unchanged when finite and its sentinel string otherwise.
func SafeFloat(v float64) any {
	score := NewScore(v)
	if score.Finite() {
		return v
	}
	return score.sentinel
}

// Finding is one anomalous bucket flagged by exactly one detector.
type Finding struct {
	Bucket time.Time `json:"bucket"`
	// FirstEvent is the earliest event inside Bucket. Coarse-frequency findings
	// are placed at the merge bucket holding this event.
	FirstEvent  time.Time `json:"-"`
	Detector    string    `json:"detector"`
	MetricValue float64   `json:"metric_value"`
	Score       Score     `json:"score"`
	// Country is set for findings keyed by a geographic dimension.
	Country  string   `json:"country,omitempty"`
	Evidence Evidence `json:"evidence,omitempty"`
}

// Anchor returns the timestamp the finding is correlated by: the first
// contributing event when known, otherwise the bucket start.
func (f Finding) Anchor() time.Time {
	if f.FirstEvent.IsZero() {
		return f.Bucket
	}
	return f.FirstEvent
}

// AsEvidence flattens the finding into an evidence payload.
func (f Finding) AsEvidence() Evidence {
	ev := Evidence{
		"timestamp":    f.Bucket.UTC().Format(time.RFC3339),
		"detector":     f.Detector,
		"metric_value": SafeFloat(f.MetricValue),
		"score":        f.Score,
	}
	if f.Country != "" {
		ev["country"] = f.Country
	}
	for k, v := range f.Evidence {
		if _, exists := ev[k]; !exists {
			ev[k] = v
		}
	}
	return ev
}

// DetectorStatus summarises how a detector run ended.
type DetectorStatus string

const (
	DetectorStatusOK            DetectorStatus = "ok"
	DetectorStatusMissingSignal DetectorStatus = "missing_signal"
	DetectorStatusFailed        DetectorStatus = "failed"
)

// DetectorResult is the output of one detector for one pipeline run.
type DetectorResult struct {
	Detector string         `json:"detector"`
	Status   DetectorStatus `json:"status"`
	Findings []Finding      `json:"-"`
	Error    string         `json:"error,omitempty"`
}
