// Package bucket floors event timestamps onto fixed-width buckets and derives
// per-bucket aggregates for a single metric stream.
package bucket

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// Spec names the columns an aggregation reads and the bucket width.
// Empty column names disable the corresponding statistic.
type Spec struct {
	TimestampField string
	Frequency      time.Duration
	StatusField    string
	SuccessValue   string
	AmountField    string
	LatencyField   string
}

// Floor truncates ts to the start of its bucket at freq, in UTC.
func Floor(ts time.Time, freq time.Duration) time.Time {
	ts = ts.UTC()
	if freq <= 0 {
		return ts
	}
	return ts.Truncate(freq)
}

type accumulator struct {
	agg     models.BucketAggregate
	latency []float64
}

// Aggregate groups the table's rows into buckets and returns them ordered by
// bucket start. Rows whose timestamp cannot be parsed are dropped.
func Aggregate(table *models.EventTable, spec Spec) []models.BucketAggregate {
	if table.Len() == 0 || !table.HasColumn(spec.TimestampField) {
		return nil
	}
	hasStatus := table.HasColumn(spec.StatusField)
	hasAmount := table.HasColumn(spec.AmountField)
	hasLatency := table.HasColumn(spec.LatencyField)

	buckets := make(map[time.Time]*accumulator)
	for _, row := range table.Rows {
		ts, ok := rowTime(row, spec)
		if !ok {
			continue
		}
		key := Floor(ts, spec.Frequency)
		acc, exists := buckets[key]
		if !exists {
			acc = &accumulator{agg: models.BucketAggregate{Bucket: key, First: ts}}
			buckets[key] = acc
		}
		if ts.Before(acc.agg.First) {
			acc.agg.First = ts
		}
		acc.agg.TotalCount++

		if hasStatus {
			switch outcome(row, spec) {
			case outcomeSuccess:
				acc.agg.SuccessCount++
				if hasAmount {
					if amount, ok := parseFloat(row, spec.AmountField); ok {
						acc.agg.Revenue += amount
					}
				}
			case outcomeFailed:
				acc.agg.FailedCount++
			}
		}
		if hasLatency {
			if latency, ok := parseFloat(row, spec.LatencyField); ok {
				acc.latency = append(acc.latency, latency)
			}
		}
	}

	out := make([]models.BucketAggregate, 0, len(buckets))
	for _, acc := range buckets {
		if len(acc.latency) > 0 {
			acc.agg.LatencyCount = len(acc.latency)
			acc.agg.LatencyMedian = Median(acc.latency)
		}
		out = append(out, acc.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}

// AggregateByDimension counts rows and failures per (bucket, dimension value).
// Rows whose dimension value is empty or blank are skipped. Output is ordered by bucket,
// then by dimension value.
func AggregateByDimension(table *models.EventTable, spec Spec, dimension string) []models.DimensionAggregate {
	if table.Len() == 0 || !table.HasColumn(spec.TimestampField) || !table.HasColumn(dimension) {
		return nil
	}
	hasStatus := table.HasColumn(spec.StatusField)

	type key struct {
		bucket time.Time
		value  string
	}
	groups := make(map[key]*models.DimensionAggregate)
	for _, row := range table.Rows {
		raw, ok := row.Get(dimension)
		if !ok {
			continue
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		ts, ok := rowTime(row, spec)
		if !ok {
			continue
		}
		b := Floor(ts, spec.Frequency)
		k := key{bucket: b, value: value}
		agg, exists := groups[k]
		if !exists {
			agg = &models.DimensionAggregate{Bucket: b, First: ts, Value: value}
			groups[k] = agg
		}
		if ts.Before(agg.First) {
			agg.First = ts
		}
		agg.TotalCount++
		if hasStatus && outcome(row, spec) == outcomeFailed {
			agg.FailedCount++
		}
	}

	out := make([]models.DimensionAggregate, 0, len(groups))
	for _, agg := range groups {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].Bucket.Before(out[j].Bucket)
		}
		return out[i].Value < out[j].Value
	})
	return out
}

type rowOutcome int

const (
	outcomeUnknown rowOutcome = iota
	outcomeSuccess
	outcomeFailed
)

// outcome classifies a row: any non-empty status other than the success value
// is a failure; rows without a status are neither.
func outcome(row models.Event, spec Spec) rowOutcome {
	status, ok := row.Get(spec.StatusField)
	if !ok {
		return outcomeUnknown
	}
	if strings.EqualFold(strings.TrimSpace(status), spec.SuccessValue) {
		return outcomeSuccess
	}
	return outcomeFailed
}

// rowTime parses the row's timestamp in UTC.
func rowTime(row models.Event, spec Spec) (time.Time, bool) {
	raw, ok := row.Get(spec.TimestampField)
	if !ok {
		return time.Time{}, false
	}
	ts, err := utils.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func parseFloat(row models.Event, column string) (float64, bool) {
	raw, ok := row.Get(column)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
