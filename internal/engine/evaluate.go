package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// failedDetectors are the detectors whose findings count as failed-transaction spikes.
var failedDetectors = []string{models.DetectorEWMAFailed, models.DetectorSeasonalZScore}

// RuleEngine attaches root causes to candidate incidents.
type RuleEngine struct {
	rules  *RuleSet
	logger *slog.Logger
}

// NewRuleEngine constructs a RuleEngine. A nil rule set uses DefaultRuleSet.
func NewRuleEngine(rules *RuleSet, logger *slog.Logger) *RuleEngine {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: rules, logger: logger}
}

// runContext is the whole-run evidence shared by the cross-signal rules.
type runContext struct {
	aggregates     map[time.Time]models.BucketAggregate
	geoOccurrences map[string]int
}

// Evaluate returns one incident per candidate, in candidate order, each with
// at least one root cause. aggregates must be bucketed at the merge frequency
// used by the correlator.
func (e *RuleEngine) Evaluate(candidates []models.CandidateIncident, aggregates []models.BucketAggregate) []models.Incident {
	run := runContext{
		aggregates:     make(map[time.Time]models.BucketAggregate, len(aggregates)),
		geoOccurrences: make(map[string]int),
	}
	for _, agg := range aggregates {
		run.aggregates[agg.Bucket] = agg
	}
	for _, cand := range candidates {
		for _, f := range cand.FindingsFor(models.DetectorGeoFailure) {
			if f.Country != "" {
				run.geoOccurrences[f.Country]++
			}
		}
	}

	matches := make(map[string]map[time.Time]paymentMatch)
	for _, rule := range e.rules.Rules {
		if r, ok := rule.(PaymentIssueRule); ok {
			matches[r.Name] = matchPayments(candidates, r.Frequency)
		}
	}

	incidents := make([]models.Incident, 0, len(candidates))
	for _, cand := range candidates {
		var causes []models.RootCause
		for _, rule := range e.rules.Rules {
			switch r := rule.(type) {
			case FailedTxSpikeRule:
				causes = append(causes, e.failedTxSpike(r, cand, run)...)
			case LatencyRule:
				causes = append(causes, findingCause(r.RuleMeta, cand, models.DetectorLatencySpike, "latency_median", "baseline", "ratio")...)
			case RevenueDropRule:
				causes = append(causes, findingCause(r.RuleMeta, cand, models.DetectorRevenueDrop, "current_revenue", "baseline", "transactions")...)
			case GeoFailureRule:
				causes = append(causes, geoFailure(r, cand)...)
			case RegionalOutageRule:
				causes = append(causes, regionalOutage(r, cand, run)...)
			case PaymentIssueRule:
				causes = append(causes, paymentIssue(r, cand, matches[r.Name])...)
			default:
				e.logger.Warn("unsupported rule kind", slog.String("kind", rule.Kind()))
			}
		}
		if len(causes) == 0 {
			causes = append(causes, models.RootCause{
				Name:        e.rules.Fallback.Name,
				Description: e.rules.Fallback.Description,
				Confidence:  e.rules.Fallback.Confidence,
				Evidence: models.Evidence{
					"detected_by": append([]string(nil), cand.DetectedBy...),
					"findings":    len(cand.Findings),
				},
			})
		}
		incidents = append(incidents, models.Incident{
			Bucket:     cand.Bucket,
			DetectedBy: append([]string(nil), cand.DetectedBy...),
			RootCauses: causes,
		})
	}
	return incidents
}

func (e *RuleEngine) failedTxSpike(r FailedTxSpikeRule, cand models.CandidateIncident, run runContext) []models.RootCause {
	agg, ok := run.aggregates[cand.Bucket]
	if !ok || agg.FailedCount < r.Threshold {
		return nil
	}
	return []models.RootCause{{
		Name:        r.Name,
		Description: r.Description,
		Confidence:  r.Confidence,
		Evidence: models.Evidence{
			"failed_count": agg.FailedCount,
			"total_count":  agg.TotalCount,
			"threshold":    r.Threshold,
		},
	}}
}

// findingCause emits one cause from the first finding of detector, copying the
// named evidence keys.
func findingCause(meta RuleMeta, cand models.CandidateIncident, detector string, keys ...string) []models.RootCause {
	findings := cand.FindingsFor(detector)
	if len(findings) == 0 {
		return nil
	}
	f := findings[0]
	evidence := models.Evidence{
		"timestamp": f.Bucket.UTC().Format(time.RFC3339),
		"score":     f.Score,
	}
	for _, key := range keys {
		if v, ok := f.Evidence[key]; ok {
			evidence[key] = v
		}
	}
	return []models.RootCause{{
		Name:        meta.Name,
		Description: meta.Description,
		Confidence:  meta.Confidence,
		Evidence:    evidence,
	}}
}

func geoFailure(r GeoFailureRule, cand models.CandidateIncident) []models.RootCause {
	var causes []models.RootCause
	for _, f := range cand.FindingsFor(models.DetectorGeoFailure) {
		causes = append(causes, models.RootCause{
			Name:        r.Name,
			Description: describe(r.Description, f.Country),
			Confidence:  r.Confidence,
			Evidence: models.Evidence{
				"timestamp":    f.Bucket.UTC().Format(time.RFC3339),
				"country":      f.Country,
				"failed_count": f.Evidence["failed_count"],
				"threshold":    f.Evidence["threshold"],
			},
		})
	}
	return causes
}

func regionalOutage(r RegionalOutageRule, cand models.CandidateIncident, run runContext) []models.RootCause {
	var causes []models.RootCause
	seen := make(map[string]struct{})
	for _, f := range cand.FindingsFor(models.DetectorGeoFailure) {
		if _, dup := seen[f.Country]; dup || f.Country == "" {
			continue
		}
		seen[f.Country] = struct{}{}
		n := run.geoOccurrences[f.Country]
		if n < r.MinOccurrences {
			continue
		}
		causes = append(causes, models.RootCause{
			Name:        r.Name,
			Description: describe(r.Description, f.Country),
			Confidence:  r.confidence(n),
			Evidence: models.Evidence{
				"country":     f.Country,
				"occurrences": n,
			},
		})
	}
	return causes
}

// paymentMatch is the first revenue drop and the first failed-transaction
// finding sharing one correlation bucket.
type paymentMatch struct {
	revenue models.Finding
	failed  models.Finding
}

func matchPayments(candidates []models.CandidateIncident, freq time.Duration) map[time.Time]paymentMatch {
	revenue := make(map[time.Time]models.Finding)
	failed := make(map[time.Time]models.Finding)
	for _, cand := range candidates {
		for _, f := range cand.FindingsFor(models.DetectorRevenueDrop) {
			key := bucket.Floor(f.Bucket, freq)
			if prev, ok := revenue[key]; !ok || f.Bucket.Before(prev.Bucket) {
				revenue[key] = f
			}
		}
		for _, name := range failedDetectors {
			for _, f := range cand.FindingsFor(name) {
				key := bucket.Floor(f.Bucket, freq)
				if prev, ok := failed[key]; !ok || earlierFailed(f, prev) {
					failed[key] = f
				}
			}
		}
	}

	out := make(map[time.Time]paymentMatch)
	for key, r := range revenue {
		if f, ok := failed[key]; ok {
			out[key] = paymentMatch{revenue: r, failed: f}
		}
	}
	return out
}

func earlierFailed(a, b models.Finding) bool {
	if !a.Bucket.Equal(b.Bucket) {
		return a.Bucket.Before(b.Bucket)
	}
	return detectorIndex(a.Detector) < detectorIndex(b.Detector)
}

func detectorIndex(name string) int {
	for i, d := range failedDetectors {
		if d == name {
			return i
		}
	}
	return len(failedDetectors)
}

func paymentIssue(r PaymentIssueRule, cand models.CandidateIncident, matches map[time.Time]paymentMatch) []models.RootCause {
	if len(matches) == 0 {
		return nil
	}
	keys := make(map[time.Time]struct{})
	for _, name := range append([]string{models.DetectorRevenueDrop}, failedDetectors...) {
		for _, f := range cand.FindingsFor(name) {
			keys[bucket.Floor(f.Bucket, r.Frequency)] = struct{}{}
		}
	}
	ordered := make([]time.Time, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	for _, key := range ordered {
		m, ok := matches[key]
		if !ok {
			continue
		}
		return []models.RootCause{{
			Name:        r.Name,
			Description: r.Description,
			Confidence:  r.Confidence,
			Evidence: models.Evidence{
				"correlation_bucket": key.UTC().Format(time.RFC3339),
				"revenue":            m.revenue.AsEvidence(),
				"failed":             m.failed.AsEvidence(),
			},
		}}
	}
	return nil
}

func describe(template, country string) string {
	if !strings.Contains(template, "{country}") {
		if country == "" {
			return template
		}
		return fmt.Sprintf("%s (%s)", template, country)
	}
	return strings.ReplaceAll(template, "{country}", country)
}
