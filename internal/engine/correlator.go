package engine

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/detectors"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// Correlator merges detector findings into one candidate incident per bucket
// at the merge frequency.
type Correlator struct {
	frequency time.Duration
	registry  *detectors.Registry
}

// NewCorrelator constructs a Correlator. detected_by lists follow the
// registry's detector order.
func NewCorrelator(frequency time.Duration, registry *detectors.Registry) *Correlator {
	return &Correlator{frequency: frequency, registry: registry}
}

// Correlate groups findings from successful detector runs by the merge bucket
// holding their first contributing event, so a coarse finding lands on a
// bucket that has events behind it. Results with a non-ok status are ignored.
// Candidates are ordered by ascending bucket.
func (c *Correlator) Correlate(results []models.DetectorResult) []models.CandidateIncident {
	byBucket := make(map[time.Time]*models.CandidateIncident)
	fired := make(map[time.Time]map[string]struct{})

	for _, res := range results {
		if res.Status != models.DetectorStatusOK {
			continue
		}
		for _, f := range res.Findings {
			key := bucket.Floor(f.Anchor(), c.frequency)
			cand, ok := byBucket[key]
			if !ok {
				cand = &models.CandidateIncident{Bucket: key}
				byBucket[key] = cand
				fired[key] = make(map[string]struct{})
			}
			cand.Findings = append(cand.Findings, f)
			if _, seen := fired[key][f.Detector]; !seen {
				fired[key][f.Detector] = struct{}{}
				cand.DetectedBy = append(cand.DetectedBy, f.Detector)
			}
		}
	}

	out := make([]models.CandidateIncident, 0, len(byBucket))
	for _, cand := range byBucket {
		sort.SliceStable(cand.DetectedBy, func(i, j int) bool {
			return c.rank(cand.DetectedBy[i]) < c.rank(cand.DetectedBy[j])
		})
		sort.SliceStable(cand.Findings, func(i, j int) bool {
			ri, rj := c.rank(cand.Findings[i].Detector), c.rank(cand.Findings[j].Detector)
			if ri != rj {
				return ri < rj
			}
			if !cand.Findings[i].Bucket.Equal(cand.Findings[j].Bucket) {
				return cand.Findings[i].Bucket.Before(cand.Findings[j].Bucket)
			}
			return cand.Findings[i].Country < cand.Findings[j].Country
		})
		out = append(out, *cand)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}

// rank places unknown detectors after registered ones.
func (c *Correlator) rank(name string) int {
	if c.registry == nil {
		return 0
	}
	if r := c.registry.Rank(name); r >= 0 {
		return r
	}
	return 1 << 20
}
