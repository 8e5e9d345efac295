// Package patterns mines frequency patterns from a run's incidents.
package patterns

import (
	"sort"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// Summarize counts how often each root cause, detector and country appears
// across incidents. Each incident counts a name at most once. Counts are
// ordered by descending frequency, then by name.
func Summarize(incidents []models.Incident) models.Summary {
	causes := newCounter()
	detectors := newCounter()
	countries := newCounter()

	for _, inc := range incidents {
		seen := make(map[string]struct{})
		for _, cause := range inc.RootCauses {
			causes.once(seen, "cause:", cause.Name)
			if country, ok := cause.Evidence["country"].(string); ok && country != "" {
				countries.once(seen, "country:", country)
			}
		}
		for _, name := range inc.DetectedBy {
			detectors.once(seen, "detector:", name)
		}
	}

	return models.Summary{
		Incidents:  len(incidents),
		RootCauses: causes.sorted(0),
		Detectors:  detectors.sorted(0),
		Countries:  countries.sorted(0),
	}
}

// TopRootCauses returns the limit most frequent root causes.
func TopRootCauses(incidents []models.Incident, limit int) []models.Count {
	summary := Summarize(incidents)
	if limit > 0 && len(summary.RootCauses) > limit {
		return summary.RootCauses[:limit]
	}
	return summary.RootCauses
}

type counter map[string]int

func newCounter() counter { return make(counter) }

func (c counter) once(seen map[string]struct{}, scope, name string) {
	key := scope + name
	if _, ok := seen[key]; ok {
		return
	}
	seen[key] = struct{}{}
	c[name]++
}

func (c counter) sorted(limit int) []models.Count {
	out := make([]models.Count, 0, len(c))
	for name, n := range c {
		out = append(out, models.Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
