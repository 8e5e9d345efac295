package detectors

import (
	"github.com/miradorstack/mirador-incidents/internal/config"
)

// Registry is the fixed, ordered set of detectors used by a pipeline.
type Registry struct {
	detectors []Detector
	order     map[string]int
}

// NewRegistry registers the enabled detector variants in their canonical order.
func NewRegistry(cfg config.DetectorsConfig, fields Fields) *Registry {
	var list []Detector
	if cfg.EWMA.Enabled {
		list = append(list, NewEWMAFailed(fields, cfg.EWMA))
	}
	if cfg.SeasonalZScore.Enabled {
		list = append(list, NewSeasonalZScore(fields, cfg.SeasonalZScore))
	}
	if cfg.Latency.Enabled {
		list = append(list, NewLatencySpike(fields, cfg.Latency))
	}
	if cfg.Revenue.Enabled {
		list = append(list, NewRevenueDrop(fields, cfg.Revenue))
	}
	if cfg.Geo.Enabled {
		list = append(list, NewGeoFailure(fields, cfg.Geo))
	}
	return NewRegistryOf(list...)
}

// NewRegistryOf builds a registry from explicit detectors, keeping their order.
func NewRegistryOf(list ...Detector) *Registry {
	r := &Registry{order: make(map[string]int, len(list))}
	for _, d := range list {
		if d == nil {
			continue
		}
		if _, dup := r.order[d.Name()]; dup {
			continue
		}
		r.order[d.Name()] = len(r.detectors)
		r.detectors = append(r.detectors, d)
	}
	return r
}

// Detectors returns the registered detectors in order.
func (r *Registry) Detectors() []Detector {
	return append([]Detector(nil), r.detectors...)
}

// Names returns the registered detector names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.detectors))
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	return names
}

// Rank returns the registration index of name, or -1 when unknown.
func (r *Registry) Rank(name string) int {
	if idx, ok := r.order[name]; ok {
		return idx
	}
	return -1
}
