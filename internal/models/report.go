package models

// Count is a named frequency in a run summary.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary aggregates one run's incidents by root cause, detector and country.
type Summary struct {
	Incidents  int     `json:"incidents"`
	RootCauses []Count `json:"root_causes"`
	Detectors  []Count `json:"detectors"`
	Countries  []Count `json:"countries,omitempty"`
}

// Report is the serialised result of one pipeline run.
type Report struct {
	Incidents     []Incident       `json:"incidents"`
	DetectorsUsed []DetectorResult `json:"detectors_used"`
	Summary       *Summary         `json:"summary,omitempty"`
}
