package models

import (
	"encoding/json"
	"time"
)

// CandidateIncident is a bucket with at least one detector finding, before
// root causes are attached.
type CandidateIncident struct {
	Bucket     time.Time
	DetectedBy []string
	Findings   []Finding
}

// FindingsFor returns the candidate's findings produced by detector.
func (c CandidateIncident) FindingsFor(detector string) []Finding {
	var out []Finding
	for _, f := range c.Findings {
		if f.Detector == detector {
			out = append(out, f)
		}
	}
	return out
}

// RootCause is an explanation attached by the rule engine.
type RootCause struct {
	Name        string   `json:"root_cause"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    Evidence `json:"evidence"`
}

// Playbook is a remediation template keyed by root-cause name.
type Playbook struct {
	RootCause string `json:"-" yaml:"root_cause"`
	Owner     string `json:"owner" yaml:"owner"`
	Priority  string `json:"priority" yaml:"priority"`
	Steps     string `json:"steps" yaml:"steps"`
}

// Incident is the final, immutable output record of a pipeline run.
type Incident struct {
	Bucket     time.Time
	DetectedBy []string
	RootCauses []RootCause
	Playbooks  []Playbook
}

type incidentJSON struct {
	Bucket     string      `json:"incident_bucket"`
	DetectedBy []string    `json:"detected_by"`
	RootCauses []RootCause `json:"root_causes"`
	Playbooks  []Playbook  `json:"playbooks"`
}

// MarshalJSON renders the incident in its external shape with an ISO-8601 bucket.
func (i Incident) MarshalJSON() ([]byte, error) {
	out := incidentJSON{
		Bucket:     i.Bucket.UTC().Format(time.RFC3339),
		DetectedBy: i.DetectedBy,
		RootCauses: i.RootCauses,
		Playbooks:  i.Playbooks,
	}
	if out.DetectedBy == nil {
		out.DetectedBy = []string{}
	}
	if out.RootCauses == nil {
		out.RootCauses = []RootCause{}
	}
	if out.Playbooks == nil {
		out.Playbooks = []Playbook{}
	}
	return json.Marshal(out)
}
