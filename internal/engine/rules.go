package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRuleSet is returned when a rule pack cannot be decoded or validated.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// Rule kinds understood by the rule engine.
const (
	KindFailedTxSpike  = "failed_tx_spike"
	KindLatency        = "payment_gateway_latency"
	KindRevenueDrop    = "revenue_drop"
	KindGeoFailure     = "geo_failure"
	KindRegionalOutage = "regional_outage"
	KindPaymentIssue   = "payment_issue"
	// FallbackRootCause names the cause attached when no rule matched.
	FallbackRootCause = "no_clear_root_cause"
)

// Rule is one root-cause rule. The set of implementations is closed; the rule
// engine dispatches over it with a type switch.
type Rule interface {
	Meta() RuleMeta
	Kind() string
	validate() error
}

// RuleMeta carries the fields every rule kind shares. Description may contain
// a {country} placeholder for country-scoped rules.
type RuleMeta struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
}

func (m RuleMeta) Meta() RuleMeta { return m }

func (m RuleMeta) validate() error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%s: confidence %.2f outside [0,1]", m.Name, m.Confidence)
	}
	return nil
}

// FailedTxSpikeRule fires when the merged bucket's failed count reaches Threshold.
type FailedTxSpikeRule struct {
	RuleMeta
	Threshold int `json:"threshold"`
}

func (FailedTxSpikeRule) Kind() string { return KindFailedTxSpike }

func (r FailedTxSpikeRule) validate() error {
	if r.Threshold < 1 {
		return fmt.Errorf("%s: threshold must be at least 1", r.Name)
	}
	return r.RuleMeta.validate()
}

// LatencyRule fires when a latency spike finding exists for the bucket.
type LatencyRule struct{ RuleMeta }

func (LatencyRule) Kind() string { return KindLatency }

// RevenueDropRule fires when a revenue drop finding exists for the bucket.
type RevenueDropRule struct{ RuleMeta }

func (RevenueDropRule) Kind() string { return KindRevenueDrop }

// GeoFailureRule fires once per country with a geo finding in the bucket.
type GeoFailureRule struct{ RuleMeta }

func (GeoFailureRule) Kind() string { return KindGeoFailure }

// RegionalOutageRule fires for countries whose geo findings reach
// MinOccurrences across the whole run. Confidence grows with the occurrence
// count: min(MaxConfidence, BaseConfidence + Step*occurrences).
type RegionalOutageRule struct {
	RuleMeta
	MinOccurrences int     `json:"min_occurrences"`
	BaseConfidence float64 `json:"base_confidence"`
	Step           float64 `json:"step"`
	MaxConfidence  float64 `json:"max_confidence"`
}

func (RegionalOutageRule) Kind() string { return KindRegionalOutage }

func (r RegionalOutageRule) validate() error {
	if r.MinOccurrences < 1 {
		return fmt.Errorf("%s: minOccurrences must be at least 1", r.Name)
	}
	if r.MaxConfidence < 0 || r.MaxConfidence > 1 {
		return fmt.Errorf("%s: maxConfidence %.2f outside [0,1]", r.Name, r.MaxConfidence)
	}
	return r.RuleMeta.validate()
}

// confidence returns the clamped confidence for n occurrences.
func (r RegionalOutageRule) confidence(n int) float64 {
	c := r.BaseConfidence + r.Step*float64(n)
	if c > r.MaxConfidence {
		c = r.MaxConfidence
	}
	if c < 0 {
		c = 0
	}
	return c
}

// PaymentIssueRule fires when a revenue drop and a failed-transaction finding
// fall into the same bucket at Frequency.
type PaymentIssueRule struct {
	RuleMeta
	Frequency time.Duration `json:"frequency"`
}

func (PaymentIssueRule) Kind() string { return KindPaymentIssue }

func (r PaymentIssueRule) validate() error {
	if r.Frequency <= 0 {
		return fmt.Errorf("%s: frequency must be positive", r.Name)
	}
	return r.RuleMeta.validate()
}

// RuleSet is the ordered rule pack plus the fallback cause.
type RuleSet struct {
	Rules    []Rule   `json:"rules"`
	Fallback RuleMeta `json:"fallback"`
}

// Validate checks every rule and rejects duplicate names.
func (s *RuleSet) Validate() error {
	seen := make(map[string]struct{}, len(s.Rules))
	for _, rule := range s.Rules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
		}
		name := rule.Meta().Name
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate rule %q", ErrInvalidRuleSet, name)
		}
		seen[name] = struct{}{}
	}
	if err := s.Fallback.validate(); err != nil {
		return fmt.Errorf("%w: fallback: %v", ErrInvalidRuleSet, err)
	}
	return nil
}

// DefaultRuleSet returns the built-in rule pack.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Rules: []Rule{
			FailedTxSpikeRule{
				RuleMeta:  RuleMeta{Name: KindFailedTxSpike, Description: "Failed transactions exceeded the configured threshold", Confidence: 0.7},
				Threshold: 10,
			},
			LatencyRule{RuleMeta{Name: KindLatency, Description: "Payment gateway latency rose well above its baseline", Confidence: 0.65}},
			RevenueDropRule{RuleMeta{Name: KindRevenueDrop, Description: "Successful revenue fell below its rolling baseline", Confidence: 0.75}},
			GeoFailureRule{RuleMeta{Name: KindGeoFailure, Description: "Failed transactions concentrated in {country}", Confidence: 0.6}},
			RegionalOutageRule{
				RuleMeta:       RuleMeta{Name: KindRegionalOutage, Description: "Regional failures in {country}"},
				MinOccurrences: 3,
				BaseConfidence: 0.3,
				Step:           0.1,
				MaxConfidence:  0.9,
			},
			PaymentIssueRule{
				RuleMeta:  RuleMeta{Name: KindPaymentIssue, Description: "Revenue drop correlated with failed transactions", Confidence: 0.85},
				Frequency: time.Hour,
			},
		},
		Fallback: RuleMeta{Name: FallbackRootCause, Description: "Detectors produced findings but no rule matched", Confidence: 0.25},
	}
}

type ruleFile struct {
	Rules    []rawRule `yaml:"rules"`
	Fallback *RuleMeta `yaml:"fallback"`
}

// rawRule is the flat YAML form of every rule kind.
type rawRule struct {
	Kind           string        `yaml:"kind"`
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	Confidence     float64       `yaml:"confidence"`
	Threshold      int           `yaml:"threshold"`
	MinOccurrences int           `yaml:"minOccurrences"`
	BaseConfidence float64       `yaml:"baseConfidence"`
	Step           float64       `yaml:"step"`
	MaxConfidence  float64       `yaml:"maxConfidence"`
	Frequency      time.Duration `yaml:"frequency"`
}

func (r rawRule) toRule() (Rule, error) {
	kind := strings.ToLower(strings.TrimSpace(r.Kind))
	meta := RuleMeta{Name: r.Name, Description: r.Description, Confidence: r.Confidence}
	if meta.Name == "" {
		meta.Name = kind
	}
	switch kind {
	case KindFailedTxSpike:
		return FailedTxSpikeRule{RuleMeta: meta, Threshold: r.Threshold}, nil
	case KindLatency:
		return LatencyRule{meta}, nil
	case KindRevenueDrop:
		return RevenueDropRule{meta}, nil
	case KindGeoFailure:
		return GeoFailureRule{meta}, nil
	case KindRegionalOutage:
		rule := RegionalOutageRule{
			RuleMeta:       meta,
			MinOccurrences: r.MinOccurrences,
			BaseConfidence: r.BaseConfidence,
			Step:           r.Step,
			MaxConfidence:  r.MaxConfidence,
		}
		if rule.MaxConfidence == 0 {
			rule.MaxConfidence = 1
		}
		return rule, nil
	case KindPaymentIssue:
		rule := PaymentIssueRule{RuleMeta: meta, Frequency: r.Frequency}
		if rule.Frequency == 0 {
			rule.Frequency = time.Hour
		}
		return rule, nil
	case "":
		return nil, fmt.Errorf("%w: rule %q has no kind", ErrInvalidRuleSet, r.Name)
	default:
		return nil, fmt.Errorf("%w: unknown rule kind %q", ErrInvalidRuleSet, r.Kind)
	}
}

// ParseRuleSet decodes a YAML rule pack. A pack without a fallback entry keeps
// the built-in fallback.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	set := &RuleSet{Fallback: DefaultRuleSet().Fallback}
	for _, raw := range file.Rules {
		rule, err := raw.toRule()
		if err != nil {
			return nil, err
		}
		set.Rules = append(set.Rules, rule)
	}
	if file.Fallback != nil {
		set.Fallback = *file.Fallback
		if set.Fallback.Name == "" {
			set.Fallback.Name = FallbackRootCause
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadRuleSet reads a rule pack from path. An empty path or a missing file
// yields the built-in rule pack; a file that cannot be parsed is an error.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultRuleSet(), nil
		}
		return nil, fmt.Errorf("read rules: %w", err)
	}
	set, err := ParseRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	return set, nil
}
