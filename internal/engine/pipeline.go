package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/bucket"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/detectors"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// RunResult is the outcome of one pipeline invocation.
type RunResult struct {
	Incidents []models.Incident
	Detectors []models.DetectorResult
}

// Report converts the result into its serialisable form.
func (r RunResult) Report() models.Report {
	report := models.Report{
		Incidents:     r.Incidents,
		DetectorsUsed: r.Detectors,
	}
	if report.Incidents == nil {
		report.Incidents = []models.Incident{}
	}
	if report.DetectorsUsed == nil {
		report.DetectorsUsed = []models.DetectorResult{}
	}
	return report
}

// Pipeline runs detectors, correlation, root-cause rules and playbook
// resolution over one event table. It holds no state between runs.
type Pipeline struct {
	logger     *slog.Logger
	registry   *detectors.Registry
	runner     *Runner
	correlator *Correlator
	rules      *RuleEngine
	playbooks  *PlaybookResolver
	mergeSpec  bucket.Spec

	fingerprint string
}

// NewPipeline wires a pipeline from configuration. Nil rules fall back to the
// built-in rule pack and nil playbooks to an empty table.
func NewPipeline(cfg *config.Config, rules *RuleSet, playbooks *PlaybookResolver, logger *slog.Logger) *Pipeline {
	fields := detectors.FieldsFromConfig(cfg.Pipeline.Fields)
	registry := detectors.NewRegistry(cfg.Detectors, fields)
	return NewPipelineWithRegistry(registry, cfg.Pipeline, rules, playbooks, logger)
}

// NewPipelineWithRegistry wires a pipeline around an explicit detector registry.
func NewPipelineWithRegistry(registry *detectors.Registry, pipeline config.PipelineConfig, rules *RuleSet, playbooks *PlaybookResolver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if playbooks == nil {
		playbooks = NewPlaybookResolver(nil)
	}
	fields := detectors.FieldsFromConfig(pipeline.Fields)
	return &Pipeline{
		logger:      logger,
		registry:    registry,
		runner:      NewRunner(registry, pipeline.Concurrency, logger),
		correlator:  NewCorrelator(pipeline.MergeFrequency, registry),
		rules:       NewRuleEngine(rules, logger),
		playbooks:   playbooks,
		mergeSpec:   fields.Spec(pipeline.MergeFrequency),
		fingerprint: fingerprint(registry, pipeline, rules, playbooks),
	}
}

// Run executes the pipeline. It only fails when ctx is cancelled; detector
// failures are reported in RunResult.Detectors.
func (p *Pipeline) Run(ctx context.Context, table *models.EventTable) (RunResult, error) {
	if table == nil {
		table = models.NewEventTable("", nil, nil)
	}
	start := time.Now()

	results, err := p.runner.Run(ctx, table)
	if err != nil {
		return RunResult{}, err
	}

	candidates := p.correlator.Correlate(results)
	aggregates := bucket.Aggregate(table, p.mergeSpec)
	incidents := p.rules.Evaluate(candidates, aggregates)
	for i := range incidents {
		incidents[i].Playbooks = p.playbooks.Resolve(incidents[i].RootCauses)
	}

	p.logger.Debug("pipeline run complete",
		slog.String("source", table.Source),
		slog.Int("rows", table.Len()),
		slog.Int("candidates", len(candidates)),
		slog.Int("incidents", len(incidents)),
		slog.Duration("duration", time.Since(start)))

	return RunResult{Incidents: incidents, Detectors: results}, nil
}

// Detectors lists the registered detector names in order.
func (p *Pipeline) Detectors() []string {
	return p.registry.Names()
}

// Fingerprint identifies the pipeline configuration. Two pipelines with the
// same fingerprint produce identical output for identical input.
func (p *Pipeline) Fingerprint() string {
	return p.fingerprint
}

type fingerprintRule struct {
	Kind string `json:"kind"`
	Rule Rule   `json:"rule"`
}

type fingerprintPlaybook struct {
	RootCause string          `json:"root_cause"`
	Playbook  models.Playbook `json:"playbook"`
}

func fingerprint(registry *detectors.Registry, pipeline config.PipelineConfig, rules *RuleSet, playbooks *PlaybookResolver) string {
	settings := make([]string, 0, len(registry.Detectors()))
	for _, d := range registry.Detectors() {
		settings = append(settings, fmt.Sprintf("%+v", d))
	}
	taggedRules := make([]fingerprintRule, 0, len(rules.Rules))
	for _, rule := range rules.Rules {
		taggedRules = append(taggedRules, fingerprintRule{Kind: rule.Kind(), Rule: rule})
	}
	rows := playbooks.Rows()
	taggedPlaybooks := make([]fingerprintPlaybook, 0, len(rows))
	for _, row := range rows {
		taggedPlaybooks = append(taggedPlaybooks, fingerprintPlaybook{RootCause: row.RootCause, Playbook: row})
	}

	payload := struct {
		Detectors []string              `json:"detectors"`
		Pipeline  config.PipelineConfig `json:"pipeline"`
		Rules     []fingerprintRule     `json:"rules"`
		Fallback  RuleMeta              `json:"fallback"`
		Playbooks []fingerprintPlaybook `json:"playbooks"`
	}{
		Detectors: settings,
		Pipeline:  pipeline,
		Rules:     taggedRules,
		Fallback:  rules.Fallback,
		Playbooks: taggedPlaybooks,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewPipelineFromConfig loads the rule pack and playbook table named by cfg
// and wires a pipeline around them.
func NewPipelineFromConfig(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	rules, err := LoadRuleSet(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}
	playbooks, err := LoadPlaybooks(cfg.Playbooks.Path)
	if err != nil {
		return nil, err
	}
	if logger != nil && playbooks.Len() == 0 {
		logger.Warn("no playbooks loaded", slog.String("path", cfg.Playbooks.Path))
	}
	return NewPipeline(cfg, rules, playbooks, logger), nil
}
