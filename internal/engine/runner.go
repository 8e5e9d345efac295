package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incidents/internal/detectors"
	"github.com/miradorstack/mirador-incidents/internal/metrics"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// Runner executes every registered detector against one event table. Detectors
// run concurrently and share nothing but the read-only table.
type Runner struct {
	registry    *detectors.Registry
	concurrency int
	logger      *slog.Logger
}

// NewRunner constructs a Runner. A non-positive concurrency runs all detectors at once.
func NewRunner(registry *detectors.Registry, concurrency int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, concurrency: concurrency, logger: logger}
}

// Run returns one result per detector in registry order. A detector that fails
// or panics is recorded with a failed status and never aborts the others; only
// context cancellation is returned as an error.
func (r *Runner) Run(ctx context.Context, table *models.EventTable) ([]models.DetectorResult, error) {
	list := r.registry.Detectors()
	results := make([]models.DetectorResult, len(list))

	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, d := range list {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.runOne(d, table)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run detectors: %w", err)
	}

	for _, res := range results {
		metrics.ObserveDetector(res.Detector, string(res.Status), len(res.Findings))
	}
	return results, nil
}

func (r *Runner) runOne(d detectors.Detector, table *models.EventTable) (result models.DetectorResult) {
	result = models.DetectorResult{Detector: d.Name(), Status: models.DetectorStatusOK}

	for _, col := range d.Requires() {
		if !table.HasColumn(col) {
			r.logger.Debug("detector skipped, signal not present",
				slog.String("detector", d.Name()),
				slog.String("column", col))
			result.Status = models.DetectorStatusMissingSignal
			return result
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := utils.NewAppError("detect", utils.KindDetectorFailure, d.Name(), fmt.Errorf("panic: %v", rec))
			r.logger.Warn("detector failed", slog.String("detector", d.Name()), slog.Any("error", err))
			result = models.DetectorResult{Detector: d.Name(), Status: models.DetectorStatusFailed, Error: err.Error()}
		}
	}()

	findings, err := d.Detect(table)
	if err != nil {
		wrapped := utils.NewAppError("detect", utils.KindDetectorFailure, d.Name(), err)
		r.logger.Warn("detector failed", slog.String("detector", d.Name()), slog.Any("error", wrapped))
		result.Status = models.DetectorStatusFailed
		result.Error = wrapped.Error()
		return result
	}

	sortFindings(findings)
	result.Findings = findings
	return result
}

func sortFindings(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if !findings[i].Bucket.Equal(findings[j].Bucket) {
			return findings[i].Bucket.Before(findings[j].Bucket)
		}
		return findings[i].Country < findings[j].Country
	})
}
