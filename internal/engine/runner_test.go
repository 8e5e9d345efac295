package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/detectors"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

type fakeDetector struct {
	name     string
	requires []string
	findings []models.Finding
	err      error
	panics   bool
}

func (f *fakeDetector) Name() string       { return f.name }
func (f *fakeDetector) Requires() []string { return f.requires }

func (f *fakeDetector) Detect(table *models.EventTable) ([]models.Finding, error) {
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Finding, len(f.findings))
	copy(out, f.findings)
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func finding(detector string, at time.Time) models.Finding {
	return models.Finding{Bucket: at, Detector: detector, MetricValue: 1, Score: models.NewScore(4)}
}

func TestRunnerIsolatesDetectorFailures(t *testing.T) {
	table := models.NewEventTable("tx", nil, []models.Event{{"timestamp": "2025-03-01T10:00:00Z", "status": "failed"}})
	registry := detectors.NewRegistryOf(
		&fakeDetector{name: "ok", requires: []string{"timestamp"}, findings: []models.Finding{
			finding("ok", t0.Add(5*time.Minute)),
			finding("ok", t0),
		}},
		&fakeDetector{name: "errs", requires: []string{"timestamp"}, err: errors.New("bad input")},
		&fakeDetector{name: "panics", requires: []string{"timestamp"}, panics: true},
		&fakeDetector{name: "absent", requires: []string{"latency_ms"}, panics: true},
	)

	results, err := NewRunner(registry, 2, discardLogger()).Run(context.Background(), table)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	want := []models.DetectorStatus{
		models.DetectorStatusOK,
		models.DetectorStatusFailed,
		models.DetectorStatusFailed,
		models.DetectorStatusMissingSignal,
	}
	for i, res := range results {
		if res.Status != want[i] {
			t.Fatalf("result %d (%s): expected status %s, got %s", i, res.Detector, want[i], res.Status)
		}
	}
	if results[1].Error == "" || results[2].Error == "" {
		t.Fatalf("expected failure messages to be recorded")
	}
	if len(results[0].Findings) != 2 || !results[0].Findings[0].Bucket.Equal(t0) {
		t.Fatalf("expected findings sorted by bucket, got %+v", results[0].Findings)
	}
}

func TestRunnerHonoursCancellation(t *testing.T) {
	registry := detectors.NewRegistryOf(&fakeDetector{name: "ok", requires: []string{"timestamp"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRunner(registry, 0, discardLogger()).Run(ctx, models.NewEventTable("tx", nil, nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
