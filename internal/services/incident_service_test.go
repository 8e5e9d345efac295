package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incidents/internal/cache"
	"github.com/miradorstack/mirador-incidents/internal/config"
	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

type countingCache struct {
	*cache.MemoryProvider
	gets, sets int
	failGet    bool
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	if c.failGet {
		return nil, errors.New("connection reset")
	}
	return c.MemoryProvider.Get(ctx, key)
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets++
	return c.MemoryProvider.Set(ctx, key, value, ttl)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, provider cache.Provider) *IncidentService {
	t.Helper()
	cfg := config.Default()
	pipeline := engine.NewPipeline(&cfg, engine.DefaultRuleSet(), nil, testLogger())
	return NewIncidentService(testLogger(), pipeline, provider, time.Minute)
}

// geoEvents builds eight failed IN transactions in one bucket.
func geoEvents() []any {
	var events []any
	for i := 0; i < 8; i++ {
		events = append(events, map[string]any{
			"timestamp": time.Date(2025, 3, 1, 10, 0, i, 0, time.UTC).Format(time.RFC3339),
			"status":    "failed",
			"amount":    10,
			"country":   "IN",
		})
	}
	return events
}

func TestDetectIncidentsUsesCache(t *testing.T) {
	provider := &countingCache{MemoryProvider: cache.NewMemoryProvider()}
	svc := newTestService(t, provider)

	req, err := structpb.NewStruct(map[string]any{"source": "test", "summary": true, "events": geoEvents()})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	first, err := svc.DetectIncidents(context.Background(), req)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	incidents := first.GetFields()["incidents"].GetListValue().GetValues()
	if len(incidents) != 1 {
		t.Fatalf("expected one incident, got %d", len(incidents))
	}
	causes := incidents[0].GetStructValue().GetFields()["root_causes"].GetListValue().GetValues()
	if len(causes) == 0 {
		t.Fatalf("expected root causes")
	}
	if first.GetFields()["summary"].GetStructValue() == nil {
		t.Fatalf("expected summary in response")
	}

	second, err := svc.DetectIncidents(context.Background(), req)
	if err != nil {
		t.Fatalf("second detect: %v", err)
	}
	if provider.sets != 1 || provider.gets != 2 {
		t.Fatalf("expected second call served from cache, gets=%d sets=%d", provider.gets, provider.sets)
	}
	a, _ := json.Marshal(first.AsMap())
	b, _ := json.Marshal(second.AsMap())
	if string(a) != string(b) {
		t.Fatalf("expected cached response to match")
	}
}

func TestDetectSurvivesCacheErrors(t *testing.T) {
	provider := &countingCache{MemoryProvider: cache.NewMemoryProvider(), failGet: true}
	svc := newTestService(t, provider)

	table := models.NewEventTable("test", nil, []models.Event{{"timestamp": "2025-03-01T10:00:00Z", "status": "success"}})
	data, err := svc.Detect(context.Background(), table, false)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded["summary"]; ok {
		t.Fatalf("summary must be omitted unless requested")
	}
	if used, ok := decoded["detectors_used"].([]any); !ok || len(used) != 5 {
		t.Fatalf("expected five detector statuses, got %v", decoded["detectors_used"])
	}
}

func TestDetectIncidentsValidation(t *testing.T) {
	svc := newTestService(t, nil)

	if _, err := svc.DetectIncidents(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	bad, _ := structpb.NewStruct(map[string]any{"events": "nope"})
	if _, err := svc.DetectIncidents(context.Background(), bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	unconfigured := NewIncidentService(nil, nil, nil, 0)
	req, _ := structpb.NewStruct(map[string]any{"events": []any{}})
	if _, err := unconfigured.DetectIncidents(context.Background(), req); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestDetectIncidentsCancelled(t *testing.T) {
	svc := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, _ := structpb.NewStruct(map[string]any{"events": geoEvents()})
	if _, err := svc.DetectIncidents(ctx, req); status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	svc := newTestService(t, nil)
	resp, err := svc.Health(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if got := resp.GetFields()["status"].GetStringValue(); got != "SERVING" {
		t.Fatalf("unexpected status %q", got)
	}
	if got := len(resp.GetFields()["detectors"].GetListValue().GetValues()); got != 5 {
		t.Fatalf("expected 5 detectors, got %d", got)
	}
}

func TestDetectWaitsForInFlightRun(t *testing.T) {
	provider := cache.NewMemoryProvider()
	svc := newTestService(t, provider)
	svc.poll = 5 * time.Millisecond

	table := models.NewEventTable("test", nil, []models.Event{{"timestamp": "2025-03-01T10:00:00Z", "status": "success"}})
	key, err := svc.reportKey(table, false)
	if err != nil {
		t.Fatalf("report key: %v", err)
	}
	ctx := context.Background()
	if ok, err := provider.SetNX(ctx, key+lockSuffix, []byte("other-run"), time.Minute); err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}

	done := make(chan []byte, 1)
	go func() {
		data, err := svc.Detect(ctx, table, false)
		if err != nil {
			t.Errorf("detect: %v", err)
		}
		done <- data
	}()

	time.Sleep(20 * time.Millisecond)
	if err := provider.Set(ctx, key, []byte(`{"from":"other-run"}`), time.Minute); err != nil {
		t.Fatalf("publish report: %v", err)
	}

	select {
	case data := <-done:
		if string(data) != `{"from":"other-run"}` {
			t.Fatalf("expected the in-flight run's report, got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("detect did not return after the report was published")
	}
}

func TestDetectRunsWhenLockReleasedWithoutReport(t *testing.T) {
	provider := cache.NewMemoryProvider()
	svc := newTestService(t, provider)
	svc.poll = 5 * time.Millisecond

	table := models.NewEventTable("test", nil, []models.Event{{"timestamp": "2025-03-01T10:00:00Z", "status": "success"}})
	key, _ := svc.reportKey(table, false)
	ctx := context.Background()
	if _, err := provider.SetNX(ctx, key+lockSuffix, []byte("other-run"), time.Minute); err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = provider.Del(ctx, key+lockSuffix)
	}()

	data, err := svc.Detect(ctx, table, false)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded["detectors_used"]; !ok {
		t.Fatalf("expected a fresh report, got %s", data)
	}
}

func TestDetectReleasesLock(t *testing.T) {
	provider := cache.NewMemoryProvider()
	svc := newTestService(t, provider)

	table := models.NewEventTable("test", nil, []models.Event{{"timestamp": "2025-03-01T10:00:00Z", "status": "success"}})
	if _, err := svc.Detect(context.Background(), table, false); err != nil {
		t.Fatalf("detect: %v", err)
	}
	key, _ := svc.reportKey(table, false)
	if _, err := provider.Get(context.Background(), key+lockSuffix); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("expected lock released, got %v", err)
	}
	if _, err := provider.Get(context.Background(), key); err != nil {
		t.Fatalf("expected report cached: %v", err)
	}
}

func TestWithLockTTL(t *testing.T) {
	svc := NewIncidentService(testLogger(), nil, nil, 0, WithLockTTL(5*time.Second))
	if svc.lockTTL != 5*time.Second {
		t.Fatalf("expected 5s lock ttl, got %v", svc.lockTTL)
	}
	svc = NewIncidentService(testLogger(), nil, nil, 0, WithLockTTL(0))
	if svc.lockTTL != defaultLockTTL {
		t.Fatalf("expected default lock ttl, got %v", svc.lockTTL)
	}
}

func TestDetectLogsTopRootCauses(t *testing.T) {
	var logs bytes.Buffer
	logger := utils.NewLogger("info", true, &logs)
	cfg := config.Default()
	pipeline := engine.NewPipeline(&cfg, engine.DefaultRuleSet(), nil, logger)
	svc := NewIncidentService(logger, pipeline, nil, time.Minute)

	var rows []models.Event
	for i := 0; i < 8; i++ {
		rows = append(rows, models.Event{
			"timestamp": time.Date(2025, 3, 1, 10, 0, i, 0, time.UTC).Format(time.RFC3339),
			"status":    "failed",
			"country":   "IN",
		})
	}
	if _, err := svc.Detect(context.Background(), models.NewEventTable("test", nil, rows), false); err != nil {
		t.Fatalf("detect: %v", err)
	}

	scanner := bufio.NewScanner(&logs)
	for scanner.Scan() {
		var entry struct {
			Msg   string         `json:"msg"`
			Top   []models.Count `json:"top_root_causes"`
			RunID string         `json:"run_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.Msg != "detection run complete" {
			continue
		}
		if entry.RunID == "" {
			t.Fatalf("expected run_id on the completion log")
		}
		if len(entry.Top) != 1 || entry.Top[0] != (models.Count{Name: engine.KindGeoFailure, Count: 1}) {
			t.Fatalf("unexpected top root causes %+v", entry.Top)
		}
		return
	}
	t.Fatalf("no completion log in %s", logs.String())
}
