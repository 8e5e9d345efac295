package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incidents/internal/api"
	"github.com/miradorstack/mirador-incidents/internal/cache"
	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/metrics"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/patterns"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

const (
	reportKeyPrefix = "mirador-incidents:report:"
	lockSuffix      = ":lock"

	defaultLockTTL = 30 * time.Second
	topRootCauses  = 3
)

// IncidentService implements the gRPC IncidentEngine service and backs the CLI.
type IncidentService struct {
	api.UnimplementedIncidentEngineServer

	logger    *slog.Logger
	pipeline  *engine.Pipeline
	cache     cache.Provider
	ttl       time.Duration
	lockTTL   time.Duration
	poll      time.Duration
	latencies *utils.LatencyTracker
}

// Option customises an IncidentService.
type Option func(*IncidentService)

// WithLockTTL bounds how long a run holds the lock for its report key, and how
// long an identical request waits for that run before detecting on its own.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *IncidentService) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// NewIncidentService constructs the service facade. A nil provider disables caching.
func NewIncidentService(logger *slog.Logger, pipeline *engine.Pipeline, provider cache.Provider, ttl time.Duration, opts ...Option) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	s := &IncidentService{
		logger:    logger,
		pipeline:  pipeline,
		cache:     provider,
		ttl:       ttl,
		lockTTL:   defaultLockTTL,
		poll:      50 * time.Millisecond,
		latencies: utils.NewLatencyTracker(1024),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DetectIncidents runs the pipeline over the events carried by req.
func (s *IncidentService) DetectIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	decoded, err := api.FromProtoDetectRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	data, err := s.Detect(ctx, decoded.Table, decoded.Summary)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Internal, fmt.Sprintf("detection failed: %v", err))
	}

	out, err := api.ToProtoReport(data)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Detect runs the pipeline and returns the JSON report. Reports are cached by
// pipeline fingerprint and table content; while one run for a key is in
// flight, identical requests wait for its report instead of running again.
func (s *IncidentService) Detect(ctx context.Context, table *models.EventTable, withSummary bool) ([]byte, error) {
	if s.pipeline == nil {
		return nil, errors.New("pipeline not configured")
	}
	runID := uuid.NewString()
	logger := s.logger.With(slog.String("run_id", runID))
	if table == nil {
		table = models.NewEventTable("", nil, nil)
	}

	key, err := s.reportKey(table, withSummary)
	if err != nil {
		return nil, err
	}
	if data, err := s.cache.Get(ctx, key); err == nil {
		metrics.ObserveCacheLookup(true)
		logger.Info("detection served from cache", slog.String("source", table.Source), slog.Int("rows", table.Len()))
		return data, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn("report cache lookup failed", slog.Any("error", err))
	}
	metrics.ObserveCacheLookup(false)

	lockKey := key + lockSuffix
	locked, err := s.cache.SetNX(ctx, lockKey, []byte(runID), s.lockTTL)
	switch {
	case err != nil:
		logger.Warn("report lock unavailable", slog.Any("error", err))
	case locked:
		defer func() {
			if err := s.cache.Del(context.WithoutCancel(ctx), lockKey); err != nil {
				logger.Warn("report lock release failed", slog.Any("error", err))
			}
		}()
	default:
		data, err := s.awaitReport(ctx, key, lockKey)
		if err == nil {
			logger.Info("detection served by concurrent run", slog.String("source", table.Source), slog.Int("rows", table.Len()))
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("waiting for concurrent run failed", slog.Any("error", err))
		}
	}

	start := time.Now()
	result, err := s.pipeline.Run(ctx, table)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRun(duration, metrics.OutcomeError)
		logger.Error("detection run failed", slog.Any("error", err))
		return nil, err
	}
	s.latencies.Observe(duration)
	metrics.ObserveRun(duration, metrics.OutcomeSuccess)
	metrics.ObserveIncidents(len(result.Incidents))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		logger.Info("detection latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	report := result.Report()
	if withSummary {
		summary := patterns.Summarize(result.Incidents)
		report.Summary = &summary
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		logger.Warn("report cache store failed", slog.Any("error", err))
	}

	logger.Info("detection run complete",
		slog.String("source", table.Source),
		slog.Int("rows", table.Len()),
		slog.Int("incidents", len(result.Incidents)),
		slog.Any("top_root_causes", patterns.TopRootCauses(result.Incidents, topRootCauses)),
		slog.Duration("duration", duration))
	return data, nil
}

// awaitReport polls for the report another run is producing. It returns
// ErrCacheMiss when the lock goes away without a report or lockTTL elapses.
func (s *IncidentService) awaitReport(ctx context.Context, key, lockKey string) ([]byte, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	deadline := time.NewTimer(s.lockTTL)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, cache.ErrCacheMiss
		case <-ticker.C:
		}
		data, err := s.cache.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return nil, err
		}
		if _, err := s.cache.Get(ctx, lockKey); errors.Is(err, cache.ErrCacheMiss) {
			return s.cache.Get(ctx, key)
		}
	}
}

// Health reports serving status and the registered detectors.
func (s *IncidentService) Health(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	detectors := []any{}
	fingerprint := ""
	if s.pipeline != nil {
		for _, name := range s.pipeline.Detectors() {
			detectors = append(detectors, name)
		}
		fingerprint = s.pipeline.Fingerprint()
	}
	return structpb.NewStruct(map[string]any{
		"status":         "SERVING",
		"detectors":      detectors,
		"fingerprint":    fingerprint,
		"latency_p95_ms": float64(s.LatencyP95().Milliseconds()),
	})
}

// LatencyP95 returns the current p95 run latency.
func (s *IncidentService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

type tableKey struct {
	Columns []string       `json:"columns"`
	Rows    []models.Event `json:"rows"`
}

func (s *IncidentService) reportKey(table *models.EventTable, withSummary bool) (string, error) {
	payload, err := json.Marshal(tableKey{Columns: table.Columns, Rows: table.Rows})
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(s.pipeline.Fingerprint()))
	if withSummary {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(payload)
	return reportKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
