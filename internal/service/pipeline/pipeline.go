// Package pipeline provides the shared business logic for the learning
// pipeline.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (normalization,
// aggregation thresholds, policy persistence) across all interfaces.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kizuki/internal/aggregate"
	"github.com/ashita-ai/kizuki/internal/collector"
	"github.com/ashita-ai/kizuki/internal/inference"
	"github.com/ashita-ai/kizuki/internal/model"
	"github.com/ashita-ai/kizuki/internal/storage"
	"github.com/ashita-ai/kizuki/internal/synthesis"
	"github.com/ashita-ai/kizuki/internal/telemetry"
)

// DefaultWindowDays is the signal lookback window for aggregation and
// inference when the caller does not specify one.
const DefaultWindowDays = 30

// Service encapsulates pipeline business logic shared by HTTP and MCP handlers.
type Service struct {
	store       storage.Store
	collector   *collector.Collector
	aggregator  *aggregate.Aggregator
	synthesizer *synthesis.Synthesizer
	engine      *inference.Engine
	opts        aggregate.Options
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
}

// New creates a pipeline Service. metrics may be nil, in which case
// counters are registered on the global meter.
func New(store storage.Store, opts aggregate.Options, logger *slog.Logger, metrics *telemetry.Metrics) (*Service, error) {
	if metrics == nil {
		var err error
		metrics, err = telemetry.NewMetrics("kizuki/pipeline")
		if err != nil {
			return nil, err
		}
	}
	agg := aggregate.New(logger)
	return &Service{
		store:       store,
		collector:   collector.New(logger, nil),
		aggregator:  agg,
		synthesizer: synthesis.New(agg, logger),
		engine:      inference.New(logger, nil),
		opts:        opts,
		logger:      logger,
		metrics:     metrics,
		tracer:      otel.Tracer("kizuki/pipeline"),
	}, nil
}

// IngestPR normalizes a pull-request webhook event and stores the signal.
func (s *Service) IngestPR(ctx context.Context, event collector.PREvent) (model.Signal, error) {
	sig := s.collector.FromPREvent(event)
	if err := s.Record(ctx, &sig); err != nil {
		return model.Signal{}, err
	}
	return sig, nil
}

// IngestCI normalizes a CI workflow webhook event and stores the signal.
func (s *Service) IngestCI(ctx context.Context, event collector.CIEvent) (model.Signal, error) {
	sig := s.collector.FromCIEvent(event)
	if err := s.Record(ctx, &sig); err != nil {
		return model.Signal{}, err
	}
	return sig, nil
}

// Record validates and persists a signal, backfilling defaults first.
func (s *Service) Record(ctx context.Context, sig *model.Signal) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.record",
		trace.WithAttributes(attribute.String("signal.type", string(sig.Type))))
	defer span.End()

	sig.EnsureDefaults(time.Now())
	if err := model.ValidateSignal(*sig); err != nil {
		return fmt.Errorf("pipeline: record: %w", err)
	}
	if _, err := s.store.StoreSignal(ctx, *sig); err != nil {
		return fmt.Errorf("pipeline: record: %w", err)
	}
	s.metrics.SignalsIngested.Add(ctx, 1)
	return nil
}

// Query returns stored signals matching the filters, newest first.
func (s *Service) Query(ctx context.Context, filters storage.QueryFilters) ([]model.Signal, error) {
	return s.store.QuerySignals(ctx, filters)
}

// Patterns aggregates an org's recent signals into detected patterns.
func (s *Service) Patterns(ctx context.Context, org string, windowDays int) ([]model.Pattern, error) {
	signals, err := s.window(ctx, org, windowDays)
	if err != nil {
		return nil, err
	}
	patterns := s.aggregator.Aggregate(signals, s.opts)
	s.metrics.PatternsDetected.Add(ctx, int64(len(patterns)))
	return patterns, nil
}

// OrgKnowledge synthesizes the org-wide rollup over the lookback window.
func (s *Service) OrgKnowledge(ctx context.Context, org string, windowDays int) (model.OrgKnowledge, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.org_knowledge",
		trace.WithAttributes(attribute.String("org", org)))
	defer span.End()

	signals, err := s.window(ctx, org, windowDays)
	if err != nil {
		return model.OrgKnowledge{}, err
	}
	return s.synthesizer.OrgKnowledge(signals, org, s.opts), nil
}

// OrgHealth computes the coarse health score for an org.
func (s *Service) OrgHealth(ctx context.Context, org string, windowDays int) (float64, error) {
	signals, err := s.window(ctx, org, windowDays)
	if err != nil {
		return 0, err
	}
	return s.synthesizer.OrgHealth(signals, org), nil
}

// InferPolicies runs the full pipeline for an org and persists the
// resulting policies. Existing policies with the same ID are overwritten,
// which keeps re-runs idempotent.
func (s *Service) InferPolicies(ctx context.Context, org string, windowDays int) ([]model.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.infer",
		trace.WithAttributes(attribute.String("org", org)))
	defer span.End()

	knowledge, err := s.OrgKnowledge(ctx, org, windowDays)
	if err != nil {
		return nil, err
	}
	policies := s.engine.Infer(knowledge)
	for _, p := range policies {
		if err := s.store.UpsertPolicy(ctx, org, p); err != nil {
			return nil, fmt.Errorf("pipeline: persist policy %s: %w", p.ID, err)
		}
	}
	s.metrics.PoliciesInferred.Add(ctx, int64(len(policies)))
	s.logger.Info("inferred policies", "org", org, "count", len(policies))
	return policies, nil
}

// Policies lists an org's persisted policies.
func (s *Service) Policies(ctx context.Context, org string) ([]model.Policy, error) {
	return s.store.ListPolicies(ctx, org)
}

// RefinePolicy folds outcomes observed since the policy's creation back
// into its confidence and effectiveness, then persists the result.
// Returns storage.ErrNotFound if the policy does not exist.
func (s *Service) RefinePolicy(ctx context.Context, org, policyID string) (model.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.refine",
		trace.WithAttributes(attribute.String("policy", policyID)))
	defer span.End()

	policy, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return model.Policy{}, fmt.Errorf("pipeline: refine %s: %w", policyID, err)
	}

	sinceDays := int(time.Since(policy.CreatedAt).Hours()/24) + 1
	outcomes, err := s.store.QuerySignals(ctx, storage.QueryFilters{Org: org, SinceDays: sinceDays})
	if err != nil {
		return model.Policy{}, fmt.Errorf("pipeline: refine %s: %w", policyID, err)
	}

	refined := s.engine.Refine(policy, outcomes)
	if err := s.store.UpsertPolicy(ctx, org, refined); err != nil {
		return model.Policy{}, fmt.Errorf("pipeline: persist refined policy %s: %w", policyID, err)
	}
	s.metrics.PoliciesRefined.Add(ctx, 1)
	return refined, nil
}

func (s *Service) window(ctx context.Context, org string, windowDays int) ([]model.Signal, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	signals, err := s.store.QuerySignals(ctx, storage.QueryFilters{Org: org, SinceDays: windowDays})
	if err != nil {
		return nil, fmt.Errorf("pipeline: query window: %w", err)
	}
	return signals, nil
}
