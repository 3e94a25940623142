// Package scenario applies disruptions from a fixed catalog to the fleet and
// asks the oracle for a response to each.
//
// A disruption's store mutation is one transaction. The oracle response that
// follows is recorded separately: if the process dies between the two, the
// disruption stays applied with no response decision.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/oracle"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/telemetry"
)

// Responder produces the oracle's response to an applied disruption.
type Responder interface {
	HandleFailure(ctx context.Context, runID uuid.UUID, kind, description string) (oracle.Decision, error)
}

// Outcome is the result of TriggerScenario.
type Outcome struct {
	Kind        Kind            `json:"id"`
	Name        string          `json:"scenario"`
	Description string          `json:"description"`
	Result      any             `json:"result"`
	Response    oracle.Decision `json:"ai_response"`
}

// Service triggers catalog scenarios.
type Service struct {
	store     storage.Store
	responder Responder
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	triggered metric.Int64Counter
}

// New creates a scenario Service. A nil rng is replaced by a randomly seeded
// one; tests pass a seeded generator for reproducible disruptions.
func New(store storage.Store, responder Responder, rng *rand.Rand, logger *slog.Logger) *Service {
	if rng == nil {
		rng = newRand()
	}
	triggered, _ := telemetry.Meter("arcc/scenario").Int64Counter("arcc.scenario.triggered",
		metric.WithDescription("Disruption scenarios applied, by kind"),
	)
	return &Service{
		store:     store,
		responder: responder,
		logger:    logger,
		rng:       rng,
		triggered: triggered,
	}
}

// ListScenarios returns the catalog.
func (s *Service) ListScenarios() []Info {
	return Catalog()
}

// TriggerScenario applies the disruption named by kind to runID and returns
// its result with the oracle's response. Missing or unknown input and a
// missing run are reported before anything is changed.
func (s *Service) TriggerScenario(ctx context.Context, runID uuid.UUID, kind string) (Outcome, error) {
	if runID == uuid.Nil {
		return Outcome{}, fmt.Errorf("%w: run id is required", model.ErrValidation)
	}
	if kind == "" {
		return Outcome{}, fmt.Errorf("%w: scenario kind is required", model.ErrValidation)
	}
	sc, ok := Lookup(Kind(kind))
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", model.ErrUnknownScenario, kind)
	}
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return Outcome{}, fmt.Errorf("scenario: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("arcc.scenario", kind),
		attribute.String("arcc.run_id", runID.String()),
	)

	result, err := sc.apply(ctx, env{store: s.store, rand: s.intN, unit: s.float}, runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("scenario: apply %s: %w", describe(sc), err)
	}
	s.triggered.Add(ctx, 1, metric.WithAttributes(attribute.String("arcc.scenario", kind)))
	s.logger.Info("scenario: applied", "scenario", kind, "run_id", runID)

	resp, err := s.responder.HandleFailure(ctx, runID, kind, sc.Description())
	if err != nil {
		s.logger.Error("scenario: disruption applied without a recorded response",
			"scenario", kind, "run_id", runID, "error", err)
		return Outcome{}, fmt.Errorf("scenario: respond to %s: %w", describe(sc), err)
	}

	return Outcome{
		Kind:        sc.Kind(),
		Name:        sc.Name(),
		Description: sc.Description(),
		Result:      result,
		Response:    resp,
	}, nil
}

func (s *Service) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Service) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
