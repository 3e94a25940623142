package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/telemetry"
)

// scalingHistory is how many recent metrics rows a scaling request embeds.
const scalingHistory = 10

// Chat context bounds.
const (
	chatTasks      = 10
	chatMetrics    = 3
	chatDecisions  = 5
	chatLowBattery = 25.0
)

// Decision is a persisted oracle answer.
type Decision struct {
	ID         uuid.UUID      `json:"decision_id"`
	Payload    map[string]any `json:"payload"`
	Source     Source         `json:"source"`
	Confidence float64        `json:"confidence"`
	LatencyMs  int64          `json:"latency_ms"`
}

// ChatReply is a recorded answer to an operator question. Alerts lists the
// fleet conditions the answer was given under.
type ChatReply struct {
	Decision
	Response string   `json:"response"`
	Alerts   []string `json:"context_summary"`
}

// Service builds oracle requests from fleet state and records every answer
// as an audit decision.
type Service struct {
	store      storage.Store
	adapter    *Adapter
	minBattery float64
	logger     *slog.Logger
	tracer     trace.Tracer

	latency   metric.Float64Histogram
	decisions metric.Int64Counter
}

// New creates an oracle Service. minBattery filters the robots offered for
// task optimization.
func New(store storage.Store, adapter *Adapter, minBattery float64, logger *slog.Logger) *Service {
	meter := telemetry.Meter("arcc/oracle")
	latency, _ := meter.Float64Histogram("arcc.oracle.latency",
		metric.WithDescription("Wall-clock time of oracle calls including fallback (ms)"),
		metric.WithUnit("ms"),
	)
	decisions, _ := meter.Int64Counter("arcc.oracle.decisions",
		metric.WithDescription("Oracle decisions recorded, by kind and source"),
	)
	if minBattery <= 0 {
		minBattery = model.MinAssignableBattery
	}
	return &Service{
		store:      store,
		adapter:    adapter,
		minBattery: minBattery,
		logger:     logger,
		tracer:     telemetry.Tracer("arcc/oracle"),
		latency:    latency,
		decisions:  decisions,
	}
}

// OptimizeTasks asks for an assignment of the run's pending tasks to the
// currently eligible robots. The answer is advisory; nothing is bound.
func (s *Service) OptimizeTasks(ctx context.Context, runID uuid.UUID) (Decision, error) {
	if runID == uuid.Nil {
		return Decision{}, fmt.Errorf("%w: run id is required", model.ErrValidation)
	}

	var (
		robots []model.Robot
		tasks  []model.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.store.GetRun(gctx, runID)
		return err
	})
	g.Go(func() error {
		all, err := s.store.ListRobots(gctx, storage.RobotFilter{ExcludeOffline: true})
		if err != nil {
			return err
		}
		for _, r := range all {
			if r.Assignable(s.minBattery) {
				robots = append(robots, r)
			}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tasks, err = s.store.ListPendingTasks(gctx, storage.RunScope{RunID: &runID})
		return err
	})
	if err := g.Wait(); err != nil {
		return Decision{}, fmt.Errorf("oracle: optimize tasks: %w", err)
	}

	req := Request{
		Kind:   model.DecisionTaskOptimization,
		Prompt: taskOptimizationPrompt(robots, tasks),
		Robots: robots,
		Tasks:  tasks,
	}
	input := map[string]any{"robots": len(robots), "tasks": len(tasks)}
	return s.decide(ctx, &runID, req, input)
}

// AnalyzeRun compares a run's metrics with the preceding run of the same
// scenario and stores the analysis as the run's improvement notes.
func (s *Service) AnalyzeRun(ctx context.Context, runID uuid.UUID) (Decision, error) {
	if runID == uuid.Nil {
		return Decision{}, fmt.Errorf("%w: run id is required", model.ErrValidation)
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return Decision{}, fmt.Errorf("oracle: analyze run: %w", err)
	}

	var current, previous *model.Metrics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.store.GetMetrics(gctx, run.ID)
		return err
	})
	g.Go(func() error {
		var err error
		previous, err = s.store.PreviousRunMetrics(gctx, run.ScenarioID, run.RunNumber)
		return err
	})
	if err := g.Wait(); err != nil {
		return Decision{}, fmt.Errorf("oracle: analyze run: %w", err)
	}

	req := Request{
		Kind:   model.DecisionRunAnalysis,
		Prompt: runAnalysisPrompt(current, previous),
	}
	input := map[string]any{"current": current, "previous": previous}
	d, err := s.decide(ctx, &run.ID, req, input)
	if err != nil {
		return Decision{}, err
	}

	notes, err := json.Marshal(d.Payload)
	if err != nil {
		return Decision{}, fmt.Errorf("oracle: encode analysis: %w", err)
	}
	if err := s.store.SetImprovementNotes(ctx, run.ID, string(notes)); err != nil {
		return Decision{}, fmt.Errorf("oracle: store improvement notes: %w", err)
	}
	return d, nil
}

// HandleFailure asks for an emergency response plan for a disruption that
// has just been applied to the run.
func (s *Service) HandleFailure(ctx context.Context, runID uuid.UUID, kind, description string) (Decision, error) {
	if runID == uuid.Nil {
		return Decision{}, fmt.Errorf("%w: run id is required", model.ErrValidation)
	}
	if kind == "" {
		return Decision{}, fmt.Errorf("%w: scenario kind is required", model.ErrValidation)
	}

	var (
		robots []model.Robot
		tasks  []model.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.store.GetRun(gctx, runID)
		return err
	})
	g.Go(func() error {
		var err error
		robots, err = s.store.ListRobots(gctx, storage.RobotFilter{ExcludeOffline: true})
		return err
	})
	g.Go(func() error {
		all, err := s.store.ListTasks(gctx, runID)
		if err != nil {
			return err
		}
		for _, t := range all {
			if !t.Status.Terminal() {
				tasks = append(tasks, t)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Decision{}, fmt.Errorf("oracle: handle failure: %w", err)
	}

	req := Request{
		Kind:     model.DecisionFailureResponse,
		Prompt:   failureResponsePrompt(kind, description, robots, tasks),
		Scenario: kind,
		Robots:   robots,
		Tasks:    tasks,
	}
	return s.decide(ctx, &runID, req, map[string]any{"scenario": kind})
}

// RecommendScaling asks for fleet sizing advice from recent run metrics. An
// empty scenarioID considers every scenario. The decision has no run.
func (s *Service) RecommendScaling(ctx context.Context, scenarioID string) (Decision, error) {
	history, err := s.store.ListRecentMetrics(ctx, scenarioID, scalingHistory)
	if err != nil {
		return Decision{}, fmt.Errorf("oracle: recommend scaling: %w", err)
	}
	req := Request{
		Kind:   model.DecisionScalingRecommendation,
		Prompt: scalingPrompt(history),
	}
	input := map[string]any{"scenario_id": scenarioID, "runs": len(history)}
	return s.decide(ctx, nil, req, input)
}

// Chat answers a free-form operator question from the live fleet: every
// robot, the current run's latest tasks, recent metrics and decisions. The
// answer is recorded without a run.
func (s *Service) Chat(ctx context.Context, question string) (ChatReply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return ChatReply{}, fmt.Errorf("%w: question is required", model.ErrValidation)
	}

	var (
		robots    []model.Robot
		tasks     []model.Task
		history   []model.Metrics
		decisions []model.AIDecision
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		robots, err = s.store.ListRobots(gctx, storage.RobotFilter{})
		return err
	})
	g.Go(func() error {
		run, err := s.store.CurrentRun(gctx)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		all, err := s.store.ListTasks(gctx, run.ID)
		if err != nil {
			return err
		}
		tasks = all[max(0, len(all)-chatTasks):]
		return nil
	})
	g.Go(func() error {
		var err error
		history, err = s.store.ListRecentMetrics(gctx, "", chatMetrics)
		return err
	})
	g.Go(func() error {
		var err error
		decisions, err = s.store.ListDecisions(gctx, nil, chatDecisions)
		return err
	})
	if err := g.Wait(); err != nil {
		return ChatReply{}, fmt.Errorf("oracle: chat: %w", err)
	}

	alerts := fleetAlerts(robots)
	req := Request{
		Kind:     model.DecisionCopilotChat,
		Prompt:   chatPrompt(question, chatContext(robots, tasks, history, decisions, alerts)),
		Question: question,
		Robots:   robots,
		Tasks:    tasks,
		Metrics:  history,
		Alerts:   alerts,
	}
	d, err := s.decide(ctx, nil, req, map[string]any{"question": question, "alerts": alerts})
	if err != nil {
		return ChatReply{}, err
	}
	text, _ := d.Payload["response"].(string)
	return ChatReply{Decision: d, Response: text, Alerts: alerts}, nil
}

// fleetAlerts summarizes robots that need attention.
func fleetAlerts(robots []model.Robot) []string {
	low, offline := 0, 0
	for _, r := range robots {
		switch {
		case r.Status == model.RobotOffline:
			offline++
		case r.BatteryLevel < chatLowBattery:
			low++
		}
	}
	alerts := []string{}
	if low > 0 {
		alerts = append(alerts, fmt.Sprintf("%d robots below %.0f%% battery", low, chatLowBattery))
	}
	if offline > 0 {
		alerts = append(alerts, fmt.Sprintf("%d robots offline", offline))
	}
	return alerts
}

// chatContext trims fleet state to the fields a chat prompt needs.
func chatContext(robots []model.Robot, tasks []model.Task, history []model.Metrics, decisions []model.AIDecision, alerts []string) map[string]any {
	fleet := make([]map[string]any, 0, len(robots))
	for _, r := range robots {
		fleet = append(fleet, map[string]any{"name": r.Name, "status": r.Status, "battery_level": r.BatteryLevel})
	}
	recent := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		recent = append(recent, map[string]any{"type": t.Type, "priority": t.Priority, "status": t.Status})
	}
	audit := make([]map[string]any, 0, len(decisions))
	for _, d := range decisions {
		audit = append(audit, map[string]any{
			"decision_type": d.DecisionType,
			"confidence":    d.Confidence,
			"latency_ms":    d.LatencyMs,
		})
	}
	return map[string]any{
		"robots":           fleet,
		"recent_tasks":     recent,
		"recent_metrics":   history,
		"recent_decisions": audit,
		"alerts":           alerts,
	}
}

// decide calls the adapter and persists the answer.
func (s *Service) decide(ctx context.Context, runID *uuid.UUID, req Request, input map[string]any) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "oracle."+string(req.Kind))
	defer span.End()

	res := s.adapter.Generate(ctx, req)
	attrs := metric.WithAttributes(
		attribute.String("arcc.decision_type", string(req.Kind)),
		attribute.String("arcc.source", string(res.Source)),
	)
	s.latency.Record(ctx, float64(res.LatencyMs()), attrs)
	span.SetAttributes(
		attribute.String("arcc.source", string(res.Source)),
		attribute.Int64("arcc.latency_ms", res.LatencyMs()),
	)

	conf := confidence(req.Kind, res.Source)
	rec, err := s.store.CreateDecision(ctx, model.AIDecision{
		RunID:        runID,
		DecisionType: req.Kind,
		InputState:   input,
		Output:       res.Payload,
		Confidence:   conf,
		LatencyMs:    res.LatencyMs(),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("oracle: record %s decision: %w", req.Kind, err)
	}
	s.decisions.Add(ctx, 1, attrs)

	s.logger.Info("oracle: decision recorded",
		"decision_id", rec.ID,
		"kind", req.Kind,
		"source", res.Source,
		"latency_ms", res.LatencyMs(),
	)
	return Decision{
		ID:         rec.ID,
		Payload:    res.Payload,
		Source:     res.Source,
		Confidence: conf,
		LatencyMs:  res.LatencyMs(),
	}, nil
}
