// Package demo generates completed runs on the registered fleet so run
// trends, analyses and scaling advice have history to work from without a
// live simulation.
//
// A demo run goes through the same lifecycle as a live one: the run is
// started (resetting the fleet), robots are scattered, a random batch of
// tasks is dispatched nearest-first and each binding is completed or failed,
// then the run is stopped so its metrics and score are computed from what
// happened. Later runs of a scenario complete a larger share of their tasks.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/dispatch"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/runs"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// Generation bounds.
const (
	gridSize        = 100.0
	minTasks        = 8
	extraTasks      = 12 // exclusive
	minBattery      = 30.0
	baseCompletion  = 0.70
	completionStep  = 0.06
	maxCompletion   = 0.97
	maxRounds       = 50
	roundConfidence = 0.85
)

// Result is one generated run with its computed metrics.
type Result struct {
	Run     model.SimulationRun `json:"run"`
	Metrics model.Metrics       `json:"metrics"`
}

// Service generates demo runs.
type Service struct {
	store  storage.Store
	runs   *runs.Service
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a demo Service. A nil rng is replaced by a randomly seeded one.
func New(store storage.Store, runSvc *runs.Service, rng *rand.Rand, logger *slog.Logger) *Service {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Service{store: store, runs: runSvc, rng: rng, logger: logger}
}

// GenerateRun plays one complete run of scenarioID on the registered fleet.
// The fleet must not be empty.
func (s *Service) GenerateRun(ctx context.Context, scenarioID string) (Result, error) {
	if scenarioID == "" {
		return Result{}, fmt.Errorf("%w: scenario id is required", model.ErrValidation)
	}
	fleet, err := s.runs.ListRobots(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("demo: %w", err)
	}
	if len(fleet) == 0 {
		return Result{}, fmt.Errorf("%w: register robots before generating demo runs", model.ErrValidation)
	}
	trend, err := s.store.ListRunTrend(ctx, scenarioID)
	if err != nil {
		return Result{}, fmt.Errorf("demo: list runs: %w", err)
	}
	n := len(trend) + 1

	strategy := demoStrategy(n)
	run, err := s.runs.StartRun(ctx, scenarioID, &strategy)
	if err != nil {
		return Result{}, fmt.Errorf("demo: %w", err)
	}
	if err := s.play(ctx, run, fleet, completionRate(n)); err != nil {
		return Result{}, err
	}

	run, err = s.runs.StopRun(ctx, run.ID, nil)
	if err != nil {
		return Result{}, fmt.Errorf("demo: %w", err)
	}
	m, err := s.runs.GetMetrics(ctx, run.ID)
	if err != nil {
		return Result{}, fmt.Errorf("demo: %w", err)
	}
	if m == nil {
		return Result{}, fmt.Errorf("demo: run %s stopped without metrics", run.ID)
	}
	notes, err := json.Marshal(map[string]any{
		"summary": fmt.Sprintf("Demo run %d: %d of %d tasks completed, efficiency %.1f%%",
			run.RunNumber, m.CompletedTasks, m.TotalTasks, m.EfficiencyScore),
	})
	if err != nil {
		return Result{}, fmt.Errorf("demo: encode notes: %w", err)
	}
	if err := s.store.SetImprovementNotes(ctx, run.ID, string(notes)); err != nil {
		return Result{}, fmt.Errorf("demo: store notes: %w", err)
	}
	run.ImprovementNotes = string(notes)

	s.logger.Info("demo: run generated",
		"run_id", run.ID, "scenario_id", scenarioID, "run_number", run.RunNumber,
		"efficiency", m.EfficiencyScore)
	return Result{Run: run, Metrics: *m}, nil
}

// play scatters the fleet, creates the run's tasks and dispatches them in
// rounds until none are left.
func (s *Service) play(ctx context.Context, run model.SimulationRun, fleet []model.Robot, completion float64) error {
	for _, r := range fleet {
		status := model.RobotIdle
		if s.float() < 0.5 {
			status = model.RobotActive
		}
		battery := minBattery + s.float()*(100-minBattery)
		pos := s.point()
		if _, err := s.runs.UpdateRobot(ctx, r.ID, storage.RobotUpdate{
			Status:       &status,
			BatteryLevel: &battery,
			Position:     &pos,
		}); err != nil {
			return fmt.Errorf("demo: scatter fleet: %w", err)
		}
	}

	batch := make([]model.NewTask, minTasks+s.intN(extraTasks))
	for i := range batch {
		batch[i] = model.NewTask{
			RunID:       run.ID,
			Type:        model.TaskTypeDelivery,
			Priority:    model.MinPriority + s.intN(model.MaxPriority),
			Origin:      s.point(),
			Destination: s.point(),
		}
	}
	if _, err := s.store.CreateTasks(ctx, batch); err != nil {
		return fmt.Errorf("demo: create tasks: %w", err)
	}

	for range maxRounds {
		done, err := s.round(ctx, run, completion)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// round binds the run's pending tasks to free robots, records the round as
// an auto-optimize decision and finishes every binding. It reports whether
// nothing was left to bind.
func (s *Service) round(ctx context.Context, run model.SimulationRun, completion float64) (bool, error) {
	pending, err := s.store.ListPendingTasks(ctx, storage.RunScope{RunID: &run.ID})
	if err != nil {
		return false, fmt.Errorf("demo: list pending: %w", err)
	}
	robots, err := s.store.ListRobots(ctx, storage.RobotFilter{ExcludeOffline: true})
	if err != nil {
		return false, fmt.Errorf("demo: list robots: %w", err)
	}
	pairs := dispatch.Plan(robots, pending, run.Strategy.BatteryThreshold)
	if len(pairs) == 0 {
		return true, nil
	}

	out := make([]any, 0, len(pairs))
	for _, p := range pairs {
		if _, err := s.runs.AssignTask(ctx, p.TaskID, p.RobotID); err != nil {
			return false, fmt.Errorf("demo: %w", err)
		}
		out = append(out, map[string]any{"task_id": p.TaskID.String(), "robot_id": p.RobotID.String()})
	}
	if _, err := s.store.CreateDecision(ctx, model.AIDecision{
		RunID:        &run.ID,
		DecisionType: model.DecisionAutoOptimize,
		InputState:   map[string]any{"demo": true, "pending_tasks": len(pending)},
		Output:       map[string]any{"assignments": out, "strategy": run.Strategy.Routing},
		Confidence:   roundConfidence,
	}); err != nil {
		return false, fmt.Errorf("demo: record round: %w", err)
	}

	for _, p := range pairs {
		if err := s.finish(ctx, p.TaskID, s.float() < completion); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *Service) finish(ctx context.Context, taskID uuid.UUID, ok bool) error {
	var err error
	if ok {
		_, err = s.runs.CompleteTask(ctx, taskID)
	} else {
		_, err = s.runs.FailTask(ctx, taskID)
	}
	if err != nil {
		return fmt.Errorf("demo: %w", err)
	}
	return nil
}

// demoStrategy is the strategy of the nth run: adaptive routing from the
// third run, and a battery threshold that relaxes toward the assignment floor.
func demoStrategy(n int) model.Strategy {
	st := model.Strategy{
		Version:          n,
		BasedOnRuns:      n - 1,
		Routing:          model.RoutingNearestFirst,
		BatteryThreshold: max(model.MinAssignableBattery, 35-5*float64(n)),
	}
	if n > 2 {
		st.Routing = model.RoutingDynamicAdaptive
	}
	return st
}

// completionRate is the share of bindings the nth run completes.
func completionRate(n int) float64 {
	return min(baseCompletion+completionStep*float64(n), maxCompletion)
}

func (s *Service) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Service) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Service) point() model.Point {
	return model.Point{X: s.float() * gridSize, Y: s.float() * gridSize}
}
