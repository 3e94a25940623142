// Package runs manages the simulation run lifecycle: starting and stopping
// runs, task transitions, fleet registration and per-run metrics.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/quality"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// Decision listing bounds.
const (
	DefaultDecisionLimit = 50
	MaxDecisionLimit     = 500

	// metricsDecisionScan bounds the decisions read when deriving run metrics.
	metricsDecisionScan = 10000
	defaultTaskPriority = 5
)

// Service implements run lifecycle operations.
type Service struct {
	store      storage.Store
	minBattery float64
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a run Service.
func New(store storage.Store, minBattery float64, logger *slog.Logger) *Service {
	if minBattery <= 0 {
		minBattery = model.MinAssignableBattery
	}
	return &Service{store: store, minBattery: minBattery, logger: logger, now: time.Now}
}

// DefaultStrategy is the strategy of a run started without one.
func DefaultStrategy() model.Strategy {
	return model.Strategy{
		Version:          1,
		Routing:          model.RoutingNearestFirst,
		BatteryThreshold: model.MinAssignableBattery,
	}
}

// StartRun opens the next run of scenarioID and resets the fleet to idle at
// full battery. A nil strategy uses DefaultStrategy.
func (s *Service) StartRun(ctx context.Context, scenarioID string, strategy *model.Strategy) (model.SimulationRun, error) {
	if scenarioID == "" {
		return model.SimulationRun{}, fmt.Errorf("%w: scenario id is required", model.ErrValidation)
	}
	st := DefaultStrategy()
	if strategy != nil {
		st = *strategy
	}
	if st.Routing == "" {
		st.Routing = model.RoutingNearestFirst
	}

	run, err := s.store.StartRun(ctx, scenarioID, st)
	if err != nil {
		return model.SimulationRun{}, fmt.Errorf("runs: start: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("arcc.run_id", run.ID.String()),
		attribute.Int("arcc.run_number", run.RunNumber),
	)
	s.logger.Info("runs: started", "run_id", run.ID, "scenario_id", scenarioID, "run_number", run.RunNumber)
	return run, nil
}

// StopRun completes a running run. In-flight tasks of the run fail and every
// robot returns to idle. A nil finalScore records the run's computed
// efficiency score, and the computed metrics are stored with the completion.
// Stopping a run that is not running changes nothing.
func (s *Service) StopRun(ctx context.Context, runID uuid.UUID, finalScore *float64) (model.SimulationRun, error) {
	if runID == uuid.Nil {
		return model.SimulationRun{}, fmt.Errorf("%w: run id is required", model.ErrValidation)
	}
	var (
		score   float64
		metrics *model.Metrics
	)
	if finalScore != nil {
		if err := checkScore("final score", *finalScore); err != nil {
			return model.SimulationRun{}, err
		}
		score = *finalScore
	} else {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return model.SimulationRun{}, fmt.Errorf("runs: stop: %w", err)
		}
		if run.Status != model.RunStatusRunning {
			return model.SimulationRun{}, fmt.Errorf("runs: stop: %w: run %s is not running", storage.ErrConflict, runID)
		}
		m, err := s.computeMetrics(ctx, run)
		if err != nil {
			return model.SimulationRun{}, err
		}
		score = m.EfficiencyScore
		metrics = &m
	}

	run, err := s.store.CompleteRun(ctx, runID, score, metrics)
	if err != nil {
		return model.SimulationRun{}, fmt.Errorf("runs: stop: %w", err)
	}
	s.logger.Info("runs: stopped", "run_id", run.ID, "final_score", score)
	return run, nil
}

// GetRun returns a run.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (model.SimulationRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.SimulationRun{}, fmt.Errorf("runs: get: %w", err)
	}
	return run, nil
}

// RegisterRobot adds a robot to the fleet.
func (s *Service) RegisterRobot(ctx context.Context, r model.Robot) (model.Robot, error) {
	if r.Name == "" {
		return model.Robot{}, fmt.Errorf("%w: robot name is required", model.ErrValidation)
	}
	if r.Type == "" {
		r.Type = model.TaskTypeDelivery
	}
	if r.Status != "" && !r.Status.Valid() {
		return model.Robot{}, fmt.Errorf("%w: unknown robot status %q", model.ErrValidation, r.Status)
	}
	if r.BatteryLevel < 0 || r.BatteryLevel > 100 || math.IsNaN(r.BatteryLevel) {
		return model.Robot{}, fmt.Errorf("%w: battery level %v out of range", model.ErrValidation, r.BatteryLevel)
	}
	if r.CurrentTaskID != nil {
		return model.Robot{}, fmt.Errorf("%w: a new robot cannot hold a task", model.ErrValidation)
	}
	created, err := s.store.CreateRobot(ctx, r)
	if err != nil {
		return model.Robot{}, fmt.Errorf("runs: register robot: %w", err)
	}
	return created, nil
}

// UpdateRobot changes a robot's status, battery level or position. Working is
// entered only through task assignment; moving a working robot to any other
// status returns its task to pending.
func (s *Service) UpdateRobot(ctx context.Context, id uuid.UUID, u storage.RobotUpdate) (model.Robot, error) {
	if id == uuid.Nil {
		return model.Robot{}, fmt.Errorf("%w: robot id is required", model.ErrValidation)
	}
	if u.Status == nil && u.BatteryLevel == nil && u.Position == nil {
		return model.Robot{}, fmt.Errorf("%w: nothing to update", model.ErrValidation)
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return model.Robot{}, fmt.Errorf("%w: unknown robot status %q", model.ErrValidation, *u.Status)
		}
		if *u.Status == model.RobotWorking {
			return model.Robot{}, fmt.Errorf("%w: robots start working only by task assignment", model.ErrValidation)
		}
	}
	if b := u.BatteryLevel; b != nil && (*b < 0 || *b > 100 || math.IsNaN(*b)) {
		return model.Robot{}, fmt.Errorf("%w: battery level %v out of range", model.ErrValidation, *b)
	}
	if p := u.Position; p != nil && (math.IsNaN(p.X) || math.IsNaN(p.Y)) {
		return model.Robot{}, fmt.Errorf("%w: position must be a number", model.ErrValidation)
	}
	r, err := s.store.UpdateRobot(ctx, id, u)
	if err != nil {
		return model.Robot{}, fmt.Errorf("runs: update robot: %w", err)
	}
	s.logger.Info("runs: robot updated", "robot_id", r.ID, "status", r.Status, "battery", r.BatteryLevel)
	return r, nil
}

// ListRobots returns the fleet ordered by name.
func (s *Service) ListRobots(ctx context.Context) ([]model.Robot, error) {
	robots, err := s.store.ListRobots(ctx, storage.RobotFilter{})
	if err != nil {
		return nil, fmt.Errorf("runs: list robots: %w", err)
	}
	return robots, nil
}

// CreateTask adds a pending task to a run. A zero priority defaults to 5 and
// an empty type to delivery.
func (s *Service) CreateTask(ctx context.Context, nt model.NewTask) (model.Task, error) {
	if nt.RunID == uuid.Nil {
		return model.Task{}, fmt.Errorf("%w: run id is required", model.ErrValidation)
	}
	if nt.Priority == 0 {
		nt.Priority = defaultTaskPriority
	}
	if nt.Priority < model.MinPriority || nt.Priority > model.MaxPriority {
		return model.Task{}, fmt.Errorf("%w: priority %d outside [%d, %d]",
			model.ErrValidation, nt.Priority, model.MinPriority, model.MaxPriority)
	}
	if nt.Type == "" {
		nt.Type = model.TaskTypeDelivery
	}
	if _, err := s.store.GetRun(ctx, nt.RunID); err != nil {
		return model.Task{}, fmt.Errorf("runs: create task: %w", err)
	}
	tasks, err := s.store.CreateTasks(ctx, []model.NewTask{nt})
	if err != nil {
		return model.Task{}, fmt.Errorf("runs: create task: %w", err)
	}
	return tasks[0], nil
}

// AssignTask binds a pending task to a specific robot. The robot must be
// eligible; a robot or task that is no longer free is a validation error.
func (s *Service) AssignTask(ctx context.Context, taskID, robotID uuid.UUID) (model.Task, error) {
	if taskID == uuid.Nil || robotID == uuid.Nil {
		return model.Task{}, fmt.Errorf("%w: task id and robot id are required", model.ErrValidation)
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return model.Task{}, fmt.Errorf("runs: assign task: %w", err)
	}
	if _, err := s.store.GetRobot(ctx, robotID); err != nil {
		return model.Task{}, fmt.Errorf("runs: assign task: %w", err)
	}
	t, err := s.store.AssignTask(ctx, taskID, robotID, s.minBattery)
	return t, transitionErr("assign", err)
}

// StartTask moves an assigned task to working.
func (s *Service) StartTask(ctx context.Context, taskID uuid.UUID) (model.Task, error) {
	if taskID == uuid.Nil {
		return model.Task{}, fmt.Errorf("%w: task id is required", model.ErrValidation)
	}
	t, err := s.store.StartTask(ctx, taskID)
	return t, transitionErr("start", err)
}

// CompleteTask completes an assigned or working task and frees its robot.
func (s *Service) CompleteTask(ctx context.Context, taskID uuid.UUID) (model.Task, error) {
	return s.finish(ctx, taskID, model.TaskCompleted)
}

// FailTask fails a task that has not finished and frees its robot.
func (s *Service) FailTask(ctx context.Context, taskID uuid.UUID) (model.Task, error) {
	return s.finish(ctx, taskID, model.TaskFailed)
}

func (s *Service) finish(ctx context.Context, taskID uuid.UUID, status model.TaskStatus) (model.Task, error) {
	if taskID == uuid.Nil {
		return model.Task{}, fmt.Errorf("%w: task id is required", model.ErrValidation)
	}
	t, err := s.store.FinishTask(ctx, taskID, status)
	return t, transitionErr(string(status), err)
}

// transitionErr reports a lost conditional transition as a validation error.
func transitionErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %s task: %w", model.ErrValidation, op, err)
	}
	return fmt.Errorf("runs: %s task: %w", op, err)
}

// ListTasks returns a run's tasks in insertion order.
func (s *Service) ListTasks(ctx context.Context, runID uuid.UUID) ([]model.Task, error) {
	tasks, err := s.store.ListTasks(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("runs: list tasks: %w", err)
	}
	return tasks, nil
}

// RecordMetrics stores caller-supplied metrics for a run.
func (s *Service) RecordMetrics(ctx context.Context, m model.Metrics) error {
	if m.RunID == uuid.Nil {
		return fmt.Errorf("%w: run id is required", model.ErrValidation)
	}
	if m.TotalTasks < 0 || m.CompletedTasks < 0 || m.FailedTasks < 0 || m.AIDecisionsCount < 0 {
		return fmt.Errorf("%w: counts must not be negative", model.ErrValidation)
	}
	if m.CompletedTasks+m.FailedTasks > m.TotalTasks {
		return fmt.Errorf("%w: completed and failed exceed total tasks", model.ErrValidation)
	}
	if err := checkScore("efficiency score", m.EfficiencyScore); err != nil {
		return err
	}
	if _, err := s.store.GetRun(ctx, m.RunID); err != nil {
		return fmt.Errorf("runs: record metrics: %w", err)
	}
	if err := s.store.UpsertMetrics(ctx, m); err != nil {
		return fmt.Errorf("runs: record metrics: %w", err)
	}
	return nil
}

// CollectMetrics derives a running run's metrics from its tasks, its
// decisions and the fleet's current battery levels, and stores them. A
// completed run's metrics are frozen: its stored metrics are returned, and
// ErrConflict when it was stopped without any.
func (s *Service) CollectMetrics(ctx context.Context, runID uuid.UUID) (model.Metrics, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("runs: collect metrics: %w", err)
	}
	if run.Status != model.RunStatusRunning {
		stored, err := s.store.GetMetrics(ctx, runID)
		if err != nil {
			return model.Metrics{}, fmt.Errorf("runs: collect metrics: %w", err)
		}
		if stored == nil {
			return model.Metrics{}, fmt.Errorf("runs: collect metrics: %w: run %s is completed without metrics",
				storage.ErrConflict, runID)
		}
		return *stored, nil
	}

	m, err := s.computeMetrics(ctx, run)
	if err != nil {
		return model.Metrics{}, err
	}
	if err := s.store.UpsertMetrics(ctx, m); err != nil {
		return model.Metrics{}, fmt.Errorf("runs: store metrics: %w", err)
	}
	return m, nil
}

func (s *Service) computeMetrics(ctx context.Context, run model.SimulationRun) (model.Metrics, error) {
	tasks, err := s.store.ListTasks(ctx, run.ID)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("runs: collect metrics: %w", err)
	}
	decisions, err := s.store.ListDecisions(ctx, &run.ID, metricsDecisionScan)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("runs: collect metrics: %w", err)
	}
	robots, err := s.store.ListRobots(ctx, storage.RobotFilter{})
	if err != nil {
		return model.Metrics{}, fmt.Errorf("runs: collect metrics: %w", err)
	}

	m := quality.Summarize(run, tasks, decisions, s.now())
	if len(robots) > 0 {
		var total float64
		for _, r := range robots {
			total += r.BatteryLevel
		}
		m.AvgBatteryUsage = 100 - total/float64(len(robots))
		m.EfficiencyScore = quality.Score(m)
	}
	return m, nil
}

// GetMetrics returns a run's stored metrics, or nil.
func (s *Service) GetMetrics(ctx context.Context, runID uuid.UUID) (*model.Metrics, error) {
	m, err := s.store.GetMetrics(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("runs: get metrics: %w", err)
	}
	return m, nil
}

// ListDecisions returns recent audit decisions, newest first. A nil runID
// lists every run. limit defaults to DefaultDecisionLimit and is capped at
// MaxDecisionLimit.
func (s *Service) ListDecisions(ctx context.Context, runID *uuid.UUID, limit int) ([]model.AIDecision, error) {
	if limit <= 0 {
		limit = DefaultDecisionLimit
	}
	limit = min(limit, MaxDecisionLimit)
	ds, err := s.store.ListDecisions(ctx, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("runs: list decisions: %w", err)
	}
	if ds == nil {
		ds = []model.AIDecision{}
	}
	return ds, nil
}

func checkScore(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%w: %s %v outside [0, 100]", model.ErrValidation, name, v)
	}
	return nil
}
