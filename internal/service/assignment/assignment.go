// Package assignment binds pending tasks to robots.
//
// AutoOptimize scans pending tasks by priority and binds each to the nearest
// eligible robot. The binding itself is a conditional store transition, so
// two concurrent passes can never give one robot two tasks: the loser of a
// race moves on to its next-nearest robot, or skips the task if the task was
// taken.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/dispatch"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/telemetry"
)

// Strategy is the label recorded on auto-optimize decisions.
const Strategy = "nearest-first-with-battery-threshold"

const autoOptimizeConfidence = 0.85

// Assignment is one binding made by AutoOptimize.
type Assignment struct {
	TaskID    uuid.UUID `json:"task_id"`
	RobotID   uuid.UUID `json:"robot_id"`
	RobotName string    `json:"robot_name"`
	Distance  float64   `json:"distance"`
	Priority  int       `json:"priority"`
}

// Result reports one AutoOptimize pass. Unassigned lists pending tasks that
// were left pending.
type Result struct {
	Message     string       `json:"message"`
	Assignments []Assignment `json:"assignments"`
	Unassigned  []uuid.UUID  `json:"unassigned"`
	DecisionID  *uuid.UUID   `json:"decision_id,omitempty"`
}

// Service runs assignment passes against a store.
type Service struct {
	store      storage.Store
	minBattery float64
	logger     *slog.Logger

	assigned metric.Int64Counter
	conflict metric.Int64Counter
}

// New creates an assignment Service.
func New(store storage.Store, minBattery float64, logger *slog.Logger) *Service {
	meter := telemetry.Meter("arcc/assignment")
	assigned, _ := meter.Int64Counter("arcc.assignment.bound",
		metric.WithDescription("Tasks bound to robots by auto-optimize"),
	)
	conflict, _ := meter.Int64Counter("arcc.assignment.conflicts",
		metric.WithDescription("Bindings lost to a concurrent writer"),
	)
	if minBattery <= 0 {
		minBattery = model.MinAssignableBattery
	}
	return &Service{
		store:      store,
		minBattery: minBattery,
		logger:     logger,
		assigned:   assigned,
		conflict:   conflict,
	}
}

// AutoOptimize binds every pending task it can, highest priority first, to
// the nearest eligible robot. "Nothing to do" outcomes are not errors.
func (s *Service) AutoOptimize(ctx context.Context) (Result, error) {
	start := time.Now()

	robots, err := s.store.ListRobots(ctx, storage.RobotFilter{ExcludeOffline: true})
	if err != nil {
		return Result{}, fmt.Errorf("assignment: list robots: %w", err)
	}
	tasks, err := s.store.ListPendingTasks(ctx, storage.RunScope{})
	if err != nil {
		return Result{}, fmt.Errorf("assignment: list pending tasks: %w", err)
	}
	if len(tasks) == 0 {
		return Result{Message: "No pending tasks to optimize", Assignments: []Assignment{}, Unassigned: []uuid.UUID{}}, nil
	}

	res := Result{Assignments: []Assignment{}, Unassigned: []uuid.UUID{}}
	for _, task := range tasks {
		a, ok, err := s.bind(ctx, robots, task)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			res.Unassigned = append(res.Unassigned, task.ID)
			continue
		}
		res.Assignments = append(res.Assignments, a)
		markBound(robots, a.RobotID, task.ID)
	}
	res.Message = fmt.Sprintf("Optimized %d task assignments", len(res.Assignments))
	s.assigned.Add(ctx, int64(len(res.Assignments)))

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("arcc.pending_tasks", len(tasks)),
		attribute.Int("arcc.assignments", len(res.Assignments)),
	)

	if len(res.Assignments) > 0 {
		id, err := s.recordDecision(ctx, len(robots), len(tasks), res.Assignments, time.Since(start))
		if err != nil {
			return Result{}, err
		}
		res.DecisionID = id
	}

	s.logger.Info("assignment: auto-optimize complete",
		"pending", len(tasks),
		"assigned", len(res.Assignments),
		"unassigned", len(res.Unassigned),
	)
	return res, nil
}

// bind tries the task's candidates nearest first. A robot lost to a
// concurrent writer moves on to the next candidate; a task lost to one is
// skipped.
func (s *Service) bind(ctx context.Context, robots []model.Robot, task model.Task) (Assignment, bool, error) {
	for _, r := range dispatch.Candidates(robots, task, s.minBattery) {
		_, err := s.store.AssignTask(ctx, task.ID, r.ID, s.minBattery)
		switch {
		case err == nil:
			return Assignment{
				TaskID:    task.ID,
				RobotID:   r.ID,
				RobotName: r.Name,
				Distance:  r.Position.Distance(task.Origin),
				Priority:  task.Priority,
			}, true, nil
		case errors.Is(err, storage.ErrRobotUnavailable):
			s.conflict.Add(ctx, 1, metric.WithAttributes(attribute.String("arcc.row", "robot")))
			s.logger.Debug("assignment: robot taken, trying next", "robot_id", r.ID, "task_id", task.ID)
			continue
		case errors.Is(err, storage.ErrTaskUnavailable):
			s.conflict.Add(ctx, 1, metric.WithAttributes(attribute.String("arcc.row", "task")))
			s.logger.Debug("assignment: task taken, skipping", "task_id", task.ID)
			return Assignment{}, false, nil
		default:
			return Assignment{}, false, fmt.Errorf("assignment: assign task %s: %w", task.ID, err)
		}
	}
	return Assignment{}, false, nil
}

// markBound updates the local snapshot so the robot is not offered again.
func markBound(robots []model.Robot, robotID, taskID uuid.UUID) {
	for i := range robots {
		if robots[i].ID == robotID {
			robots[i].Status = model.RobotWorking
			robots[i].CurrentTaskID = &taskID
			return
		}
	}
}

// recordDecision audits the pass against the running run, if there is one.
func (s *Service) recordDecision(ctx context.Context, robots, pending int, assignments []Assignment, latency time.Duration) (*uuid.UUID, error) {
	run, err := s.store.CurrentRun(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assignment: current run: %w", err)
	}

	out := make([]any, len(assignments))
	for i, a := range assignments {
		out[i] = map[string]any{
			"task_id":    a.TaskID.String(),
			"robot_id":   a.RobotID.String(),
			"robot_name": a.RobotName,
			"distance":   fmt.Sprintf("%.1f", a.Distance),
			"priority":   a.Priority,
		}
	}
	d, err := s.store.CreateDecision(ctx, model.AIDecision{
		RunID:        &run.ID,
		DecisionType: model.DecisionAutoOptimize,
		InputState:   map[string]any{"robots": robots, "pending_tasks": pending},
		Output:       map[string]any{"assignments": out, "strategy": Strategy},
		Confidence:   autoOptimizeConfidence,
		LatencyMs:    latency.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("assignment: record decision: %w", err)
	}
	return &d.ID, nil
}
