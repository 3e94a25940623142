package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// RobotFilter narrows ListRobots.
type RobotFilter struct {
	ExcludeOffline bool
}

// RunScope limits task queries to one run. A nil RunID means all runs.
type RunScope struct {
	RunID *uuid.UUID
}

// RobotUpdate lists the robot fields to change. Nil fields are kept.
type RobotUpdate struct {
	Status       *model.RobotStatus
	BatteryLevel *float64
	Position     *model.Point
}

// Apply copies the set fields onto r.
func (u RobotUpdate) Apply(r *model.Robot) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.BatteryLevel != nil {
		r.BatteryLevel = *u.BatteryLevel
	}
	if u.Position != nil {
		r.Position = *u.Position
	}
}

// Drain describes a fleet-wide battery reduction.
type Drain struct {
	Amount      float64 // subtracted from every non-offline robot
	Floor       float64 // battery never drops below this
	ChargeBelow float64 // robots ending below this go to charging
}

// Store is the fleet state repository. Both the Postgres DB and the embedded
// SQLite store implement it. Every method that changes more than one row runs
// in a single transaction.
//
// Robot state transitions that take a robot out of working release the task
// it held back to pending with no robot, so a robot never points at a task it
// is not working on.
type Store interface {
	// Robots.
	CreateRobot(ctx context.Context, r model.Robot) (model.Robot, error)
	GetRobot(ctx context.Context, id uuid.UUID) (model.Robot, error)
	ListRobots(ctx context.Context, filter RobotFilter) ([]model.Robot, error)
	// UpdateRobot applies u and refreshes last_seen. A resulting status other
	// than working releases the task the robot held.
	UpdateRobot(ctx context.Context, id uuid.UUID, u RobotUpdate) (model.Robot, error)

	// Tasks.
	CreateTasks(ctx context.Context, tasks []model.NewTask) ([]model.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)
	ListPendingTasks(ctx context.Context, scope RunScope) ([]model.Task, error)
	ListTasks(ctx context.Context, runID uuid.UUID) ([]model.Task, error)
	CountFailedTasksSince(ctx context.Context, since time.Time) (int, error)

	// AssignTask binds a pending task to a free, eligible robot. The robot row
	// is claimed only if it is not offline or charging, holds no task and has
	// at least minBattery; the task only if it is still pending. A lost race on
	// either row returns ErrRobotUnavailable or ErrTaskUnavailable and changes
	// nothing.
	AssignTask(ctx context.Context, taskID, robotID uuid.UUID, minBattery float64) (model.Task, error)
	// StartTask moves an assigned task to working.
	StartTask(ctx context.Context, taskID uuid.UUID) (model.Task, error)
	// FinishTask moves an assigned or working task to completed or failed and
	// frees its robot.
	FinishTask(ctx context.Context, taskID uuid.UUID, status model.TaskStatus) (model.Task, error)

	// Runs.
	CreateRun(ctx context.Context, scenarioID string, strategy model.Strategy) (model.SimulationRun, error)
	// StartRun creates the next run like CreateRun and, in the same
	// transaction, sets every robot idle at full battery and releases held
	// tasks.
	StartRun(ctx context.Context, scenarioID string, strategy model.Strategy) (model.SimulationRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (model.SimulationRun, error)
	// CurrentRun returns the most recently started running run, or ErrNotFound.
	CurrentRun(ctx context.Context) (model.SimulationRun, error)
	// CompleteRun closes a running run, fails its in-flight tasks and returns
	// every robot to idle with no task. Non-nil metrics are stored with the
	// completion; nothing is written when the run is not running.
	CompleteRun(ctx context.Context, id uuid.UUID, finalScore float64, metrics *model.Metrics) (model.SimulationRun, error)
	SetImprovementNotes(ctx context.Context, id uuid.UUID, notes string) error
	// ListRunTrend returns all runs of a scenario ordered by run_number with
	// their metrics joined.
	ListRunTrend(ctx context.Context, scenarioID string) ([]model.RunTrend, error)

	// Metrics.
	UpsertMetrics(ctx context.Context, m model.Metrics) error
	// GetMetrics returns nil without error when the run has no metrics.
	GetMetrics(ctx context.Context, runID uuid.UUID) (*model.Metrics, error)
	// PreviousRunMetrics returns the metrics of the run immediately preceding
	// runNumber within the scenario, or nil.
	PreviousRunMetrics(ctx context.Context, scenarioID string, runNumber int) (*model.Metrics, error)
	// ListRecentMetrics returns up to limit metrics rows, newest run first.
	// An empty scenarioID means all scenarios.
	ListRecentMetrics(ctx context.Context, scenarioID string, limit int) ([]model.Metrics, error)

	// Decisions.
	CreateDecision(ctx context.Context, d model.AIDecision) (model.AIDecision, error)
	ListDecisions(ctx context.Context, runID *uuid.UUID, limit int) ([]model.AIDecision, error)

	// Disruptions. Each is a single transaction.
	TakeRobotOffline(ctx context.Context, robotID uuid.UUID) (model.Robot, *uuid.UUID, error)
	DrainBatteries(ctx context.Context, d Drain) ([]model.Robot, error)
	InjectEmergency(ctx context.Context, task model.NewTask, demoteBy int) (model.Task, int, error)
	RerouteZone(ctx context.Context, min, max model.Point) ([]model.Robot, error)

	Close(ctx context.Context)
}
