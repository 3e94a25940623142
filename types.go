package arcc

import (
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/alerting"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/assignment"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/demo"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/improve"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/oracle"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/scenario"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// Fleet state.
type (
	Robot         = model.Robot
	RobotStatus   = model.RobotStatus
	Point         = model.Point
	Task          = model.Task
	TaskStatus    = model.TaskStatus
	NewTask       = model.NewTask
	SimulationRun = model.SimulationRun
	Strategy      = model.Strategy
	Metrics       = model.Metrics
	AIDecision    = model.AIDecision
	RobotUpdate   = storage.RobotUpdate
)

// Operation results.
type (
	Decision          = oracle.Decision
	AssignmentResult  = assignment.Result
	Assignment        = assignment.Assignment
	ImprovementResult = improve.Result
	ScenarioInfo      = scenario.Info
	ScenarioOutcome   = scenario.Outcome
	Alert             = alerting.Alert
	AlertLevel        = alerting.Level
	DecisionEvent     = storage.DecisionEvent
	ChatReply         = oracle.ChatReply
	DemoRun           = demo.Result
)

// Robot statuses.
const (
	RobotIdle      = model.RobotIdle
	RobotActive    = model.RobotActive
	RobotWorking   = model.RobotWorking
	RobotCharging  = model.RobotCharging
	RobotOffline   = model.RobotOffline
	RobotRerouting = model.RobotRerouting
)

// Task statuses.
const (
	TaskPending   = model.TaskPending
	TaskAssigned  = model.TaskAssigned
	TaskWorking   = model.TaskWorking
	TaskCompleted = model.TaskCompleted
	TaskFailed    = model.TaskFailed
)

// Run statuses.
const (
	RunRunning   = model.RunStatusRunning
	RunCompleted = model.RunStatusCompleted
)

// Errors returned by App operations; test with errors.Is.
var (
	// ErrValidation marks missing or malformed input. Nothing was changed.
	ErrValidation = model.ErrValidation
	// ErrUnknownScenario is a validation error for a kind not in the catalog.
	ErrUnknownScenario = model.ErrUnknownScenario
	// ErrNotFound marks a referenced run, robot or task that does not exist.
	ErrNotFound = storage.ErrNotFound
	// ErrConflict marks a run that is no longer running.
	ErrConflict = storage.ErrConflict
)
