package scenario

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// Kind identifies a catalog scenario.
type Kind string

const (
	KindDemandSpike     Kind = "demand_spike"
	KindRobotFailure    Kind = "robot_failure"
	KindBatteryShortage Kind = "battery_shortage"
	KindEmergencyOrder  Kind = "emergency_order"
	KindBlockedPath     Kind = "blocked_path"
)

// Disruption parameters.
const (
	SpikeTasks       = 15
	SpikeMinPriority = 7
	spikePriorities  = 3 // priorities 7, 8, 9
	gridSize         = 100.0

	BatteryDrain  = 40.0
	BatteryFloor  = 5.0
	ChargingBelow = 20.0

	EmergencyPriority = model.MaxPriority
	EmergencyDemotion = 2

	blockedZoneMin = 40.0
	blockedZoneMax = 60.0
)

var (
	emergencyOrigin      = model.Point{X: 50, Y: 50}
	emergencyDestination = model.Point{X: 95, Y: 95}
)

// env is what a scenario may touch while applying.
type env struct {
	store storage.Store
	rand  func(n int) int
	unit  func() float64
}

// Scenario is one disruption in the closed catalog. The unexported method
// keeps the set of implementations inside this package.
type Scenario interface {
	Kind() Kind
	Name() string
	Description() string
	apply(ctx context.Context, e env, runID uuid.UUID) (any, error)
}

// Info describes a catalog entry.
type Info struct {
	ID          Kind   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var catalog = []Scenario{
	DemandSpike{},
	RobotFailure{},
	BatteryShortage{},
	EmergencyOrder{},
	BlockedPath{},
}

// Catalog lists every scenario in a fixed order.
func Catalog() []Info {
	out := make([]Info, len(catalog))
	for i, s := range catalog {
		out[i] = Info{ID: s.Kind(), Name: s.Name(), Description: s.Description()}
	}
	return out
}

// Lookup returns the scenario for kind.
func Lookup(kind Kind) (Scenario, bool) {
	for _, s := range catalog {
		if s.Kind() == kind {
			return s, true
		}
	}
	return nil, false
}

// DemandSpike injects a burst of high-priority deliveries.
type DemandSpike struct{}

// SpikeResult reports a demand spike.
type SpikeResult struct {
	TasksCreated int          `json:"tasks_created"`
	Tasks        []model.Task `json:"tasks"`
}

func (DemandSpike) Kind() Kind          { return KindDemandSpike }
func (DemandSpike) Name() string        { return "Demand Spike" }
func (DemandSpike) Description() string { return "3x surge in delivery orders" }

func (DemandSpike) apply(ctx context.Context, e env, runID uuid.UUID) (any, error) {
	batch := make([]model.NewTask, SpikeTasks)
	for i := range batch {
		batch[i] = model.NewTask{
			RunID:       runID,
			Type:        model.TaskTypeDelivery,
			Priority:    SpikeMinPriority + e.rand(spikePriorities),
			Origin:      model.Point{X: e.unit() * gridSize, Y: e.unit() * gridSize},
			Destination: model.Point{X: e.unit() * gridSize, Y: e.unit() * gridSize},
		}
	}
	tasks, err := e.store.CreateTasks(ctx, batch)
	if err != nil {
		return nil, err
	}
	return SpikeResult{TasksCreated: len(tasks), Tasks: tasks}, nil
}

// RobotFailure takes one random non-offline robot offline and releases its
// task.
type RobotFailure struct{}

// FailureResult reports a robot failure. FailedRobot is empty when no robot
// could fail.
type FailureResult struct {
	FailedRobot   string     `json:"failed_robot"`
	RobotID       *uuid.UUID `json:"robot_id,omitempty"`
	ReleasedTask  *uuid.UUID `json:"released_task,omitempty"`
	NoRobotReason string     `json:"error,omitempty"`
}

func (RobotFailure) Kind() Kind          { return KindRobotFailure }
func (RobotFailure) Name() string        { return "Robot Failure" }
func (RobotFailure) Description() string { return "Random robot goes offline" }

func (RobotFailure) apply(ctx context.Context, e env, _ uuid.UUID) (any, error) {
	robots, err := e.store.ListRobots(ctx, storage.RobotFilter{ExcludeOffline: true})
	if err != nil {
		return nil, err
	}
	if len(robots) == 0 {
		return FailureResult{NoRobotReason: "No robots available"}, nil
	}
	victim := robots[e.rand(len(robots))]
	r, released, err := e.store.TakeRobotOffline(ctx, victim.ID)
	if err != nil {
		return nil, err
	}
	return FailureResult{FailedRobot: r.Name, RobotID: &r.ID, ReleasedTask: released}, nil
}

// BatteryShortage drains every non-offline robot and sends the depleted ones
// to charge.
type BatteryShortage struct{}

// FleetResult lists the robots a disruption touched.
type FleetResult struct {
	RobotsAffected []model.Robot `json:"robots_affected"`
}

func (BatteryShortage) Kind() Kind          { return KindBatteryShortage }
func (BatteryShortage) Name() string        { return "Battery Shortage" }
func (BatteryShortage) Description() string { return "All robots lose 40% battery" }

func (BatteryShortage) apply(ctx context.Context, e env, _ uuid.UUID) (any, error) {
	robots, err := e.store.DrainBatteries(ctx, storage.Drain{
		Amount:      BatteryDrain,
		Floor:       BatteryFloor,
		ChargeBelow: ChargingBelow,
	})
	if err != nil {
		return nil, err
	}
	return FleetResult{RobotsAffected: robots}, nil
}

// EmergencyOrder injects a top-priority task and demotes the run's other
// tasks.
type EmergencyOrder struct{}

// EmergencyResult reports an emergency order.
type EmergencyResult struct {
	EmergencyTask model.Task `json:"emergency_task"`
	Demoted       int        `json:"demoted"`
}

func (EmergencyOrder) Kind() Kind   { return KindEmergencyOrder }
func (EmergencyOrder) Name() string { return "Emergency Priority Order" }
func (EmergencyOrder) Description() string {
	return "Critical delivery injected, must be completed first"
}

func (EmergencyOrder) apply(ctx context.Context, e env, runID uuid.UUID) (any, error) {
	task, demoted, err := e.store.InjectEmergency(ctx, model.NewTask{
		RunID:       runID,
		Type:        model.TaskTypeEmergency,
		Priority:    EmergencyPriority,
		Origin:      emergencyOrigin,
		Destination: emergencyDestination,
	}, EmergencyDemotion)
	if err != nil {
		return nil, err
	}
	return EmergencyResult{EmergencyTask: task, Demoted: demoted}, nil
}

// BlockedPath puts every non-offline robot inside the blocked zone into
// rerouting.
type BlockedPath struct{}

// Zone is an axis-aligned grid rectangle.
type Zone struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// BlockedResult reports a blocked path.
type BlockedResult struct {
	BlockedZone    Zone          `json:"blocked_zone"`
	RobotsAffected []model.Robot `json:"robots_affected"`
}

func (BlockedPath) Kind() Kind          { return KindBlockedPath }
func (BlockedPath) Name() string        { return "Blocked Path" }
func (BlockedPath) Description() string { return "Grid zones 40-60 become impassable" }

func (BlockedPath) apply(ctx context.Context, e env, _ uuid.UUID) (any, error) {
	lo := model.Point{X: blockedZoneMin, Y: blockedZoneMin}
	hi := model.Point{X: blockedZoneMax, Y: blockedZoneMax}
	robots, err := e.store.RerouteZone(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	if robots == nil {
		robots = []model.Robot{}
	}
	return BlockedResult{
		BlockedZone:    Zone{XMin: lo.X, XMax: hi.X, YMin: lo.Y, YMax: hi.Y},
		RobotsAffected: robots,
	}, nil
}

// newRand returns a randomly seeded generator.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// describe formats a scenario for logs and errors.
func describe(s Scenario) string {
	return fmt.Sprintf("%s (%s)", s.Name(), s.Kind())
}
