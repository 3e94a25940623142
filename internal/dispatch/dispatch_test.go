package dispatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

func robot(name string, status model.RobotStatus, battery, x, y float64) model.Robot {
	return model.Robot{
		ID:           uuid.New(),
		Name:         name,
		Status:       status,
		BatteryLevel: battery,
		Position:     model.Point{X: x, Y: y},
	}
}

func task(priority int, x, y float64) model.Task {
	return model.Task{
		ID:       uuid.New(),
		Priority: priority,
		Status:   model.TaskPending,
		Origin:   model.Point{X: x, Y: y},
	}
}

func TestCandidatesFiltersAndOrders(t *testing.T) {
	t.Parallel()

	busyTask := uuid.New()
	far := robot("far", model.RobotIdle, 90, 90, 90)
	near := robot("near", model.RobotActive, 50, 1, 1)
	low := robot("low", model.RobotIdle, 19.9, 0, 0)
	charging := robot("charging", model.RobotCharging, 100, 0, 0)
	offline := robot("offline", model.RobotOffline, 100, 0, 0)
	busy := robot("busy", model.RobotWorking, 100, 0, 0)
	busy.CurrentTaskID = &busyTask
	rerouting := robot("rerouting", model.RobotRerouting, 40, 10, 10)

	got := Candidates([]model.Robot{far, near, low, charging, offline, busy, rerouting}, task(5, 0, 0), model.MinAssignableBattery)

	require.Len(t, got, 3)
	assert.Equal(t, "near", got[0].Name)
	assert.Equal(t, "rerouting", got[1].Name)
	assert.Equal(t, "far", got[2].Name)
}

func TestCandidatesBatteryBoundary(t *testing.T) {
	t.Parallel()

	exact := robot("exact", model.RobotIdle, 20, 0, 0)
	got := Candidates([]model.Robot{exact}, task(1, 0, 0), 20)
	assert.Len(t, got, 1, "battery equal to the threshold is eligible")
}

func TestCandidatesTieKeepsInputOrder(t *testing.T) {
	t.Parallel()

	a := robot("alpha", model.RobotIdle, 80, 10, 0)
	b := robot("bravo", model.RobotIdle, 80, 0, 10)
	got := Candidates([]model.Robot{a, b}, task(1, 0, 0), 20)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Name)
	assert.Equal(t, "bravo", got[1].Name)
}

func TestPlanNeverReusesRobot(t *testing.T) {
	t.Parallel()

	a := robot("A", model.RobotIdle, 80, 0, 0)
	b := robot("B", model.RobotIdle, 80, 100, 100)
	t1 := task(9, 1, 1)
	t2 := task(5, 2, 2)
	t3 := task(1, 3, 3)

	pairs := Plan([]model.Robot{a, b}, []model.Task{t1, t2, t3}, 20)

	require.Len(t, pairs, 2)
	assert.Equal(t, t1.ID, pairs[0].TaskID)
	assert.Equal(t, a.ID, pairs[0].RobotID)
	assert.Equal(t, t2.ID, pairs[1].TaskID)
	assert.Equal(t, b.ID, pairs[1].RobotID)

	seen := map[uuid.UUID]bool{}
	for _, p := range pairs {
		assert.False(t, seen[p.RobotID], "robot %s bound twice", p.RobotID)
		seen[p.RobotID] = true
	}
}

func TestPlanEmptyInputs(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Plan(nil, []model.Task{task(1, 0, 0)}, 20))
	assert.Empty(t, Plan([]model.Robot{robot("A", model.RobotIdle, 80, 0, 0)}, nil, 20))
}
