// Package dispatch ranks robots for tasks by distance under the fleet's
// eligibility rules. It is pure: callers supply the robot and task snapshots
// and apply the resulting pairs themselves.
package dispatch

import (
	"slices"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// Pair proposes a robot for a task.
type Pair struct {
	TaskID   uuid.UUID `json:"task_id"`
	RobotID  uuid.UUID `json:"robot_id"`
	Distance float64   `json:"distance"`
}

// Candidates returns the robots eligible for the task, nearest to its origin
// first. Equal distances keep the input order, so callers that pass robots in
// a stable scan order get a deterministic tie-break.
func Candidates(robots []model.Robot, task model.Task, minBattery float64) []model.Robot {
	out := make([]model.Robot, 0, len(robots))
	for _, r := range robots {
		if r.Assignable(minBattery) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Robot) int {
		da, db := a.Position.Distance(task.Origin), b.Position.Distance(task.Origin)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
	return out
}

// Plan greedily pairs each task, in the given order, with the nearest
// eligible robot not already used by an earlier pair. Tasks with no robot
// left are omitted.
func Plan(robots []model.Robot, tasks []model.Task, minBattery float64) []Pair {
	used := make(map[uuid.UUID]bool, len(robots))
	var pairs []Pair
	for _, t := range tasks {
		for _, r := range Candidates(robots, t, minBattery) {
			if used[r.ID] {
				continue
			}
			used[r.ID] = true
			pairs = append(pairs, Pair{TaskID: t.ID, RobotID: r.ID, Distance: r.Position.Distance(t.Origin)})
			break
		}
	}
	return pairs
}
