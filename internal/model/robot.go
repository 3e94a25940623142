// Package model defines the core domain types for the fleet command center.
//
// Types correspond directly to store rows (robots, tasks, simulation_runs,
// metrics, ai_decisions). They use strong typing (UUIDs, time.Time, enums)
// and keep free-form payloads as map[string]any only where the content is
// produced by the decision oracle.
package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RobotStatus represents the operational state of a robot.
type RobotStatus string

const (
	RobotIdle      RobotStatus = "idle"
	RobotActive    RobotStatus = "active"
	RobotWorking   RobotStatus = "working"
	RobotCharging  RobotStatus = "charging"
	RobotOffline   RobotStatus = "offline"
	RobotRerouting RobotStatus = "rerouting"
)

// Valid reports whether s is a known robot status.
func (s RobotStatus) Valid() bool {
	switch s {
	case RobotIdle, RobotActive, RobotWorking, RobotCharging, RobotOffline, RobotRerouting:
		return true
	}
	return false
}

// Point is a position on the warehouse grid.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Within reports whether p lies inside the closed rectangle [min, max].
func (p Point) Within(min, max Point) bool {
	return p.X >= min.X && p.X <= max.X && p.Y >= min.Y && p.Y <= max.Y
}

// Robot is a simulated mobile robot. It is never deleted, only re-stated.
// Invariant: CurrentTaskID != nil implies Status == RobotWorking.
type Robot struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	Status        RobotStatus `json:"status"`
	BatteryLevel  float64     `json:"battery_level"`
	Position      Point       `json:"position"`
	CurrentTaskID *uuid.UUID  `json:"current_task_id,omitempty"`
	LastSeen      time.Time   `json:"last_seen"`
}

// MinAssignableBattery is the battery level below which a robot is never
// given new work.
const MinAssignableBattery = 20.0

// Assignable reports whether the robot can take a new task given a battery
// threshold.
func (r Robot) Assignable(minBattery float64) bool {
	if r.Status == RobotOffline || r.Status == RobotCharging {
		return false
	}
	if r.CurrentTaskID != nil {
		return false
	}
	return r.BatteryLevel >= minBattery
}
