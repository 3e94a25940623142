package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
// Legal transitions: pending -> assigned -> working -> completed|failed.
// assigned and working may also fail, and a released task returns to pending.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskWorking   TaskStatus = "working"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task types produced by the core. Callers may use any other type string.
const (
	TaskTypeDelivery  = "delivery"
	TaskTypeEmergency = "emergency"
)

// Priority bounds.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Task is a unit of work for one robot.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Seq         int64      `json:"seq"`
	RunID       uuid.UUID  `json:"run_id"`
	RobotID     *uuid.UUID `json:"robot_id,omitempty"`
	Type        string     `json:"type"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Origin      Point      `json:"origin"`
	Destination Point      `json:"destination"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask is the input for creating a pending task.
type NewTask struct {
	RunID       uuid.UUID
	Type        string
	Priority    int
	Origin      Point
	Destination Point
}

// ClampPriority bounds p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return max(MinPriority, min(MaxPriority, p))
}
