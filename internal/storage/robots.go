package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

const robotColumns = `id, name, type, status, battery_level, position_x, position_y, current_task_id, last_seen`

type scanner interface {
	Scan(dest ...any) error
}

func scanRobot(row scanner) (model.Robot, error) {
	var r model.Robot
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Status, &r.BatteryLevel,
		&r.Position.X, &r.Position.Y, &r.CurrentTaskID, &r.LastSeen)
	return r, err
}

func collectRobots(rows pgx.Rows) ([]model.Robot, error) {
	defer rows.Close()
	var robots []model.Robot
	for rows.Next() {
		r, err := scanRobot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan robot: %w", err)
		}
		robots = append(robots, r)
	}
	return robots, rows.Err()
}

// CreateRobot registers a robot. A zero ID is replaced with a new one.
func (db *DB) CreateRobot(ctx context.Context, r model.Robot) (model.Robot, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = model.RobotIdle
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO robots (`+robotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Name, r.Type, string(r.Status), r.BatteryLevel,
		r.Position.X, r.Position.Y, r.CurrentTaskID, r.LastSeen,
	)
	if err != nil {
		return model.Robot{}, fmt.Errorf("storage: create robot: %w", err)
	}
	return r, nil
}

// GetRobot retrieves a robot by ID.
func (db *DB) GetRobot(ctx context.Context, id uuid.UUID) (model.Robot, error) {
	r, err := scanRobot(db.pool.QueryRow(ctx,
		`SELECT `+robotColumns+` FROM robots WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Robot{}, fmt.Errorf("%w: robot %s", ErrNotFound, id)
		}
		return model.Robot{}, fmt.Errorf("storage: get robot: %w", err)
	}
	return r, nil
}

// ListRobots returns robots ordered by name, then id.
func (db *DB) ListRobots(ctx context.Context, filter RobotFilter) ([]model.Robot, error) {
	query := `SELECT ` + robotColumns + ` FROM robots`
	if filter.ExcludeOffline {
		query += ` WHERE status <> 'offline'`
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: list robots: %w", err)
	}
	return collectRobots(rows)
}

// releaseHeldTasks returns the task held by each listed robot to pending.
// Robots are expected to be leaving the working state in the same tx.
func releaseHeldTasks(ctx context.Context, tx pgx.Tx, robotIDs []uuid.UUID) error {
	if len(robotIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE tasks SET status = 'pending', robot_id = NULL, assigned_at = NULL
		 WHERE id IN (SELECT current_task_id FROM robots WHERE id = ANY($1) AND current_task_id IS NOT NULL)
		   AND status IN ('assigned', 'working')`,
		robotIDs,
	)
	if err != nil {
		return fmt.Errorf("storage: release held tasks: %w", err)
	}
	return nil
}

// resetFleet sets every robot idle at full battery and releases held tasks.
func resetFleet(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = 'pending', robot_id = NULL, assigned_at = NULL
		 WHERE id IN (SELECT current_task_id FROM robots WHERE current_task_id IS NOT NULL)
		   AND status IN ('assigned', 'working')`,
	); err != nil {
		return fmt.Errorf("storage: release tasks for reset: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE robots SET status = 'idle', battery_level = 100, current_task_id = NULL, last_seen = now()`,
	); err != nil {
		return fmt.Errorf("storage: reset robots: %w", err)
	}
	return nil
}

// UpdateRobot applies u to a robot in one transaction.
func (db *DB) UpdateRobot(ctx context.Context, id uuid.UUID, u RobotUpdate) (model.Robot, error) {
	var robot model.Robot
	err := db.withTx(ctx, "update robot", func(tx pgx.Tx) error {
		cur, err := scanRobot(tx.QueryRow(ctx,
			`SELECT `+robotColumns+` FROM robots WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: robot %s", ErrNotFound, id)
			}
			return fmt.Errorf("storage: read robot: %w", err)
		}
		u.Apply(&cur)
		if cur.CurrentTaskID != nil && cur.Status != model.RobotWorking {
			if err := releaseHeldTasks(ctx, tx, []uuid.UUID{id}); err != nil {
				return err
			}
			cur.CurrentTaskID = nil
		}
		robot, err = scanRobot(tx.QueryRow(ctx,
			`UPDATE robots
			 SET status = $2, battery_level = $3, position_x = $4, position_y = $5,
			     current_task_id = $6, last_seen = now()
			 WHERE id = $1
			 RETURNING `+robotColumns,
			id, string(cur.Status), cur.BatteryLevel, cur.Position.X, cur.Position.Y, cur.CurrentTaskID))
		if err != nil {
			return fmt.Errorf("storage: update robot: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Robot{}, err
	}
	return robot, nil
}
