package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// TakeRobotOffline marks a robot offline and releases the task it held.
// The released task ID is nil when the robot was free.
func (db *DB) TakeRobotOffline(ctx context.Context, robotID uuid.UUID) (model.Robot, *uuid.UUID, error) {
	var (
		robot    model.Robot
		released *uuid.UUID
	)
	err := db.withTx(ctx, "take robot offline", func(tx pgx.Tx) error {
		var held *uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT current_task_id FROM robots WHERE id = $1 FOR UPDATE`, robotID,
		).Scan(&held)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: robot %s", ErrNotFound, robotID)
			}
			return fmt.Errorf("storage: lock robot: %w", err)
		}
		if err := releaseHeldTasks(ctx, tx, []uuid.UUID{robotID}); err != nil {
			return err
		}
		robot, err = scanRobot(tx.QueryRow(ctx,
			`UPDATE robots SET status = 'offline', current_task_id = NULL, last_seen = now()
			 WHERE id = $1 RETURNING `+robotColumns, robotID))
		if err != nil {
			return fmt.Errorf("storage: take robot offline: %w", err)
		}
		released = held
		return nil
	})
	if err != nil {
		return model.Robot{}, nil, err
	}
	return robot, released, nil
}

// DrainBatteries lowers every non-offline robot's battery by d.Amount, never
// below d.Floor, and sends robots ending below d.ChargeBelow to charging.
// It returns the whole fleet after the drain.
func (db *DB) DrainBatteries(ctx context.Context, d Drain) ([]model.Robot, error) {
	var robots []model.Robot
	err := db.withTx(ctx, "drain batteries", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE robots SET battery_level = GREATEST(battery_level - $1, $2)
			 WHERE status <> 'offline'`, d.Amount, d.Floor,
		); err != nil {
			return fmt.Errorf("storage: drain batteries: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT id FROM robots WHERE status <> 'offline' AND battery_level < $1`, d.ChargeBelow)
		if err != nil {
			return fmt.Errorf("storage: select low robots: %w", err)
		}
		low, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("storage: collect low robots: %w", err)
		}
		if err := releaseHeldTasks(ctx, tx, low); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE robots SET status = 'charging', current_task_id = NULL
			 WHERE id = ANY($1)`, low,
		); err != nil {
			return fmt.Errorf("storage: start charging: %w", err)
		}

		rows, err = tx.Query(ctx, `SELECT `+robotColumns+` FROM robots ORDER BY name ASC, id ASC`)
		if err != nil {
			return fmt.Errorf("storage: list drained robots: %w", err)
		}
		robots, err = collectRobots(rows)
		return err
	})
	return robots, err
}

// InjectEmergency demotes every other non-emergency task of the run by
// demoteBy (floored at the minimum priority) and inserts the emergency task.
// It returns the new task and the number of demoted tasks.
func (db *DB) InjectEmergency(ctx context.Context, nt model.NewTask, demoteBy int) (model.Task, int, error) {
	var (
		task    model.Task
		demoted int
	)
	err := db.withTx(ctx, "inject emergency", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE tasks SET priority = GREATEST(priority - $1, $2)
			 WHERE run_id = $3 AND type <> $4`,
			demoteBy, model.MinPriority, nt.RunID, model.TaskTypeEmergency,
		)
		if err != nil {
			return fmt.Errorf("storage: demote tasks: %w", err)
		}
		demoted = int(tag.RowsAffected())

		created, err := insertTasks(ctx, tx, []model.NewTask{nt})
		if err != nil {
			return err
		}
		task = created[0]
		return nil
	})
	if err != nil {
		return model.Task{}, 0, err
	}
	return task, demoted, nil
}

// RerouteZone marks every non-offline robot inside [min, max] as rerouting
// and returns them. Working robots release their task.
func (db *DB) RerouteZone(ctx context.Context, min, max model.Point) ([]model.Robot, error) {
	var robots []model.Robot
	err := db.withTx(ctx, "reroute zone", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id FROM robots
			 WHERE status <> 'offline'
			   AND position_x BETWEEN $1 AND $2 AND position_y BETWEEN $3 AND $4`,
			min.X, max.X, min.Y, max.Y)
		if err != nil {
			return fmt.Errorf("storage: select zone robots: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("storage: collect zone robots: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := releaseHeldTasks(ctx, tx, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE robots SET status = 'rerouting', current_task_id = NULL, last_seen = now()
			 WHERE id = ANY($1)`, ids,
		); err != nil {
			return fmt.Errorf("storage: reroute robots: %w", err)
		}
		rows, err = tx.Query(ctx,
			`SELECT `+robotColumns+` FROM robots WHERE id = ANY($1) ORDER BY name ASC, id ASC`, ids)
		if err != nil {
			return fmt.Errorf("storage: list rerouted robots: %w", err)
		}
		robots, err = collectRobots(rows)
		return err
	})
	return robots, err
}
