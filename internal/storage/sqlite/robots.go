package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

const robotColumns = `id, name, type, status, battery_level, position_x, position_y, current_task_id, last_seen`

func scanRobot(row scanner) (model.Robot, error) {
	var (
		r        model.Robot
		taskID   uuid.NullUUID
		lastSeen string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Status, &r.BatteryLevel,
		&r.Position.X, &r.Position.Y, &taskID, &lastSeen); err != nil {
		return model.Robot{}, err
	}
	if taskID.Valid {
		r.CurrentTaskID = &taskID.UUID
	}
	t, err := parseTime(lastSeen)
	if err != nil {
		return model.Robot{}, fmt.Errorf("sqlite: parse last_seen: %w", err)
	}
	r.LastSeen = t
	return r, nil
}

func queryRobots(ctx context.Context, q querier, query string, args ...any) ([]model.Robot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var robots []model.Robot
	for rows.Next() {
		r, err := scanRobot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan robot: %w", err)
		}
		robots = append(robots, r)
	}
	return robots, rows.Err()
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateRobot registers a robot. A zero ID is replaced with a new one.
func (s *Store) CreateRobot(ctx context.Context, r model.Robot) (model.Robot, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = model.RobotIdle
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = s.now()
	}
	r.LastSeen = r.LastSeen.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO robots (`+robotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Type, string(r.Status), r.BatteryLevel,
		r.Position.X, r.Position.Y, r.CurrentTaskID, formatTime(r.LastSeen),
	)
	if err != nil {
		return model.Robot{}, fmt.Errorf("sqlite: create robot: %w", err)
	}
	return r, nil
}

// GetRobot retrieves a robot by ID.
func (s *Store) GetRobot(ctx context.Context, id uuid.UUID) (model.Robot, error) {
	r, err := scanRobot(s.db.QueryRowContext(ctx, `SELECT `+robotColumns+` FROM robots WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Robot{}, fmt.Errorf("%w: robot %s", storage.ErrNotFound, id)
		}
		return model.Robot{}, fmt.Errorf("sqlite: get robot: %w", err)
	}
	return r, nil
}

// ListRobots returns robots ordered by name, then id.
func (s *Store) ListRobots(ctx context.Context, filter storage.RobotFilter) ([]model.Robot, error) {
	query := `SELECT ` + robotColumns + ` FROM robots`
	if filter.ExcludeOffline {
		query += ` WHERE status <> 'offline'`
	}
	query += ` ORDER BY name ASC, id ASC`
	robots, err := queryRobots(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list robots: %w", err)
	}
	return robots, nil
}

// releaseHeldTasks returns the task held by each listed robot to pending.
func releaseHeldTasks(ctx context.Context, tx *sql.Tx, robotIDs []uuid.UUID) error {
	if len(robotIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', robot_id = NULL, assigned_at = NULL
		 WHERE id IN (SELECT current_task_id FROM robots
		              WHERE id IN (`+placeholders(len(robotIDs))+`) AND current_task_id IS NOT NULL)
		   AND status IN ('assigned', 'working')`,
		anySlice(robotIDs)...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: release held tasks: %w", err)
	}
	return nil
}

// resetFleet sets every robot idle at full battery and releases held tasks.
func (s *Store) resetFleet(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', robot_id = NULL, assigned_at = NULL
		 WHERE id IN (SELECT current_task_id FROM robots WHERE current_task_id IS NOT NULL)
		   AND status IN ('assigned', 'working')`,
	); err != nil {
		return fmt.Errorf("sqlite: release tasks for reset: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE robots SET status = 'idle', battery_level = 100, current_task_id = NULL, last_seen = ?`,
		s.timestamp(),
	); err != nil {
		return fmt.Errorf("sqlite: reset robots: %w", err)
	}
	return nil
}

// TakeRobotOffline marks a robot offline and releases the task it held.
func (s *Store) TakeRobotOffline(ctx context.Context, robotID uuid.UUID) (model.Robot, *uuid.UUID, error) {
	var (
		robot    model.Robot
		released *uuid.UUID
	)
	err := s.withTx(ctx, "take robot offline", func(tx *sql.Tx) error {
		var held uuid.NullUUID
		err := tx.QueryRowContext(ctx, `SELECT current_task_id FROM robots WHERE id = ?`, robotID).Scan(&held)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: robot %s", storage.ErrNotFound, robotID)
			}
			return fmt.Errorf("sqlite: read robot: %w", err)
		}
		if err := releaseHeldTasks(ctx, tx, []uuid.UUID{robotID}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE robots SET status = 'offline', current_task_id = NULL, last_seen = ? WHERE id = ?`,
			s.timestamp(), robotID,
		); err != nil {
			return fmt.Errorf("sqlite: take robot offline: %w", err)
		}
		robot, err = scanRobot(tx.QueryRowContext(ctx, `SELECT `+robotColumns+` FROM robots WHERE id = ?`, robotID))
		if err != nil {
			return fmt.Errorf("sqlite: reload robot: %w", err)
		}
		if held.Valid {
			released = &held.UUID
		}
		return nil
	})
	if err != nil {
		return model.Robot{}, nil, err
	}
	return robot, released, nil
}

// DrainBatteries lowers non-offline batteries and sends low robots to charging.
// It returns the whole fleet after the drain.
func (s *Store) DrainBatteries(ctx context.Context, d storage.Drain) ([]model.Robot, error) {
	var robots []model.Robot
	err := s.withTx(ctx, "drain batteries", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE robots SET battery_level = MAX(battery_level - ?, ?) WHERE status <> 'offline'`,
			d.Amount, d.Floor,
		); err != nil {
			return fmt.Errorf("sqlite: drain batteries: %w", err)
		}
		low, err := queryIDs(ctx, tx,
			`SELECT id FROM robots WHERE status <> 'offline' AND battery_level < ?`, d.ChargeBelow)
		if err != nil {
			return fmt.Errorf("sqlite: select low robots: %w", err)
		}
		if len(low) > 0 {
			if err := releaseHeldTasks(ctx, tx, low); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE robots SET status = 'charging', current_task_id = NULL
				 WHERE id IN (`+placeholders(len(low))+`)`,
				anySlice(low)...,
			); err != nil {
				return fmt.Errorf("sqlite: start charging: %w", err)
			}
		}
		robots, err = queryRobots(ctx, tx, `SELECT `+robotColumns+` FROM robots ORDER BY name ASC, id ASC`)
		if err != nil {
			return fmt.Errorf("sqlite: list drained robots: %w", err)
		}
		return nil
	})
	return robots, err
}

// RerouteZone marks every non-offline robot inside [min, max] as rerouting.
func (s *Store) RerouteZone(ctx context.Context, min, max model.Point) ([]model.Robot, error) {
	var robots []model.Robot
	err := s.withTx(ctx, "reroute zone", func(tx *sql.Tx) error {
		ids, err := queryIDs(ctx, tx,
			`SELECT id FROM robots
			 WHERE status <> 'offline'
			   AND position_x BETWEEN ? AND ? AND position_y BETWEEN ? AND ?`,
			min.X, max.X, min.Y, max.Y)
		if err != nil {
			return fmt.Errorf("sqlite: select zone robots: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := releaseHeldTasks(ctx, tx, ids); err != nil {
			return err
		}
		args := append([]any{s.timestamp()}, anySlice(ids)...)
		if _, err := tx.ExecContext(ctx,
			`UPDATE robots SET status = 'rerouting', current_task_id = NULL, last_seen = ?
			 WHERE id IN (`+placeholders(len(ids))+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("sqlite: reroute robots: %w", err)
		}
		robots, err = queryRobots(ctx, tx,
			`SELECT `+robotColumns+` FROM robots WHERE id IN (`+placeholders(len(ids))+`) ORDER BY name ASC, id ASC`,
			anySlice(ids)...)
		if err != nil {
			return fmt.Errorf("sqlite: list rerouted robots: %w", err)
		}
		return nil
	})
	return robots, err
}

// UpdateRobot applies u to a robot in one transaction.
func (s *Store) UpdateRobot(ctx context.Context, id uuid.UUID, u storage.RobotUpdate) (model.Robot, error) {
	var robot model.Robot
	err := s.withTx(ctx, "update robot", func(tx *sql.Tx) error {
		cur, err := scanRobot(tx.QueryRowContext(ctx, `SELECT `+robotColumns+` FROM robots WHERE id = ?`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: robot %s", storage.ErrNotFound, id)
			}
			return fmt.Errorf("sqlite: read robot: %w", err)
		}
		u.Apply(&cur)
		if cur.CurrentTaskID != nil && cur.Status != model.RobotWorking {
			if err := releaseHeldTasks(ctx, tx, []uuid.UUID{id}); err != nil {
				return err
			}
			cur.CurrentTaskID = nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE robots
			 SET status = ?, battery_level = ?, position_x = ?, position_y = ?, current_task_id = ?, last_seen = ?
			 WHERE id = ?`,
			string(cur.Status), cur.BatteryLevel, cur.Position.X, cur.Position.Y, cur.CurrentTaskID,
			s.timestamp(), id,
		); err != nil {
			return fmt.Errorf("sqlite: update robot: %w", err)
		}
		robot, err = scanRobot(tx.QueryRowContext(ctx, `SELECT `+robotColumns+` FROM robots WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("sqlite: reload robot: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Robot{}, err
	}
	return robot, nil
}
