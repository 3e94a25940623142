package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// seq is the implicit rowid; tasks are never deleted, so it follows insertion order.
const taskColumns = `id, rowid, run_id, robot_id, type, priority, status,
	origin_x, origin_y, destination_x, destination_y, created_at, assigned_at, completed_at`

func scanTask(row scanner) (model.Task, error) {
	var (
		t                   model.Task
		robotID             uuid.NullUUID
		created             string
		assigned, completed sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Seq, &t.RunID, &robotID, &t.Type, &t.Priority, &t.Status,
		&t.Origin.X, &t.Origin.Y, &t.Destination.X, &t.Destination.Y,
		&created, &assigned, &completed); err != nil {
		return model.Task{}, err
	}
	if robotID.Valid {
		t.RobotID = &robotID.UUID
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return model.Task{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if t.AssignedAt, err = parseNullTime(assigned); err != nil {
		return model.Task{}, fmt.Errorf("sqlite: parse assigned_at: %w", err)
	}
	if t.CompletedAt, err = parseNullTime(completed); err != nil {
		return model.Task{}, fmt.Errorf("sqlite: parse completed_at: %w", err)
	}
	return t, nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]model.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func getTask(ctx context.Context, q querier, id uuid.UUID) (model.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("%w: task %s", storage.ErrNotFound, id)
		}
		return model.Task{}, fmt.Errorf("sqlite: get task: %w", err)
	}
	return t, nil
}

func (s *Store) insertTasks(ctx context.Context, tx *sql.Tx, in []model.NewTask) ([]model.Task, error) {
	now := s.timestamp()
	out := make([]model.Task, 0, len(in))
	for _, nt := range in {
		id := uuid.New()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, run_id, type, priority, status, origin_x, origin_y, destination_x, destination_y, created_at)
			 VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
			id, nt.RunID, nt.Type, nt.Priority,
			nt.Origin.X, nt.Origin.Y, nt.Destination.X, nt.Destination.Y, now,
		); err != nil {
			return nil, fmt.Errorf("sqlite: insert task: %w", err)
		}
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateTasks inserts pending tasks atomically in input order.
func (s *Store) CreateTasks(ctx context.Context, in []model.NewTask) ([]model.Task, error) {
	if len(in) == 0 {
		return nil, nil
	}
	var out []model.Task
	err := s.withTx(ctx, "create tasks", func(tx *sql.Tx) error {
		var err error
		out, err = s.insertTasks(ctx, tx, in)
		return err
	})
	return out, err
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	return getTask(ctx, s.db, id)
}

// ListPendingTasks returns pending tasks by priority descending, then insertion order.
func (s *Store) ListPendingTasks(ctx context.Context, scope storage.RunScope) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending'`
	var args []any
	if scope.RunID != nil {
		query += ` AND run_id = ?`
		args = append(args, *scope.RunID)
	}
	query += ` ORDER BY priority DESC, rowid ASC`
	tasks, err := queryTasks(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns every task of a run in insertion order.
func (s *Store) ListTasks(ctx context.Context, runID uuid.UUID) ([]model.Task, error) {
	tasks, err := queryTasks(ctx, s.db,
		`SELECT `+taskColumns+` FROM tasks WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	return tasks, nil
}

// CountFailedTasksSince counts failed tasks created at or after since.
func (s *Store) CountFailedTasksSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = 'failed' AND created_at >= ?`, formatTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count failed tasks: %w", err)
	}
	return n, nil
}

// AssignTask claims the task, then the robot, with conditional updates in one tx.
func (s *Store) AssignTask(ctx context.Context, taskID, robotID uuid.UUID, minBattery float64) (model.Task, error) {
	var task model.Task
	err := s.withTx(ctx, "assign task", func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'assigned', robot_id = ?, assigned_at = ?
			 WHERE id = ? AND status = 'pending'`,
			robotID, now, taskID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: claim task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", storage.ErrTaskUnavailable, taskID)
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE robots SET status = 'working', current_task_id = ?, last_seen = ?
			 WHERE id = ? AND status NOT IN ('offline', 'charging')
			   AND current_task_id IS NULL AND battery_level >= ?`,
			taskID, now, robotID, minBattery,
		)
		if err != nil {
			return fmt.Errorf("sqlite: claim robot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", storage.ErrRobotUnavailable, robotID)
		}
		task, err = getTask(ctx, tx, taskID)
		return err
	})
	return task, err
}

// StartTask moves an assigned task to working.
func (s *Store) StartTask(ctx context.Context, taskID uuid.UUID) (model.Task, error) {
	var task model.Task
	err := s.withTx(ctx, "start task", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'working' WHERE id = ? AND status = 'assigned'`, taskID)
		if err != nil {
			return fmt.Errorf("sqlite: start task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transitionError(ctx, tx, taskID)
		}
		task, err = getTask(ctx, tx, taskID)
		return err
	})
	return task, err
}

// FinishTask completes or fails a task and frees its robot.
func (s *Store) FinishTask(ctx context.Context, taskID uuid.UUID, status model.TaskStatus) (model.Task, error) {
	from := []any{string(model.TaskAssigned), string(model.TaskWorking)}
	if status == model.TaskFailed {
		from = append(from, string(model.TaskPending))
	}

	var task model.Task
	err := s.withTx(ctx, "finish task", func(tx *sql.Tx) error {
		now := s.timestamp()
		args := append([]any{string(status), now, taskID}, from...)
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ?
			 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("sqlite: finish task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transitionError(ctx, tx, taskID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE robots SET status = 'idle', current_task_id = NULL, last_seen = ?
			 WHERE current_task_id = ?`, now, taskID,
		); err != nil {
			return fmt.Errorf("sqlite: free robot: %w", err)
		}
		task, err = getTask(ctx, tx, taskID)
		return err
	})
	return task, err
}

func transitionError(ctx context.Context, q querier, taskID uuid.UUID) error {
	t, err := getTask(ctx, q, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s", storage.ErrTaskUnavailable, taskID, t.Status)
}

// InjectEmergency demotes the run's other non-emergency tasks and inserts the
// emergency task.
func (s *Store) InjectEmergency(ctx context.Context, nt model.NewTask, demoteBy int) (model.Task, int, error) {
	var (
		task    model.Task
		demoted int
	)
	err := s.withTx(ctx, "inject emergency", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET priority = MAX(priority - ?, ?)
			 WHERE run_id = ? AND type <> ?`,
			demoteBy, model.MinPriority, nt.RunID, model.TaskTypeEmergency,
		)
		if err != nil {
			return fmt.Errorf("sqlite: demote tasks: %w", err)
		}
		n, _ := res.RowsAffected()
		demoted = int(n)

		created, err := s.insertTasks(ctx, tx, []model.NewTask{nt})
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
