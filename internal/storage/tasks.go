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

const taskColumns = `id, seq, run_id, robot_id, type, priority, status,
	origin_x, origin_y, destination_x, destination_y, created_at, assigned_at, completed_at`

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.Seq, &t.RunID, &t.RobotID, &t.Type, &t.Priority, &t.Status,
		&t.Origin.X, &t.Origin.Y, &t.Destination.X, &t.Destination.Y,
		&t.CreatedAt, &t.AssignedAt, &t.CompletedAt)
	return t, err
}

func collectTasks(rows pgx.Rows) ([]model.Task, error) {
	defer rows.Close()
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func insertTasks(ctx context.Context, tx pgx.Tx, in []model.NewTask) ([]model.Task, error) {
	batch := &pgx.Batch{}
	for _, nt := range in {
		batch.Queue(
			`INSERT INTO tasks (id, run_id, type, priority, status, origin_x, origin_y, destination_x, destination_y)
			 VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)
			 RETURNING `+taskColumns,
			uuid.New(), nt.RunID, nt.Type, nt.Priority,
			nt.Origin.X, nt.Origin.Y, nt.Destination.X, nt.Destination.Y,
		)
	}
	results := tx.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	out := make([]model.Task, 0, len(in))
	for range in {
		t, err := scanTask(results.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("storage: insert task: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateTasks inserts pending tasks atomically, preserving input order in seq.
func (db *DB) CreateTasks(ctx context.Context, in []model.NewTask) ([]model.Task, error) {
	if len(in) == 0 {
		return nil, nil
	}
	var out []model.Task
	err := db.withTx(ctx, "create tasks", func(tx pgx.Tx) error {
		var err error
		out, err = insertTasks(ctx, tx, in)
		return err
	})
	return out, err
}

// GetTask retrieves a task by ID.
func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	t, err := scanTask(db.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	return t, nil
}

// ListPendingTasks returns pending tasks by priority descending, then insertion order.
func (db *DB) ListPendingTasks(ctx context.Context, scope RunScope) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending'`
	args := []any{}
	if scope.RunID != nil {
		query += ` AND run_id = $1`
		args = append(args, *scope.RunID)
	}
	query += ` ORDER BY priority DESC, seq ASC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListTasks returns every task of a run in insertion order.
func (db *DB) ListTasks(ctx context.Context, runID uuid.UUID) ([]model.Task, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	return collectTasks(rows)
}

// CountFailedTasksSince counts failed tasks created at or after since.
func (db *DB) CountFailedTasksSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = 'failed' AND created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count failed tasks: %w", err)
	}
	return n, nil
}

// AssignTask claims the task, then the robot, with conditional updates in one tx.
func (db *DB) AssignTask(ctx context.Context, taskID, robotID uuid.UUID, minBattery float64) (model.Task, error) {
	var task model.Task
	err := db.withTx(ctx, "assign task", func(tx pgx.Tx) error {
		var err error
		task, err = scanTask(tx.QueryRow(ctx,
			`UPDATE tasks SET status = 'assigned', robot_id = $1, assigned_at = now()
			 WHERE id = $2 AND status = 'pending'
			 RETURNING `+taskColumns,
			robotID, taskID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrTaskUnavailable, taskID)
			}
			return fmt.Errorf("storage: claim task: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE robots SET status = 'working', current_task_id = $1, last_seen = now()
			 WHERE id = $2 AND status NOT IN ('offline', 'charging')
			   AND current_task_id IS NULL AND battery_level >= $3`,
			taskID, robotID, minBattery,
		)
		if err != nil {
			return fmt.Errorf("storage: claim robot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrRobotUnavailable, robotID)
		}
		return nil
	})
	return task, err
}

// StartTask moves an assigned task to working.
func (db *DB) StartTask(ctx context.Context, taskID uuid.UUID) (model.Task, error) {
	t, err := scanTask(db.pool.QueryRow(ctx,
		`UPDATE tasks SET status = 'working' WHERE id = $1 AND status = 'assigned'
		 RETURNING `+taskColumns, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, db.taskTransitionError(ctx, taskID)
		}
		return model.Task{}, fmt.Errorf("storage: start task: %w", err)
	}
	return t, nil
}

// FinishTask completes or fails a task and frees its robot.
// Completion requires assigned or working; failure is also allowed from pending.
func (db *DB) FinishTask(ctx context.Context, taskID uuid.UUID, status model.TaskStatus) (model.Task, error) {
	from := []string{string(model.TaskAssigned), string(model.TaskWorking)}
	if status == model.TaskFailed {
		from = append(from, string(model.TaskPending))
	}

	var task model.Task
	err := db.withTx(ctx, "finish task", func(tx pgx.Tx) error {
		var err error
		task, err = scanTask(tx.QueryRow(ctx,
			`UPDATE tasks SET status = $1, completed_at = now()
			 WHERE id = $2 AND status = ANY($3)
			 RETURNING `+taskColumns,
			string(status), taskID, from,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return db.taskTransitionError(ctx, taskID)
			}
			return fmt.Errorf("storage: finish task: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE robots SET status = 'idle', current_task_id = NULL, last_seen = now()
			 WHERE current_task_id = $1`, taskID,
		); err != nil {
			return fmt.Errorf("storage: free robot: %w", err)
		}
		return nil
	})
	return task, err
}

func (db *DB) taskTransitionError(ctx context.Context, taskID uuid.UUID) error {
	t, err := db.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s", ErrTaskUnavailable, taskID, t.Status)
}
