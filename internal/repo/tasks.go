package repo

import (
	"context"
	"database/sql"

	"marketline/internal/domain"
)

const taskColumns = `id,project_id,created_by,title,description,deadline,status,created_at,updated_at`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var description, deadline sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.CreatedBy, &t.Title, &description, &deadline, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.CreatedBy, t.Title, nullable(t.Description), nullableStringPtr(t.Deadline),
		t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// UpdateTaskFields persists task metadata; status moves through
// SetTaskStatus only.
func (r Repo) UpdateTaskFields(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, deadline=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullableStringPtr(t.Deadline), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskStatus is a guarded transition: the row only moves if it is still
// in the expected state, so a concurrent cascade cannot be overwritten.
func (r Repo) SetTaskStatus(ctx context.Context, tx *sql.Tx, id string, from []domain.TaskStatus, to domain.TaskStatus, now string) (bool, error) {
	query := `UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status IN (?`
	args := []any{to, now, id}
	for i, s := range from {
		if i > 0 {
			query += `,?`
		}
		args = append(args, s)
	}
	query += `)`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountIncompleteTasks counts the project's tasks not yet COMPLETED. Runs
// on the transaction so it observes writes made earlier in the same
// cascade.
func (r Repo) CountIncompleteTasks(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=? AND status<>?`,
		projectID, domain.TaskCompleted).Scan(&n)
	return n, err
}

type TaskFilter struct {
	PageFilter
	ProjectID string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=?`, f.ProjectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset, limit := f.offsetLimit()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		f.ProjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var description, deadline sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.CreatedBy, &t.Title, &description, &deadline, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if description.Valid {
			t.Description = description.String
		}
		if deadline.Valid {
			t.Deadline = &deadline.String
		}
		res = append(res, t)
	}
	return res, total, rows.Err()
}
