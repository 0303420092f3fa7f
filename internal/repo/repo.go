package repo

import (
	"context"
	"database/sql"
	"errors"

	sqlite3 "modernc.org/sqlite"

	"marketline/internal/domain"
)

// Repo is the workflow store. Methods taking *sql.Tx participate in the
// caller's transaction; the rest read through the shared connection.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a storage-level uniqueness
// failure (duplicate bid, second pending submission). The engine maps it
// to its Conflict error.
func IsUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == 19 // SQLITE_CONSTRAINT
	}
	return false
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// PageFilter is the pagination window shared by list operations. The core
// supplies the filter predicate and total count; rendering of pages is the
// caller's concern.
type PageFilter struct {
	Page  int
	Limit int
}

func (f PageFilter) offsetLimit() (int, int) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	return (page - 1) * limit, limit
}

const projectColumns = `id,buyer_id,assigned_solver_id,title,description,budget,deadline,status,created_at,updated_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var solver, description, deadline sql.NullString
	var budget sql.NullFloat64
	err := row.Scan(&p.ID, &p.BuyerID, &solver, &p.Title, &description, &budget, &deadline, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if solver.Valid {
		p.AssignedSolverID = &solver.String
	}
	if description.Valid {
		p.Description = description.String
	}
	if budget.Valid {
		p.Budget = &budget.Float64
	}
	if deadline.Valid {
		p.Deadline = &deadline.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.BuyerID, nullableStringPtr(p.AssignedSolverID), p.Title, nullable(p.Description),
		nullableFloatPtr(p.Budget), nullableStringPtr(p.Deadline), p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// UpdateProjectFields persists mutable project metadata. Status and
// assignment changes go through the guarded cascade updates instead.
func (r Repo) UpdateProjectFields(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, description=?, budget=?, deadline=?, updated_at=? WHERE id=?`,
		p.Title, nullable(p.Description), nullableFloatPtr(p.Budget), nullableStringPtr(p.Deadline), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignProject is the compare-and-swap at the heart of request
// acceptance: it only succeeds while the project is still OPEN, so of two
// concurrent accepts exactly one wins and the loser observes zero
// affected rows.
func (r Repo) AssignProject(ctx context.Context, tx *sql.Tx, projectID, solverID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET assigned_solver_id=?, status=?, updated_at=? WHERE id=? AND status=?`,
		solverID, domain.ProjectAssigned, now, projectID, domain.ProjectOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteProject moves an ASSIGNED project to COMPLETED.
func (r Repo) CompleteProject(ctx context.Context, tx *sql.Tx, projectID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.ProjectCompleted, now, projectID, domain.ProjectAssigned)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ProjectFilter selects the projects visible to a caller. Exactly one of
// the role-shaped fields is set by the engine.
type ProjectFilter struct {
	PageFilter
	BuyerID        string // buyer: own projects only
	VisibleToActor string // solver: OPEN projects or own assignment
}

func (f ProjectFilter) where() (string, []any) {
	switch {
	case f.BuyerID != "":
		return `WHERE buyer_id=?`, []any{f.BuyerID}
	case f.VisibleToActor != "":
		return `WHERE status=? OR assigned_solver_id=?`, []any{domain.ProjectOpen, f.VisibleToActor}
	default:
		return ``, nil
	}
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, int, error) {
	where, args := f.where()
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM projects `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset, limit := f.offsetLimit()
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var solver, description, deadline sql.NullString
		var budget sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.BuyerID, &solver, &p.Title, &description, &budget, &deadline, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if solver.Valid {
			p.AssignedSolverID = &solver.String
		}
		if description.Valid {
			p.Description = description.String
		}
		if budget.Valid {
			p.Budget = &budget.Float64
		}
		if deadline.Valid {
			p.Deadline = &deadline.String
		}
		res = append(res, p)
	}
	return res, total, rows.Err()
}
