package repo

import (
	"context"
	"database/sql"

	"marketline/internal/domain"
)

const requestColumns = `id,project_id,solver_id,cover_letter,status,created_at,updated_at`

func scanRequest(row *sql.Row) (domain.Request, error) {
	var req domain.Request
	var cover sql.NullString
	err := row.Scan(&req.ID, &req.ProjectID, &req.SolverID, &cover, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	if cover.Valid {
		req.CoverLetter = cover.String
	}
	return req, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?)`,
		req.ID, req.ProjectID, req.SolverID, nullable(req.CoverLetter), req.Status, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM project_requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM project_requests WHERE id=?`, id))
}

// RequestExists reports whether the solver already has a bid on the
// project, regardless of its status.
func (r Repo) RequestExists(ctx context.Context, tx *sql.Tx, projectID, solverID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM project_requests WHERE project_id=? AND solver_id=? LIMIT 1`, projectID, solverID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// SetRequestStatus transitions a single request out of PENDING. Guarded on
// the current status so a second decision on the same request affects zero
// rows.
func (r Repo) SetRequestStatus(ctx context.Context, tx *sql.Tx, id string, status domain.RequestStatus, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE project_requests SET status=?, updated_at=? WHERE id=? AND status=?`,
		status, now, id, domain.RequestPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RejectOtherPendingRequests bulk-rejects every other PENDING bid on the
// project, as one write inside the acceptance transaction.
func (r Repo) RejectOtherPendingRequests(ctx context.Context, tx *sql.Tx, projectID, acceptedID, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE project_requests SET status=?, updated_at=? WHERE project_id=? AND id<>? AND status=?`,
		domain.RequestRejected, now, projectID, acceptedID, domain.RequestPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequestFilter lists either a project's bids (buyer view) or a solver's
// own bids.
type RequestFilter struct {
	PageFilter
	ProjectID string
	SolverID  string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilter) ([]domain.Request, int, error) {
	where := `WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.SolverID != "" {
		where = `WHERE solver_id=?`
		args = []any{f.SolverID}
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM project_requests `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset, limit := f.offsetLimit()
	query := `SELECT ` + requestColumns + ` FROM project_requests ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		var req domain.Request
		var cover sql.NullString
		if err := rows.Scan(&req.ID, &req.ProjectID, &req.SolverID, &cover, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if cover.Valid {
			req.CoverLetter = cover.String
		}
		res = append(res, req)
	}
	return res, total, rows.Err()
}
