package repo

import (
	"context"
	"database/sql"

	"marketline/internal/domain"
)

const submissionColumns = `id,task_id,blob_ref,file_name,file_size,notes,reviewer_notes,status,submitted_at,reviewed_at`

func scanSubmission(row *sql.Row) (domain.Submission, error) {
	var s domain.Submission
	var notes, reviewerNotes, reviewedAt sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.BlobRef, &s.FileName, &s.FileSize, &notes, &reviewerNotes, &s.Status, &s.SubmittedAt, &reviewedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	if reviewerNotes.Valid {
		s.ReviewerNotes = reviewerNotes.String
	}
	if reviewedAt.Valid {
		s.ReviewedAt = &reviewedAt.String
	}
	return s, nil
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.BlobRef, s.FileName, s.FileSize, nullable(s.Notes), nullable(s.ReviewerNotes),
		s.Status, s.SubmittedAt, nullableStringPtr(s.ReviewedAt))
	return err
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return scanSubmission(r.DB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

// HasPendingSubmission reports whether the task already has a submission
// awaiting review. The partial unique index backs this check up at commit
// time.
func (r Repo) HasPendingSubmission(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE task_id=? AND status=? LIMIT 1`,
		taskID, domain.SubmissionPendingReview)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ReviewSubmission moves a PENDING_REVIEW submission to its terminal
// status, recording reviewer notes and the review time. Guarded on the
// current status.
func (r Repo) ReviewSubmission(ctx context.Context, tx *sql.Tx, id string, status domain.SubmissionStatus, reviewerNotes, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE submissions SET status=?, reviewer_notes=?, reviewed_at=? WHERE id=? AND status=?`,
		status, nullable(reviewerNotes), now, id, domain.SubmissionPendingReview)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type SubmissionFilter struct {
	PageFilter
	TaskID string
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]domain.Submission, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM submissions WHERE task_id=?`, f.TaskID).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset, limit := f.offsetLimit()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?`,
		f.TaskID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var notes, reviewerNotes, reviewedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.TaskID, &s.BlobRef, &s.FileName, &s.FileSize, &notes, &reviewerNotes, &s.Status, &s.SubmittedAt, &reviewedAt); err != nil {
			return nil, 0, err
		}
		if notes.Valid {
			s.Notes = notes.String
		}
		if reviewerNotes.Valid {
			s.ReviewerNotes = reviewerNotes.String
		}
		if reviewedAt.Valid {
			s.ReviewedAt = &reviewedAt.String
		}
		res = append(res, s)
	}
	return res, total, rows.Err()
}
