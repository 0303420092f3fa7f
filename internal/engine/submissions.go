package engine

import (
	"context"
	"fmt"
	"time"

	"marketline/internal/blob"
	"marketline/internal/domain"
	"marketline/internal/events"
	"marketline/internal/policy"
	"marketline/internal/repo"
)

// SubmissionUpload is the archive a solver delivers against a task.
type SubmissionUpload struct {
	TaskID      string
	FileName    string
	ContentType string
	Data        []byte
	Notes       string
}

// CreateSubmission stores the delivered archive and flips the task to
// SUBMITTED. The blob write happens before the transaction: an orphaned
// blob is harmless, a submission row pointing at a missing blob is not.
func (e Engine) CreateSubmission(ctx context.Context, actor domain.Actor, up SubmissionUpload) (domain.Submission, error) {
	t, err := e.Repo.GetTask(ctx, up.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := policy.Allow(actor, policy.SubmissionCreate, projectFacts(p)); err != nil {
		return domain.Submission{}, err
	}
	if t.Status != domain.TaskInProgress && t.Status != domain.TaskRevisionRequested {
		return domain.Submission{}, fmt.Errorf("%w: task %s is %s, submissions are only accepted while IN_PROGRESS or REVISION_REQUESTED", ErrInvalidState, t.ID, t.Status)
	}
	if err := blob.CheckZip(up.Data, up.FileName, up.ContentType, e.MaxUploadBytes); err != nil {
		return domain.Submission{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ref, err := e.Blobs.Put(ctx, up.Data, t.ProjectID+"/"+t.ID)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	pending, err := e.Repo.HasPendingSubmission(ctx, tx, t.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	if pending {
		return domain.Submission{}, fmt.Errorf("%w: task %s already has a submission awaiting review", ErrConflict, t.ID)
	}
	now := e.stamp()
	s := domain.Submission{
		ID:          newID(),
		TaskID:      t.ID,
		BlobRef:     ref,
		FileName:    up.FileName,
		FileSize:    int64(len(up.Data)),
		Notes:       up.Notes,
		Status:      domain.SubmissionPendingReview,
		SubmittedAt: now,
	}
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Submission{}, fmt.Errorf("%w: task %s already has a submission awaiting review", ErrConflict, t.ID)
		}
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	ok, err := e.Repo.SetTaskStatus(ctx, tx, t.ID, []domain.TaskStatus{domain.TaskInProgress, domain.TaskRevisionRequested}, domain.TaskSubmitted, now)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("mark task submitted: %w", err)
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: task %s changed state during submission", ErrInvalidState, t.ID)
	}
	if err := e.Events.Append(ctx, tx, events.SubmissionCreated, p.ID, "submission", s.ID, actor.ID, events.EventPayload{
		"task_id":   t.ID,
		"file_name": s.FileName,
		"file_size": s.FileSize,
	}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

func (e Engine) GetSubmission(ctx context.Context, actor domain.Actor, id string) (domain.Submission, error) {
	s, err := e.Repo.GetSubmission(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	if _, err := e.authorizeSubmissionRead(ctx, actor, s); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

func (e Engine) ListSubmissions(ctx context.Context, actor domain.Actor, taskID string, page repo.PageFilter) ([]domain.Submission, int, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, 0, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, 0, err
	}
	if err := policy.Allow(actor, policy.SubmissionRead, projectFacts(p)); err != nil {
		return nil, 0, err
	}
	return e.Repo.ListSubmissions(ctx, repo.SubmissionFilter{PageFilter: page, TaskID: taskID})
}

// DownloadURL returns a short-lived signed link for the submission's
// archive.
func (e Engine) DownloadURL(ctx context.Context, actor domain.Actor, submissionID string, ttl time.Duration) (string, error) {
	s, err := e.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if _, err := e.authorizeSubmissionRead(ctx, actor, s); err != nil {
		return "", err
	}
	url, err := e.Blobs.SignedURL(s.BlobRef, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return url, nil
}

func (e Engine) authorizeSubmissionRead(ctx context.Context, actor domain.Actor, s domain.Submission) (domain.Project, error) {
	t, err := e.Repo.GetTask(ctx, s.TaskID)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := policy.Allow(actor, policy.SubmissionRead, projectFacts(p)); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AcceptSubmission approves the delivered work: the submission becomes
// ACCEPTED, its task COMPLETED, and when that was the last incomplete
// task the whole project completes in the same transaction.
func (e Engine) AcceptSubmission(ctx context.Context, actor domain.Actor, submissionID string) (domain.Submission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, s.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := policy.Allow(actor, policy.SubmissionReview, projectFacts(p)); err != nil {
		return domain.Submission{}, err
	}
	if s.Status != domain.SubmissionPendingReview {
		return domain.Submission{}, fmt.Errorf("%w: submission %s is %s, only PENDING_REVIEW submissions can be reviewed", ErrInvalidState, s.ID, s.Status)
	}
	now := e.stamp()
	ok, err := e.Repo.ReviewSubmission(ctx, tx, s.ID, domain.SubmissionAccepted, "", now)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("accept submission: %w", err)
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: submission %s is no longer PENDING_REVIEW", ErrInvalidState, s.ID)
	}
	ok, err = e.Repo.SetTaskStatus(ctx, tx, t.ID, []domain.TaskStatus{domain.TaskSubmitted}, domain.TaskCompleted, now)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("complete task: %w", err)
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: task %s is not SUBMITTED", ErrInvalidState, t.ID)
	}
	remaining, err := e.Repo.CountIncompleteTasks(ctx, tx, p.ID)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("count incomplete tasks: %w", err)
	}
	if remaining == 0 {
		done, err := e.Repo.CompleteProject(ctx, tx, p.ID, now)
		if err != nil {
			return domain.Submission{}, fmt.Errorf("complete project: %w", err)
		}
		if done {
			if err := e.Events.Append(ctx, tx, events.ProjectCompleted, p.ID, "project", p.ID, actor.ID, nil); err != nil {
				return domain.Submission{}, err
			}
		}
	}
	if err := e.Events.Append(ctx, tx, events.SubmissionAccepted, p.ID, "submission", s.ID, actor.ID, events.EventPayload{"task_id": t.ID}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	s.Status = domain.SubmissionAccepted
	s.ReviewedAt = &now
	return s, nil
}

// RejectSubmission sends the work back for another round: the submission
// becomes REJECTED with the reviewer's notes and the task returns to
// REVISION_REQUESTED so the solver can resubmit.
func (e Engine) RejectSubmission(ctx context.Context, actor domain.Actor, submissionID, reviewerNotes string) (domain.Submission, error) {
	if reviewerNotes == "" {
		return domain.Submission{}, fmt.Errorf("%w: reviewer notes are required when rejecting", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, s.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := policy.Allow(actor, policy.SubmissionReview, projectFacts(p)); err != nil {
		return domain.Submission{}, err
	}
	if s.Status != domain.SubmissionPendingReview {
		return domain.Submission{}, fmt.Errorf("%w: submission %s is %s, only PENDING_REVIEW submissions can be reviewed", ErrInvalidState, s.ID, s.Status)
	}
	now := e.stamp()
	ok, err := e.Repo.ReviewSubmission(ctx, tx, s.ID, domain.SubmissionRejected, reviewerNotes, now)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("reject submission: %w", err)
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: submission %s is no longer PENDING_REVIEW", ErrInvalidState, s.ID)
	}
	ok, err = e.Repo.SetTaskStatus(ctx, tx, t.ID, []domain.TaskStatus{domain.TaskSubmitted}, domain.TaskRevisionRequested, now)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("request revision: %w", err)
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: task %s is not SUBMITTED", ErrInvalidState, t.ID)
	}
	if err := e.Events.Append(ctx, tx, events.SubmissionRejected, p.ID, "submission", s.ID, actor.ID, events.EventPayload{"task_id": t.ID}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	s.Status = domain.SubmissionRejected
	s.ReviewerNotes = reviewerNotes
	s.ReviewedAt = &now
	return s, nil
}
