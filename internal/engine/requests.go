package engine

import (
	"context"
	"fmt"

	"marketline/internal/domain"
	"marketline/internal/events"
	"marketline/internal/policy"
	"marketline/internal/repo"
)

// CreateRequest files a solver's bid on an OPEN project. A solver gets
// one request per project, ever.
func (e Engine) CreateRequest(ctx context.Context, actor domain.Actor, projectID, coverLetter string) (domain.Request, error) {
	if err := policy.Allow(actor, policy.RequestCreate, policy.Facts{}); err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Request{}, err
	}
	if p.Status != domain.ProjectOpen {
		return domain.Request{}, fmt.Errorf("%w: project %s is %s, requests are only accepted while OPEN", ErrInvalidState, p.ID, p.Status)
	}
	exists, err := e.Repo.RequestExists(ctx, tx, projectID, actor.ID)
	if err != nil {
		return domain.Request{}, err
	}
	if exists {
		return domain.Request{}, fmt.Errorf("%w: solver already requested project %s", ErrConflict, projectID)
	}
	now := e.stamp()
	req := domain.Request{
		ID:          newID(),
		ProjectID:   projectID,
		SolverID:    actor.ID,
		CoverLetter: coverLetter,
		Status:      domain.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Request{}, fmt.Errorf("%w: solver already requested project %s", ErrConflict, projectID)
		}
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RequestCreated, projectID, "request", req.ID, actor.ID, nil); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// ListRequests returns the bids on a project, newest first. Only the
// owning buyer (or an admin) may see them.
func (e Engine) ListRequests(ctx context.Context, actor domain.Actor, projectID string, page repo.PageFilter) ([]domain.Request, int, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	if err := policy.Allow(actor, policy.RequestList, projectFacts(p)); err != nil {
		return nil, 0, err
	}
	return e.Repo.ListRequests(ctx, repo.RequestFilter{PageFilter: page, ProjectID: projectID})
}

// ListMyRequests returns the calling solver's own bids across projects.
func (e Engine) ListMyRequests(ctx context.Context, actor domain.Actor, page repo.PageFilter) ([]domain.Request, int, error) {
	if err := policy.Allow(actor, policy.RequestListMine, policy.Facts{}); err != nil {
		return nil, 0, err
	}
	return e.Repo.ListRequests(ctx, repo.RequestFilter{PageFilter: page, SolverID: actor.ID})
}

// AcceptRequest is the assignment cascade: the chosen request flips to
// ACCEPTED, every other PENDING request on the project is rejected, and
// the project becomes ASSIGNED to the chosen solver. All or nothing;
// when two accepts race, the guarded updates make the loser fail with
// ErrInvalidState.
func (e Engine) AcceptRequest(ctx context.Context, actor domain.Actor, requestID string) (domain.Request, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, req.ProjectID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := policy.Allow(actor, policy.RequestDecide, projectFacts(p)); err != nil {
		return domain.Request{}, err
	}
	if req.Status != domain.RequestPending {
		return domain.Request{}, fmt.Errorf("%w: request %s is %s, only PENDING requests can be accepted", ErrInvalidState, req.ID, req.Status)
	}
	if p.Status != domain.ProjectOpen {
		return domain.Request{}, fmt.Errorf("%w: project %s is %s, it already has an assigned solver", ErrInvalidState, p.ID, p.Status)
	}
	now := e.stamp()
	ok, err := e.Repo.SetRequestStatus(ctx, tx, req.ID, domain.RequestAccepted, now)
	if err != nil {
		return domain.Request{}, fmt.Errorf("accept request: %w", err)
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: request %s is no longer PENDING", ErrInvalidState, req.ID)
	}
	rejected, err := e.Repo.RejectOtherPendingRequests(ctx, tx, p.ID, req.ID, now)
	if err != nil {
		return domain.Request{}, fmt.Errorf("reject competing requests: %w", err)
	}
	ok, err = e.Repo.AssignProject(ctx, tx, p.ID, req.SolverID, now)
	if err != nil {
		return domain.Request{}, fmt.Errorf("assign project: %w", err)
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: project %s is no longer OPEN", ErrInvalidState, p.ID)
	}
	if err := e.Events.Append(ctx, tx, events.RequestAccepted, p.ID, "request", req.ID, actor.ID, events.EventPayload{
		"solver_id":         req.SolverID,
		"rejected_requests": rejected,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	req.Status = domain.RequestAccepted
	req.UpdatedAt = now
	return req, nil
}

// RejectRequest declines a single PENDING bid. No cascade.
func (e Engine) RejectRequest(ctx context.Context, actor domain.Actor, requestID string) (domain.Request, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, req.ProjectID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := policy.Allow(actor, policy.RequestDecide, projectFacts(p)); err != nil {
		return domain.Request{}, err
	}
	if req.Status != domain.RequestPending {
		return domain.Request{}, fmt.Errorf("%w: request %s is %s, only PENDING requests can be rejected", ErrInvalidState, req.ID, req.Status)
	}
	now := e.stamp()
	ok, err := e.Repo.SetRequestStatus(ctx, tx, req.ID, domain.RequestRejected, now)
	if err != nil {
		return domain.Request{}, fmt.Errorf("reject request: %w", err)
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: request %s is no longer PENDING", ErrInvalidState, req.ID)
	}
	if err := e.Events.Append(ctx, tx, events.RequestRejected, p.ID, "request", req.ID, actor.ID, nil); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	req.Status = domain.RequestRejected
	req.UpdatedAt = now
	return req, nil
}
