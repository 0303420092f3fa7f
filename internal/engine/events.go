package engine

import (
	"context"

	"marketline/internal/domain"
	"marketline/internal/policy"
)

// ListEvents returns the audit trail. Scoped to a project it is visible
// to anyone who can read that project; unscoped it is admin only.
func (e Engine) ListEvents(ctx context.Context, actor domain.Actor, projectID string, limit int) ([]domain.Event, error) {
	if projectID == "" {
		if actor.Role != domain.RoleAdmin {
			return nil, policy.ForbiddenError{Action: "events.list"}
		}
		return e.Repo.LatestEvents(ctx, limit, "", "", "")
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Allow(actor, policy.ProjectRead, projectFacts(p)); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit, projectID, "", "")
}
