// Package policy is the authorization gate for every workflow operation.
// It is a pure decision function over (actor, action, ownership facts);
// lifecycle-state preconditions stay in the engine and fail with
// ErrInvalidState there, while a denial here is always a Forbidden.
package policy

import (
	"fmt"

	"marketline/internal/domain"
)

// Action enumerates every guarded operation.
type Action string

const (
	ProjectCreate    Action = "project.create"
	ProjectRead      Action = "project.read"
	ProjectUpdate    Action = "project.update"
	RequestCreate    Action = "request.create"
	RequestList      Action = "request.list"
	RequestListMine  Action = "request.list_mine"
	RequestDecide    Action = "request.decide"
	TaskCreate       Action = "task.create"
	TaskRead         Action = "task.read"
	TaskUpdate       Action = "task.update"
	SubmissionCreate Action = "submission.create"
	SubmissionRead   Action = "submission.read"
	SubmissionReview Action = "submission.review"
	UserList         Action = "user.list"
	UserSetRole      Action = "user.set_role"
)

// Facts are the ownership facts of the target project chain. For actions
// without a target project (ProjectCreate, UserList, ...) they are zero.
type Facts struct {
	BuyerID          string
	AssignedSolverID string
	ProjectStatus    domain.ProjectStatus
}

// ForbiddenError indicates the actor may not perform the action on this
// entity instance.
type ForbiddenError struct {
	Action Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("action %s not permitted", e.Action)
}

func deny(action Action) error { return ForbiddenError{Action: action} }

func (f Facts) ownedBy(actorID string) bool    { return f.BuyerID == actorID }
func (f Facts) assignedTo(actorID string) bool { return f.AssignedSolverID == actorID }

// Allow returns nil when the actor may perform action against the entity
// described by facts, and ForbiddenError otherwise. It never touches
// storage.
func Allow(actor domain.Actor, action Action, f Facts) error {
	switch action {
	case ProjectCreate:
		if actor.Role == domain.RoleBuyer {
			return nil
		}
	case ProjectRead:
		switch actor.Role {
		case domain.RoleAdmin:
			return nil
		case domain.RoleBuyer:
			if f.ownedBy(actor.ID) {
				return nil
			}
		case domain.RoleSolver:
			// Solvers browse OPEN projects and see their own assignment.
			if f.ProjectStatus == domain.ProjectOpen || f.assignedTo(actor.ID) {
				return nil
			}
		}
	case ProjectUpdate:
		if actor.Role == domain.RoleBuyer && f.ownedBy(actor.ID) {
			return nil
		}
	case RequestCreate:
		if actor.Role == domain.RoleSolver {
			return nil
		}
	case RequestList:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.Role == domain.RoleBuyer && f.ownedBy(actor.ID) {
			return nil
		}
	case RequestDecide:
		if actor.Role == domain.RoleBuyer && f.ownedBy(actor.ID) {
			return nil
		}
	case RequestListMine:
		if actor.Role == domain.RoleSolver {
			return nil
		}
	case TaskCreate, TaskUpdate, SubmissionCreate:
		if actor.Role == domain.RoleSolver && f.assignedTo(actor.ID) {
			return nil
		}
	case TaskRead, SubmissionRead:
		switch actor.Role {
		case domain.RoleAdmin:
			return nil
		case domain.RoleBuyer:
			if f.ownedBy(actor.ID) {
				return nil
			}
		case domain.RoleSolver:
			if f.assignedTo(actor.ID) {
				return nil
			}
		}
	case SubmissionReview:
		if actor.Role == domain.RoleBuyer && f.ownedBy(actor.ID) {
			return nil
		}
	case UserList, UserSetRole:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
	}
	return deny(action)
}
