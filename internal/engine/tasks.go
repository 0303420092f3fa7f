package engine

import (
	"context"
	"fmt"

	"marketline/internal/domain"
	"marketline/internal/events"
	"marketline/internal/policy"
	"marketline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Deadline    *string
}

// CreateTask adds a work item to an ASSIGNED project. Only the assigned
// solver breaks the project down into tasks.
func (e Engine) CreateTask(ctx context.Context, actor domain.Actor, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if p.Status != domain.ProjectAssigned {
		return domain.Task{}, fmt.Errorf("%w: project %s is %s, tasks can only be added while ASSIGNED", ErrInvalidState, p.ID, p.Status)
	}
	if err := policy.Allow(actor, policy.TaskCreate, projectFacts(p)); err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:          newID(),
		ProjectID:   p.ID,
		CreatedBy:   actor.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Deadline:    opts.Deadline,
		Status:      domain.TaskInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, p.ID, "task", t.ID, actor.ID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := policy.Allow(actor, policy.TaskRead, projectFacts(p)); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, actor domain.Actor, projectID string, page repo.PageFilter) ([]domain.Task, int, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	if err := policy.Allow(actor, policy.TaskRead, projectFacts(p)); err != nil {
		return nil, 0, err
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilter{PageFilter: page, ProjectID: projectID})
}

// TaskPatch carries only the fields the caller wants to change. Status
// is deliberately absent; it moves through the submission lifecycle.
type TaskPatch struct {
	Title       *string
	Description *string
	Deadline    *string
}

func (e Engine) UpdateTask(ctx context.Context, actor domain.Actor, id string, patch TaskPatch) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := policy.Allow(actor, policy.TaskUpdate, projectFacts(p)); err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.TaskCompleted {
		return domain.Task{}, fmt.Errorf("%w: task %s is COMPLETED and can no longer be edited", ErrInvalidState, t.ID)
	}
	if patch.Title != nil {
		if *patch.Title == "" {
			return domain.Task{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
		}
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Deadline != nil {
		t.Deadline = patch.Deadline
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskFields(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, p.ID, "task", t.ID, actor.ID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
