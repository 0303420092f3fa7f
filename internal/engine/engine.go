package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketline/internal/blob"
	"marketline/internal/domain"
	"marketline/internal/events"
	"marketline/internal/policy"
	"marketline/internal/repo"
)

// Engine executes every workflow operation as a single transaction:
// authorize, check lifecycle preconditions, write, append the audit
// event, commit. Callers never see partially applied cascades.
type Engine struct {
	DB             *sql.DB
	Repo           repo.Repo
	Events         events.Writer
	Blobs          blob.Store
	MaxUploadBytes int64
	Now            func() time.Time
}

func New(db *sql.DB, blobs blob.Store) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Blobs:  blobs,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string { return uuid.New().String() }

func projectFacts(p domain.Project) policy.Facts {
	f := policy.Facts{BuyerID: p.BuyerID, ProjectStatus: p.Status}
	if p.AssignedSolverID != nil {
		f.AssignedSolverID = *p.AssignedSolverID
	}
	return f
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Title       string
	Description string
	Budget      *float64
	Deadline    *string
}

func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, opts ProjectCreateOptions) (domain.Project, error) {
	if err := policy.Allow(actor, policy.ProjectCreate, policy.Facts{}); err != nil {
		return domain.Project{}, err
	}
	if opts.Title == "" {
		return domain.Project{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if opts.Budget != nil && *opts.Budget < 0 {
		return domain.Project{}, fmt.Errorf("%w: budget must not be negative", ErrValidation)
	}
	now := e.stamp()
	p := domain.Project{
		ID:          newID(),
		BuyerID:     actor.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Budget:      opts.Budget,
		Deadline:    opts.Deadline,
		Status:      domain.ProjectOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actor.ID, events.EventPayload{"title": p.Title}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, actor domain.Actor, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := policy.Allow(actor, policy.ProjectRead, projectFacts(p)); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects scopes results to the actor: admins see everything,
// buyers their own projects, solvers the OPEN board plus their own
// assignments.
func (e Engine) ListProjects(ctx context.Context, actor domain.Actor, page repo.PageFilter) ([]domain.Project, int, error) {
	f := repo.ProjectFilter{PageFilter: page}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleBuyer:
		f.BuyerID = actor.ID
	case domain.RoleSolver:
		f.VisibleToActor = actor.ID
	default:
		return nil, 0, policy.ForbiddenError{Action: policy.ProjectRead}
	}
	return e.Repo.ListProjects(ctx, f)
}

// ProjectPatch carries only the fields the caller wants to change.
type ProjectPatch struct {
	Title       *string
	Description *string
	Budget      *float64
	Deadline    *string
}

// UpdateProject edits metadata on an OPEN project. Once a solver is
// assigned the terms are frozen.
func (e Engine) UpdateProject(ctx context.Context, actor domain.Actor, id string, patch ProjectPatch) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := policy.Allow(actor, policy.ProjectUpdate, projectFacts(p)); err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.ProjectOpen {
		return domain.Project{}, fmt.Errorf("%w: project %s is %s, only OPEN projects can be edited", ErrInvalidState, p.ID, p.Status)
	}
	if patch.Title != nil {
		if *patch.Title == "" {
			return domain.Project{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
		}
		p.Title = *patch.Title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Budget != nil {
		if *patch.Budget < 0 {
			return domain.Project{}, fmt.Errorf("%w: budget must not be negative", ErrValidation)
		}
		p.Budget = patch.Budget
	}
	if patch.Deadline != nil {
		p.Deadline = patch.Deadline
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProjectFields(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectUpdated, p.ID, "project", p.ID, actor.ID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}
