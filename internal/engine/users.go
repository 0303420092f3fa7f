package engine

import (
	"context"
	"fmt"

	"marketline/internal/domain"
	"marketline/internal/events"
	"marketline/internal/policy"
	"marketline/internal/repo"
)

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	Email  string
	Name   string
	Bio    string
	Skills []string
	Role   domain.Role
}

// CreateUser registers an account. It is not policy-gated: it backs the
// self-service sign-up path and the seed command.
func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Email == "" {
		return domain.User{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if opts.Name == "" {
		return domain.User{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !opts.Role.Valid() {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, opts.Role)
	}
	now := e.stamp()
	u := domain.User{
		ID:        newID(),
		Email:     opts.Email,
		Name:      opts.Name,
		Bio:       opts.Bio,
		Skills:    opts.Skills,
		Role:      opts.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("%w: email %s is already registered", ErrConflict, opts.Email)
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.UserCreated, "", "user", u.ID, u.ID, events.EventPayload{"role": string(u.Role)}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// ProfilePatch carries only the profile fields the caller wants to
// change. Email and role are not profile fields.
type ProfilePatch struct {
	Name   *string
	Bio    *string
	Skills *[]string
}

// UpdateProfile lets any authenticated user edit their own name, bio and
// skills.
func (e Engine) UpdateProfile(ctx context.Context, actor domain.Actor, patch ProfilePatch) (domain.User, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserTx(ctx, tx, actor.ID)
	if err != nil {
		return domain.User{}, err
	}
	if patch.Name != nil {
		if *patch.Name == "" {
			return domain.User{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
		}
		u.Name = *patch.Name
	}
	if patch.Bio != nil {
		u.Bio = *patch.Bio
	}
	if patch.Skills != nil {
		u.Skills = *patch.Skills
	}
	u.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateUserProfile(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.UserProfileUpdated, "", "user", u.ID, actor.ID, nil); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, actor domain.Actor, page repo.PageFilter) ([]domain.User, int, error) {
	if err := policy.Allow(actor, policy.UserList, policy.Facts{}); err != nil {
		return nil, 0, err
	}
	return e.Repo.ListUsers(ctx, page)
}

// UpdateUserRole lets an admin switch a user between BUYER and SOLVER.
// Admins cannot change their own role or demote another admin.
func (e Engine) UpdateUserRole(ctx context.Context, actor domain.Actor, userID string, role domain.Role) (domain.User, error) {
	if err := policy.Allow(actor, policy.UserSetRole, policy.Facts{}); err != nil {
		return domain.User{}, err
	}
	if role != domain.RoleBuyer && role != domain.RoleSolver {
		return domain.User{}, fmt.Errorf("%w: role must be BUYER or SOLVER", ErrValidation)
	}
	if userID == actor.ID {
		return domain.User{}, fmt.Errorf("%w: cannot change your own role", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Role == domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("%w: cannot change the role of an admin", ErrValidation)
	}
	now := e.stamp()
	if err := e.Repo.SetUserRole(ctx, tx, u.ID, role, now); err != nil {
		return domain.User{}, fmt.Errorf("set user role: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.UserRoleChanged, "", "user", u.ID, actor.ID, events.EventPayload{
		"from": string(u.Role),
		"to":   string(role),
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	u.Role = role
	u.UpdatedAt = now
	return u, nil
}
