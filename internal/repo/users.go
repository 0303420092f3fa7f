package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"marketline/internal/domain"
)

const userColumns = `id,email,name,bio,skills,role,created_at,updated_at`

func marshalSkills(skills []string) any {
	if len(skills) == 0 {
		return nil
	}
	data, _ := json.Marshal(skills)
	return string(data)
}

func unmarshalSkills(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var skills []string
	if err := json.Unmarshal([]byte(raw.String), &skills); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	return skills, nil
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var bio, skills sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Name, &bio, &skills, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if bio.Valid {
		u.Bio = bio.String
	}
	if u.Skills, err = unmarshalSkills(skills); err != nil {
		return u, err
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.Name, nullable(u.Bio), marshalSkills(u.Skills), u.Role, u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

// UpdateUserProfile persists the mutable profile fields. Email and role
// move through their own operations.
func (r Repo) UpdateUserProfile(ctx context.Context, tx *sql.Tx, u domain.User) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET name=?, bio=?, skills=?, updated_at=? WHERE id=?`,
		u.Name, nullable(u.Bio), marshalSkills(u.Skills), u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetUserRole(ctx context.Context, tx *sql.Tx, id string, role domain.Role, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET role=?, updated_at=? WHERE id=?`, role, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context, f PageFilter) ([]domain.User, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset, limit := f.offsetLimit()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var bio, skills sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &bio, &skills, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if bio.Valid {
			u.Bio = bio.String
		}
		if u.Skills, err = unmarshalSkills(skills); err != nil {
			return nil, 0, err
		}
		res = append(res, u)
	}
	return res, total, rows.Err()
}
