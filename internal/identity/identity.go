// Package identity resolves inbound credentials to a verified actor. The
// workflow engine never sees raw credentials; it receives the resolved
// (user id, role) pair.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketline/internal/domain"
	"marketline/internal/repo"
)

// ErrUnauthenticated marks a credential that does not resolve to a user.
var ErrUnauthenticated = errors.New("unauthenticated")

// Gate resolves a bearer credential to an actor.
type Gate interface {
	Resolve(ctx context.Context, credential string) (domain.Actor, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTGate validates HS256 tokens and confirms the subject still exists;
// the role is always read back from the store so a stale token cannot
// carry a revoked role.
type JWTGate struct {
	Secret []byte
	Expiry time.Duration
	Repo   repo.Repo
	Now    func() time.Time
}

func (g JWTGate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g JWTGate) Resolve(ctx context.Context, credential string) (domain.Actor, error) {
	if len(g.Secret) == 0 {
		return domain.Actor{}, errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(credential) == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
	)
	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		return g.Secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	// Token may outlive the user; the store is authoritative.
	u, err := g.Repo.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, ErrUnauthenticated
		}
		return domain.Actor{}, err
	}
	return domain.Actor{ID: u.ID, Role: u.Role}, nil
}

// Issue mints a token for the user. Used by the CLI and the dev login
// endpoint; production token exchange lives outside this system.
func (g JWTGate) Issue(userID string, role domain.Role) (string, error) {
	now := g.now()
	expiry := g.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.Secret)
}
