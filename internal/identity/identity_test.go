package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketline/internal/db"
	"marketline/internal/domain"
	"marketline/internal/identity"
	"marketline/internal/migrate"
	"marketline/internal/repo"
)

func newGate(t *testing.T) (identity.JWTGate, domain.User) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	r := repo.Repo{DB: conn}
	u := domain.User{
		ID:        "user-1",
		Email:     "solver@example.com",
		Name:      "Solver",
		Role:      domain.RoleSolver,
		CreatedAt: "2026-03-01T00:00:00Z",
		UpdatedAt: "2026-03-01T00:00:00Z",
	}
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertUser(context.Background(), tx, u); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	gate := identity.JWTGate{
		Secret: []byte("test-secret"),
		Expiry: 15 * time.Minute,
		Repo:   r,
	}
	return gate, u
}

func TestIssueAndResolve(t *testing.T) {
	gate, u := newGate(t)
	token, err := gate.Issue(u.ID, u.Role)
	if err != nil {
		t.Fatal(err)
	}
	actor, err := gate.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.ID != u.ID || actor.Role != domain.RoleSolver {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	gate, u := newGate(t)

	if _, err := gate.Resolve(context.Background(), ""); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("empty token: got %v", err)
	}
	if _, err := gate.Resolve(context.Background(), "not-a-jwt"); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("garbage token: got %v", err)
	}

	other := gate
	other.Secret = []byte("different-secret")
	token, err := other.Issue(u.ID, u.Role)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Resolve(context.Background(), token); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("wrong signature: got %v", err)
	}
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	gate, u := newGate(t)
	issued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gate.Now = func() time.Time { return issued }
	token, err := gate.Issue(u.ID, u.Role)
	if err != nil {
		t.Fatal(err)
	}
	gate.Now = func() time.Time { return issued.Add(16 * time.Minute) }
	if _, err := gate.Resolve(context.Background(), token); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("expired token: got %v", err)
	}
}

func TestResolveRejectsUnknownSubject(t *testing.T) {
	gate, _ := newGate(t)
	token, err := gate.Issue("ghost", domain.RoleBuyer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Resolve(context.Background(), token); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("unknown subject: got %v", err)
	}
}

func TestRoleComesFromStore(t *testing.T) {
	gate, u := newGate(t)
	// Token claims SOLVER, but the store was updated to BUYER since.
	token, err := gate.Issue(u.ID, u.Role)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := gate.Repo.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := gate.Repo.SetUserRole(context.Background(), tx, u.ID, domain.RoleBuyer, "2026-03-01T01:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	actor, err := gate.Resolve(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if actor.Role != domain.RoleBuyer {
		t.Fatalf("actor role = %s, want store-authoritative BUYER", actor.Role)
	}
}
