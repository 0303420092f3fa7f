package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketline/internal/blob"
	"marketline/internal/config"
	"marketline/internal/db"
	"marketline/internal/engine"
	"marketline/internal/identity"
	"marketline/internal/migrate"
	"marketline/internal/repo"
)

// App wires the database, engine, blob store, and identity gate from a
// workspace config. Every entry point (server, CLI) boots through here.
type App struct {
	Config *config.Config
	Engine engine.Engine
	Gate   identity.JWTGate
	Blobs  *blob.DiskStore
}

// Open boots the application for the given workspace. Migrations run on
// every open; they are idempotent.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if secret := os.Getenv("MARKETLINE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	blobDir := cfg.Uploads.Dir
	if blobDir == "" {
		blobDir = filepath.Join(workspace, ".marketline", "blobs")
	}
	blobs, err := blob.NewDiskStore(blobDir, cfg.Server.BaseURL, []byte(cfg.Auth.JWTSecret))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}

	eng := engine.New(conn, blobs)
	eng.MaxUploadBytes = cfg.MaxUploadBytes()

	gate := identity.JWTGate{
		Secret: []byte(cfg.Auth.JWTSecret),
		Expiry: time.Duration(cfg.Auth.TokenTTLMins) * time.Minute,
		Repo:   repo.Repo{DB: conn},
	}

	return &App{Config: cfg, Engine: eng, Gate: gate, Blobs: blobs}, nil
}

func (a *App) Close() error {
	return a.Engine.DB.Close()
}
