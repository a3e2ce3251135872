package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mydylms-backend/internal/auth"
	"mydylms-backend/internal/cache"
	"mydylms-backend/internal/components/chrono"
	"mydylms-backend/internal/components/serviceutil"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/content"
	"mydylms-backend/internal/credentials"
	"mydylms-backend/internal/db"
	"mydylms-backend/internal/documents"
	"mydylms-backend/internal/portal"
	"mydylms-backend/internal/server"
	"mydylms-backend/internal/session"
)

// App is every component of the gateway wired together.
type App struct {
	Config    Config
	DB        *sql.DB
	Cache     *cache.Cache
	Sessions  *session.Store
	Portal    *portal.Client
	Resolver  *credentials.Resolver
	Content   *content.Service
	Documents *documents.Pipeline
	Auth      *auth.Service
	Server    *server.Server
}

func newCacheBackend(cfg Config, database *sql.DB) (cache.Backend, error) {
	if cfg.CacheDir != "" {
		return cache.NewDirBackend(cfg.CacheDir)
	}
	return cache.NewSqliteBackend(database), nil
}

func New(cfg Config, clock chrono.API, tel telemetry.API) (*App, error) {
	database, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a, err := wire(cfg, database, clock, tel)
	if err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, database *sql.DB, clock chrono.API, tel telemetry.API) (*App, error) {
	backend, err := newCacheBackend(cfg, database)
	if err != nil {
		return nil, err
	}
	c := cache.New(backend, clock, tel)
	sessions := session.NewStore(database, tel, c)

	p, err := portal.NewClient(cfg.PortalOptions(), tel)
	if err != nil {
		return nil, err
	}

	resolver := credentials.NewResolver(p, sessions, tel)
	contentService := content.NewService(p, c, sessions, resolver, cfg.TTLs(), tel)
	pipeline := documents.NewPipeline(contentService, p, sessions, cfg.Policy(), tel)
	authService := auth.NewService(
		p, sessions, resolver, contentService,
		time.Duration(cfg.SessionCheckSeconds)*time.Second,
		tel,
	)
	sessions.OnClear(authService)

	return &App{
		Config:    cfg,
		DB:        database,
		Cache:     c,
		Sessions:  sessions,
		Portal:    p,
		Resolver:  resolver,
		Content:   contentService,
		Documents: pipeline,
		Auth:      authService,
		Server:    server.NewServer(authService, contentService, pipeline, tel),
	}, nil
}

func (a *App) Handler(logger *slog.Logger) http.Handler {
	return a.Server.Handler(logger)
}

// Serve blocks until ctx is done or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	err := serviceutil.StartHttpServer(ctx, a.Config.Listen, a.Handler(slog.Default()))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Close() error {
	return a.DB.Close()
}
