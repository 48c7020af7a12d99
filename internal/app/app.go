// Package app assembles the server: config, store, chat service, HTTP
// surface and the typing sweeper, with a single lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"eventsnap/internal/sweeper"
	"eventsnap/pkg/chat"
	"eventsnap/pkg/config"
	"eventsnap/pkg/logger"
	"eventsnap/pkg/tree"
	"eventsnap/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.Effective
	version   string
	commit    string
	buildDate string

	store *tree.Store
	svc   *chat.Service

	srv *http.Server
}

// New validates the effective config and opens the store and chat
// service. It does not start the HTTP server or the sweeper; call Run to
// start those and block until shutdown.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	store, err := tree.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", eff.DBPath, err)
	}

	svc := chat.NewService(store, chat.Options{
		PageSize:  eff.Config.Chat.PageSize,
		TypingTTL: eff.Config.TypingTTL(),
		Limits:    chatLimits(eff),
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     store,
		svc:       svc,
	}, nil
}

// Service exposes the chat core, mainly for tests.
func (a *App) Service() *chat.Service { return a.svc }

// Run starts the sweeper (if enabled) and the HTTP server and blocks
// until ctx is canceled or a fatal server error occurs. Resources are
// torn down before returning.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	if a.eff.Config.Sweep.Enabled {
		stop, err := sweeper.Start(ctx, a.store, sweeper.Options{
			Cron:      a.eff.Config.Sweep.Cron,
			TypingTTL: a.eff.Config.TypingTTL(),
		})
		if err != nil {
			return err
		}
		defer stop()
	}

	a.logStartup()
	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		defer cancel()
		_ = a.srv.Shutdown(ctx)
	}
	a.svc.Close()
	if err := a.store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("server_stopped")
}

func (a *App) logStartup() {
	ver := a.version
	if a.commit != "none" && a.commit != "" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		ver += " @ " + a.buildDate
	}
	logger.Info("server_starting",
		"version", ver,
		"addr", a.eff.Addr,
		"db", a.eff.DBPath,
		"sources", a.eff.Sources,
		"sweep", a.eff.Config.Sweep.Enabled,
	)
}

func chatLimits(eff config.Effective) validation.Limits {
	lim := validation.DefaultLimits()
	if v := eff.Config.Chat.MaxTextLen; v > 0 {
		lim.MaxText = v
	}
	if v := eff.Config.Chat.MaxImageRefLen; v > 0 {
		lim.MaxImageRef = v
	}
	if v := eff.Config.Chat.MaxSystemLen; v > 0 {
		lim.MaxSystem = v
	}
	return lim
}
