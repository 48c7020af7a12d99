package main

import (
	"context"

	"github.com/joho/godotenv"

	"eventsnap/internal/app"
	"eventsnap/pkg/config"
	"eventsnap/pkg/logger"
	"eventsnap/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addr, db, cfgPath, setFlags := config.ParseCommandFlags()

	eff, err := config.Resolve(addr, db, cfgPath, setFlags)
	if err != nil {
		logger.Init()
		shutdown.Abort("failed to resolve config", err, db)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize server", err, eff.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited with error", err, eff.DBPath)
	}
}
