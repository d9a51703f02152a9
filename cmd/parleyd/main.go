package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"

	"parley/internal/app"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/session"
	"parley/pkg/shutdown"
	"parley/pkg/state"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	backendVal, cacheVal, addrVal, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, fromFile, err := config.LoadEffective(cfgPath)
	if err != nil {
		shutdown.Abort("load config", err, state.DefaultBaseDir(), 0)
	}

	// explicit flags win over config file and env
	if setFlags["backend"] {
		cfg.Backend.URL = backendVal
	}
	if setFlags["cache"] {
		cfg.Cache.Dir = cacheVal
	}
	if setFlags["addr"] {
		cfg.SetAddr(addrVal)
	}

	a, err := app.New(cfg, fromFile, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup", err, state.DefaultBaseDir(), 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)
	a.Close()

	if runErr == nil {
		return
	}
	if errors.Is(runErr, session.ErrInvalidated) {
		// not a crash: the backend rejected the credential or closed the
		// feed on policy. Record why and exit nonzero so a supervisor
		// does not blindly restart with the same token.
		reason := "unknown"
		if inv, ok := a.Session().Invalidation(); ok {
			reason = inv.Reason
		}
		logger.Error("session_invalidated_exit", "reason", reason)
		if _, err := shutdown.RequestExitFile(state.DefaultBaseDir(), "session invalidated: "+reason); err != nil {
			logger.Warn("exit_request_write_failed", "error", err)
		}
		logger.Sync()
		os.Exit(3)
	}
	shutdown.Abort("runtime", runErr, state.DefaultBaseDir())
}
