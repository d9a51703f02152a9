package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"parley/pkg/api"
	"parley/pkg/cache"
	"parley/pkg/config"
	"parley/pkg/directory"
	"parley/pkg/feed"
	"parley/pkg/httpx"
	"parley/pkg/logger"
	"parley/pkg/presence"
	"parley/pkg/session"
	"parley/pkg/state"
	"parley/pkg/store"
)

// App encapsulates the client components and their lifecycle: the session,
// the backend client, the per-conversation stores, the live feed and the
// local diagnostics listener.
type App struct {
	cfg       *config.Config
	fromFile  bool
	baseDir   string
	version   string
	commit    string
	buildDate string

	sess     *session.Session
	client   *api.Client
	stores   *store.Manager
	dir      *directory.Directory
	overlay  *presence.Tracker
	notifier *presence.Notifier
	feed     *feed.Feed

	srv         *http.Server
	stopJanitor context.CancelFunc
}

// New initializes everything that does not require a running context: state
// dirs, log sink, cache, session and the backend client. It does not open
// the feed or the local listener; call Run to start those and block until
// shutdown.
func New(cfg *config.Config, fromFile bool, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir := state.DefaultBaseDir()
	if err := state.EnsureStateDirs(baseDir); err != nil {
		return nil, fmt.Errorf("state dirs under %s: %w", baseDir, err)
	}

	logger.InitWithLevel(cfg.Logging.Level)
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = state.LogDir(baseDir)
	}
	if err := logger.AttachFileSink(logDir, cfg.Logging.MaxFileSize.Int64()); err != nil {
		// keep running on stderr only
		logger.Warn("log_sink_unavailable", "dir", logDir, "error", err)
	}

	cacheDir := cfg.Cache.Dir
	if cacheDir == "" {
		cacheDir = state.CacheDir(baseDir)
	}
	if err := cache.Open(cacheDir); err != nil {
		return nil, fmt.Errorf("open cache at %s: %w", cacheDir, err)
	}

	token, err := cfg.Token()
	if err != nil {
		return nil, err
	}
	sess := session.New(token, session.Actor{ID: cfg.Actor.ID, Name: cfg.Actor.Name})

	doer, err := httpx.New(cfg.Backend.Transport, cfg.Backend.Timeout.Duration())
	if err != nil {
		return nil, err
	}
	client, err := api.New(cfg.Backend.URL, doer, sess)
	if err != nil {
		return nil, err
	}

	stores := store.NewManager(cfg.Cache.TTL.Duration())
	dir := directory.New(client, cfg.Actor.ID)
	overlay := presence.NewTracker(cfg.Presence.TypingTTL.Duration())

	fd, err := feed.New(cfg.WSEndpoint(), sess, cfg.Actor.ID, stores, overlay)
	if err != nil {
		return nil, fmt.Errorf("feed endpoint: %w", err)
	}
	notifier := presence.NewNotifier(cfg.Presence.TypingInterval.Duration(), fd.SendTyping)

	return &App{
		cfg:       cfg,
		fromFile:  fromFile,
		baseDir:   baseDir,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		sess:      sess,
		client:    client,
		stores:    stores,
		dir:       dir,
		overlay:   overlay,
		notifier:  notifier,
		feed:      fd,
	}, nil
}

// Run starts the cache janitor, the local diagnostics listener and the feed,
// and blocks until ctx is canceled, the listener fails, or the session is
// invalidated.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	stop, err := cache.StartJanitor(ctx, a.cfg.Cache.JanitorCron, a.cfg.Cache.TTL.Duration())
	if err != nil {
		return fmt.Errorf("cache janitor: %w", err)
	}
	a.stopJanitor = stop

	errCh := a.startHTTP(ctx)

	feedErr := make(chan error, 1)
	go func() { feedErr <- a.feed.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("local listener: %w", err)
	case err := <-feedErr:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// Close releases resources in reverse start order. Safe to call after a
// failed Run.
func (a *App) Close() {
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.srv.Shutdown(shutdownCtx)
		cancel()
	}
	if a.stopJanitor != nil {
		a.stopJanitor()
	}
	if err := cache.Close(); err != nil {
		logger.Warn("cache_close_failed", "error", err)
	}
	logger.Sync()
}

// Session exposes the live session so callers can report why a run ended.
func (a *App) Session() *session.Session { return a.sess }
