package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parley/pkg/banner"
	"parley/pkg/cache"
	"parley/pkg/telemetry"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	sources := "env + defaults"
	if a.fromFile {
		sources = "config file + env"
	}
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	actor := a.cfg.Actor.ID
	if a.cfg.Actor.Name != "" {
		actor += " (" + a.cfg.Actor.Name + ")"
	}
	banner.Print(a.cfg.Backend.URL, actor, a.cfg.Addr(), a.baseDir, sources, verStr)
}

// setupHTTPHandlers sets up the diagnostics handlers on the provided mux.
func (a *App) setupHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", a.readyzHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// readyzHandler reports whether the client is able to do useful work: the
// cache is open and the session has not been invalidated.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !cache.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"cache not ready"}`))
		return
	}
	if !a.sess.Valid() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"session invalidated"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startHTTP builds the handler, starts the listener in a goroutine and
// returns a channel that will carry any server error. The listener is
// loopback-only diagnostics; it carries no credential and no message data.
func (a *App) startHTTP(_ context.Context) <-chan error {
	mux := http.NewServeMux()
	a.setupHTTPHandlers(mux)

	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: telemetry.Middleware(mux)}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
