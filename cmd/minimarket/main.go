package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/stub"
	"parley/pkg/telemetry"
)

// minimarket is a self-contained marketplace backend for development and
// tests: the REST surface plus the websocket feed, all state in memory.

func main() {
	var addr string
	var accountsFlag string
	flag.StringVar(&addr, "addr", "127.0.0.1:8900", "listen address")
	flag.StringVar(&accountsFlag, "accounts", "", "comma-separated token=id:Name entries")
	flag.Parse()

	logger.Init()

	if accountsFlag == "" {
		accountsFlag = os.Getenv("MINIMARKET_ACCOUNTS")
	}
	accounts := parseAccounts(accountsFlag)
	if len(accounts) == 0 {
		accounts = map[string]models.Participant{
			"tok-ana": {ID: "u1", Name: "Ana"},
			"tok-bea": {ID: "u2", Name: "Bea"},
		}
		log.Printf("minimarket: no accounts configured, seeding tok-ana (u1) and tok-bea (u2)")
	}

	srv := &http.Server{Addr: addr, Handler: telemetry.Middleware(stub.New(accounts).Router())}

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		s := <-sigc
		log.Printf("signal received: %v, shutting down", s)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("minimarket listening on %s with %d account(s)", addr, len(accounts))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}

// parseAccounts reads "tok-ana=u1:Ana,tok-bea=u2:Bea" into the account map.
// The name part is optional.
func parseAccounts(s string) map[string]models.Participant {
	out := map[string]models.Participant{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, rest, ok := strings.Cut(entry, "=")
		if !ok || token == "" {
			log.Fatalf("bad account entry %q, want token=id:Name", entry)
		}
		id, name, _ := strings.Cut(rest, ":")
		if id == "" {
			log.Fatalf("bad account entry %q, want token=id:Name", entry)
		}
		out[token] = models.Participant{ID: id, Name: name}
	}
	return out
}
